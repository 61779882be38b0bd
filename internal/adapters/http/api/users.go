package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	service "github.com/okian/tempo/internal/app"
	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
)

// UsersDependencies defines the interface for player profile operations.
type UsersDependencies interface {
	UpdateProfile(ctx context.Context, playerID string, update service.ProfileUpdate) (model.Player, error)
	IncrementCredits(ctx context.Context, playerID string) (uint32, error)
	PlayOptions(ctx context.Context, playerID string) (model.PlayOptions, error)
	SavePlayOptions(ctx context.Context, playerID string, noteSpeed float64, judgmentOffset int32) (model.PlayOptions, error)
}

// UsersHandler handles profile, credit and play option requests.
type UsersHandler struct {
	deps UsersDependencies
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps UsersDependencies) *UsersHandler {
	return &UsersHandler{deps: deps}
}

// updateProfileRequest is the POST /users/{userId} body. Both fields are required.
type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	IsPublic    *bool   `json:"isPublic"`
}

// playOptionsRequest is the POST /users/{userId}/options body. Both fields are required.
type playOptionsRequest struct {
	NoteSpeed      *float64 `json:"noteSpeed"`
	JudgmentOffset *int32   `json:"judgmentOffset"`
}

type creditsResponse struct {
	Credits uint32 `json:"credits"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func toProfile(p model.Player) types.Profile {
	return types.Profile{
		PlayerID:    p.ID,
		DisplayName: p.DisplayName,
		XP:          p.XP,
		Rating:      p.Rating,
		Credits:     p.Credits,
		IsPublic:    p.IsPublic,
		CreatedAt:   p.CreatedAt.UTC().Truncate(time.Millisecond),
	}
}

// HandleUpdateProfile handles POST /users/{userId}.
func (h *UsersHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_profile"
	var req updateProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.DisplayName == nil || req.IsPublic == nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("displayName and isPublic are required")))
		return
	}

	player, err := h.deps.UpdateProfile(r.Context(), mux.Vars(r)["userId"], service.ProfileUpdate{
		DisplayName: *req.DisplayName,
		IsPublic:    *req.IsPublic,
	})
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toProfile(player))
}

// HandleIncrementCredits handles POST /users/{userId}/credits/increment.
func (h *UsersHandler) HandleIncrementCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.deps.IncrementCredits(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, r, Wrap("api.increment_credits", err))
		return
	}
	writeJSON(w, http.StatusOK, creditsResponse{Credits: credits})
}

// HandleGetOptions handles GET /users/{userId}/options.
func (h *UsersHandler) HandleGetOptions(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.PlayOptions(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, r, Wrap("api.get_options", err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// HandleSaveOptions handles POST /users/{userId}/options.
func (h *UsersHandler) HandleSaveOptions(w http.ResponseWriter, r *http.Request) {
	const op = "api.save_options"
	var req playOptionsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.NoteSpeed == nil || req.JudgmentOffset == nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("noteSpeed and judgmentOffset are required")))
		return
	}

	o, err := h.deps.SavePlayOptions(r.Context(), mux.Vars(r)["userId"], *req.NoteSpeed, *req.JudgmentOffset)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}
