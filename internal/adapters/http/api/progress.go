package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/okian/tempo/internal/domain/types"
)

// ProgressDependencies defines the interface for player progress lookups.
type ProgressDependencies interface {
	Progress(ctx context.Context, playerID string) (types.Progress, error)
}

// ProgressHandler handles progress requests.
type ProgressHandler struct {
	deps ProgressDependencies
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(deps ProgressDependencies) *ProgressHandler {
	return &ProgressHandler{deps: deps}
}

// HandleGetProgress handles GET /users/{userId}/progress.
func (h *ProgressHandler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.deps.Progress(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, r, Wrap("api.get_progress", err))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
