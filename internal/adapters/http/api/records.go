package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/okian/tempo/internal/domain/model"
)

const (
	idempotencyKeyHeader     = "Idempotency-Key"
	idempotentReplayedHeader = "Idempotent-Replayed"
)

// RecordsDependencies defines the interface for record operations.
type RecordsDependencies interface {
	SubmitOnce(ctx context.Context, playerID, key string, subs []model.Submission) ([]model.Record, bool, error)
	ListRecords(ctx context.Context, playerID string) ([]model.Record, error)
}

// RecordsHandler handles record submission and listing.
type RecordsHandler struct {
	deps         RecordsDependencies
	maxBatchSize int
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(deps RecordsDependencies, maxBatchSize int) *RecordsHandler {
	return &RecordsHandler{deps: deps, maxBatchSize: maxBatchSize}
}

// submissionRequest mirrors one item of the POST /users/{userId}/records body.
type submissionRequest struct {
	SheetID   string           `json:"sheetId"`
	Score     uint32           `json:"score"`
	ClearType model.ClearGrade `json:"clearType"`
}

func (s submissionRequest) validate() error {
	switch {
	case strings.TrimSpace(s.SheetID) == "":
		return fmt.Errorf("missing sheetId")
	case !s.ClearType.Valid():
		return fmt.Errorf("%w: %q", model.ErrUnknownGrade, s.ClearType)
	}
	return nil
}

// HandleSubmit handles POST /users/{userId}/records.
func (h *RecordsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_records"
	playerID := mux.Vars(r)["userId"]

	var req []submissionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req) > h.maxBatchSize {
		writeError(w, r, WrapKind(op, ErrBatchTooLarge, fmt.Errorf("%d > %d", len(req), h.maxBatchSize)))
		return
	}

	subs := make([]model.Submission, len(req))
	for i, item := range req {
		if err := item.validate(); err != nil {
			writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("item %d: %w", i, err)))
			return
		}
		subs[i] = model.Submission{ChartID: item.SheetID, Score: item.Score, Grade: item.ClearType}
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	records, replayed, err := h.deps.SubmitOnce(r.Context(), playerID, key, subs)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	if replayed {
		w.Header().Set(idempotentReplayedHeader, "true")
	}
	writeJSON(w, http.StatusOK, toRecordJSON(records))
}

// HandleList handles GET /users/{userId}/records.
func (h *RecordsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_records"
	records, err := h.deps.ListRecords(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(records))
}
