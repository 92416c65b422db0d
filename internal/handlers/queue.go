package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/admission"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/logging"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/models"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/store"
)

// QueueEngine is the queue behaviour the HTTP layer drives.
type QueueEngine interface {
	Submit(ctx context.Context, key domain.EventKey, c admission.Candidate, performedBy string) (admission.Decision, *domain.Entry, error)
	Advance(ctx context.Context, key domain.EventKey, performedBy string) error
	Skip(ctx context.Context, key domain.EventKey, id, performedBy string) error
	Cancel(ctx context.Context, key domain.EventKey, id, performedBy string) error
	Prioritize(ctx context.Context, key domain.EventKey, id, performedBy string) error
	Complete(ctx context.Context, key domain.EventKey, id, performedBy string) error
	AttachVideo(ctx context.Context, key domain.EventKey, id string, video domain.Video, performedBy string) error
	Snapshot(ctx context.Context, key domain.EventKey) (domain.Snapshot, error)
	Position(ctx context.Context, key domain.EventKey, id string) (domain.QueueItem, error)
}

// QueueRecords is the read side the queue handlers need beyond the engine.
type QueueRecords interface {
	Settings(ctx context.Context, orgID string) (domain.Settings, error)
	ListAudit(ctx context.Context, key domain.EventKey, limit int) ([]domain.AuditRecord, error)
}

// QueueHandler serves song submission and queue operations.
type QueueHandler struct {
	engine  QueueEngine
	records QueueRecords
}

func NewQueueHandler(engine QueueEngine, records QueueRecords) *QueueHandler {
	return &QueueHandler{engine: engine, records: records}
}

// Submit runs admission on a song request and queues it when admitted.
func (h *QueueHandler) Submit(w http.ResponseWriter, r *http.Request) {
	key := eventKey(r)

	var req models.SubmitSongRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	decision, entry, err := h.engine.Submit(r.Context(), key, req.Candidate(), performedBy(r))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to submit request")
		return
	}

	if !decision.IsAdmitted() {
		status := http.StatusUnprocessableEntity
		var field string
		if decision.Reason == admission.ReasonInvalidInput {
			status = http.StatusBadRequest
			if verr := admission.Validate(req.Candidate()); verr != nil {
				field = verr.Field
			}
		}
		writeJSON(w, status, models.RejectionResponse{
			Error:   "request rejected",
			Reason:  decision.Reason,
			Message: decision.Message,
			Field:   field,
		})
		return
	}

	writeJSON(w, http.StatusCreated, models.SubmitSongResponse{Entry: *entry, Decision: decision})
}

// Snapshot returns the current state of an event queue.
func (h *QueueHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context(), eventKey(r))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load queue")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Position returns one entry's status and place in line.
func (h *QueueHandler) Position(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.Position(r.Context(), eventKey(r), chi.URLParam(r, "entryID"))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load entry")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Advance moves the queue forward one singer.
func (h *QueueHandler) Advance(w http.ResponseWriter, r *http.Request) {
	key := eventKey(r)
	if err := h.engine.Advance(r.Context(), key, performedBy(r)); err != nil {
		writeDomainError(r.Context(), w, err, "failed to advance queue")
		return
	}
	h.writeSnapshot(w, r, key)
}

func (h *QueueHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.engine.Skip, "failed to skip entry")
}

func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.engine.Cancel, "failed to cancel entry")
}

func (h *QueueHandler) Prioritize(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.engine.Prioritize, "failed to prioritize entry")
}

// Complete ends the current singer's turn and, when the organization has
// auto advance enabled, brings up the next singer. The completion stands even
// if the advance fails; the response is the queue as it is afterwards.
func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	key := eventKey(r)
	if err := h.engine.Complete(r.Context(), key, chi.URLParam(r, "entryID"), performedBy(r)); err != nil {
		writeDomainError(r.Context(), w, err, "failed to complete entry")
		return
	}

	settings, err := h.records.Settings(r.Context(), key.OrganizationID)
	if err != nil {
		slog.WarnContext(r.Context(), "skipping auto advance",
			append(logging.RequestFields(r.Context()), slog.Any("error", err))...)
	} else if settings.AutoAdvance {
		if err := h.engine.Advance(r.Context(), key, performedBy(r)); err != nil {
			slog.ErrorContext(r.Context(), "auto advance failed",
				append(logging.RequestFields(r.Context()),
					slog.String("event", key.String()),
					slog.Any("error", logging.WrapError(err, "auto advance")))...)
		}
	}
	h.writeSnapshot(w, r, key)
}

// AttachVideo stores matched video metadata on an entry.
func (h *QueueHandler) AttachVideo(w http.ResponseWriter, r *http.Request) {
	key := eventKey(r)

	var req models.AttachVideoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}

	video := domain.Video{ID: req.ID, ExternalID: req.ExternalID, Title: req.Title, Embeddable: req.Embeddable}
	if err := h.engine.AttachVideo(r.Context(), key, chi.URLParam(r, "entryID"), video, performedBy(r)); err != nil {
		writeDomainError(r.Context(), w, err, "failed to attach video")
		return
	}
	h.writeSnapshot(w, r, key)
}

// Audit lists recent queue operations for an event, newest first.
func (h *QueueHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.records.ListAudit(r.Context(), eventKey(r), limit)
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load audit log")
		return
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, models.AuditResponse{Entries: records})
}

type entryOp func(ctx context.Context, key domain.EventKey, id, performedBy string) error

func (h *QueueHandler) entryAction(w http.ResponseWriter, r *http.Request, op entryOp, failure string) {
	key := eventKey(r)
	if err := op(r.Context(), key, chi.URLParam(r, "entryID"), performedBy(r)); err != nil {
		writeDomainError(r.Context(), w, err, failure)
		return
	}
	h.writeSnapshot(w, r, key)
}

// writeSnapshot answers an operator action with the resulting queue.
func (h *QueueHandler) writeSnapshot(w http.ResponseWriter, r *http.Request, key domain.EventKey) {
	snap, err := h.engine.Snapshot(r.Context(), key)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to load queue", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
