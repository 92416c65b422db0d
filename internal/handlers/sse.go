package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/hub"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/logging"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/middleware"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/models"
)

const sseWriteTimeout = 10 * time.Second

// LiveHub registers live update subscribers.
type LiveHub interface {
	Subscribe(ctx context.Context, key domain.EventKey) (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
}

// Broadcaster pushes an update to every subscriber of an event right away.
type Broadcaster interface {
	Broadcast(ctx context.Context, key domain.EventKey, updateType string, data any) (int, error)
}

// SSEHandler serves Server-Sent Events streams of queue updates.
type SSEHandler struct {
	hub         LiveHub
	broadcaster Broadcaster
}

// NewSSEHandler creates an SSEHandler backed by the given hub.
func NewSSEHandler(h LiveHub, b Broadcaster) *SSEHandler {
	return &SSEHandler{hub: h, broadcaster: b}
}

// Stream opens an SSE connection scoped to one event. The hub queues a
// "connected" message and the current snapshot; after that every queue
// change and heartbeat is written as a data line. A client that cannot take
// a write within the timeout is disconnected.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	key := eventKey(r)

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := h.hub.Subscribe(r.Context(), key)
	if errors.Is(err, hub.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to open stream", err)
		return
	}
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case payload := <-sub.Messages():
			if err := writeEvent(rc, w, payload); err != nil {
				slog.DebugContext(ctx, "stream closed",
					slog.String("event", key.String()),
					slog.Any("error", err))
				return
			}
			sub.Delivered()
		}
	}
}

func writeEvent(rc *http.ResponseController, w http.ResponseWriter, payload []byte) error {
	// recorders and some proxies cannot set deadlines; the write still proceeds
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return rc.Flush()
}

// Broadcast lets an operator push an update to an event's subscribers.
// Without data the current snapshot is sent.
func (h *SSEHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.EventCode = strings.TrimSpace(req.EventCode)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	if req.EventCode == "" || req.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "event_code and organization_id are required")
		return
	}

	claims := middleware.GetClaims(r.Context())
	if claims == nil || claims.OrganizationID != req.OrganizationID {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventOrgMismatch, "broadcast to another organization")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	var data any
	if raw := bytes.TrimSpace(req.Data); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		data = req.Data
	}

	key := domain.EventKey{OrganizationID: req.OrganizationID, EventCode: req.EventCode}
	n, err := h.broadcaster.Broadcast(r.Context(), key, req.UpdateType, data)
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to broadcast")
		return
	}
	writeJSON(w, http.StatusOK, models.BroadcastResponse{Success: true, Delivered: n})
}
