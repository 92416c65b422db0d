package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/logging"
)

const maxEnvelopeBytes = 1 << 20

// SentryTunnelHandler forwards error envelopes from the attendee and stage
// pages to Sentry, so browsers never talk to the ingest host directly.
type SentryTunnelHandler struct {
	dsn    string
	client *http.Client
}

// NewSentryTunnelHandler creates a tunnel that accepts envelopes for dsn
// only. An empty dsn disables the tunnel.
func NewSentryTunnelHandler(dsn string) *SentryTunnelHandler {
	return &SentryTunnelHandler{dsn: dsn, client: &http.Client{Timeout: 10 * time.Second}}
}

// Tunnel validates the DSN in the envelope header line and posts the
// envelope to the project's ingest endpoint.
func (h *SentryTunnelHandler) Tunnel(w http.ResponseWriter, r *http.Request) {
	if h.dsn == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	headerLine, _, _ := bytes.Cut(body, []byte("\n"))
	var header struct {
		DSN string `json:"dsn"`
	}
	if err := json.Unmarshal(headerLine, &header); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if header.DSN != h.dsn {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ingest, err := envelopeURL(header.DSN)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, ingest, bytes.NewReader(body))
	if err != nil {
		logging.LogErrorWithStatus(r.Context(), http.StatusInternalServerError, "build sentry tunnel request", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")

	resp, err := h.client.Do(req)
	if err != nil {
		logging.LogErrorWithStatus(r.Context(), http.StatusBadGateway, "forward sentry envelope", err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.WriteHeader(resp.StatusCode)
}

// envelopeURL maps a DSN of the form scheme://key@host/project to the
// project's envelope endpoint.
func envelopeURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	project := strings.Trim(u.Path, "/")
	if u.Host == "" || project == "" {
		return "", errors.New("dsn has no host or project")
	}
	ingest := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/api/" + project + "/envelope/"}
	return ingest.String(), nil
}
