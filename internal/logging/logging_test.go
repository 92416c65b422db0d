package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestDecodeLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := decodeLogLevel(tt.in); got != tt.want {
			t.Errorf("decodeLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandler_ErrorsCarryTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))

	logger.Error("write failed", slog.Any("error", WrapError(errors.New("disk full"), "insert entry")))

	rec := decodeLine(t, &buf)
	errField, ok := rec["error"].(map[string]any)
	if !ok {
		t.Fatalf("error field = %T, want object", rec["error"])
	}
	if msg, _ := errField["msg"].(string); msg == "" {
		t.Error("error.msg is empty")
	}
	if _, ok := errField["trace"]; !ok {
		t.Error("error.trace missing")
	}
}

func TestWrapError_Nil(t *testing.T) {
	if err := WrapError(nil, "noop"); err != nil {
		t.Errorf("WrapError(nil) = %v, want nil", err)
	}
}

func TestRequestFields(t *testing.T) {
	if fields := RequestFields(context.Background()); fields != nil {
		t.Errorf("RequestFields() without attrs = %v, want nil", fields)
	}

	ctx := WithRequestAttrs(context.Background(), &RequestAttrs{Method: "POST", Path: "/x", IP: "10.0.0.1"})
	if got := len(RequestFields(ctx)); got != 3 {
		t.Errorf("len(RequestFields()) = %d, want 3", got)
	}

	ctx = UpdateRequestAttrs(ctx, "org-1", "dj@example.com", "operator")
	attrs := GetRequestAttrs(ctx)
	if attrs.Method != "POST" || attrs.OrganizationID != "org-1" || attrs.Role != "operator" {
		t.Errorf("UpdateRequestAttrs() = %+v", attrs)
	}
	if got := len(RequestFields(ctx)); got != 6 {
		t.Errorf("len(RequestFields()) = %d, want 6", got)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		realIP string
		want   string
	}{
		{"ipv4 with port", "192.0.2.7:5123", "", "192.0.2.7"},
		{"ipv6 with port", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"real ip header wins", "10.0.0.2:80", "203.0.113.9", "203.0.113.9"},
		{"unparseable", "pipe", "", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ExtractClientIP(r); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
