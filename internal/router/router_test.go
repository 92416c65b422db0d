package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/config"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/middleware"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/services"
)

func newTestRouter(t *testing.T) (http.Handler, *services.AuthService) {
	t.Helper()
	cfg := &config.Config{
		CORSAllowedOrigins: []string{"http://localhost:5173"},
	}
	auth := services.NewAuthService("router-secret", time.Hour)
	return New(cfg, Deps{
		Auth:        auth,
		RateLimiter: middleware.NewRateLimiter(10),
	}), auth
}

func TestRouter_PublicEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK, `"status":"ok"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
		{"tunnel disabled", http.MethodPost, "/api/monitoring", http.StatusNotFound, ""},
		{"unknown route", http.MethodGet, "/api/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRouter_ProtectedEndpoints(t *testing.T) {
	r, auth := newTestRouter(t)
	viewer, err := auth.GenerateToken("org-1", "v-1", "", services.RoleViewer)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	otherOrg, err := auth.GenerateToken("org-2", "dj-2", "", services.RoleOperator)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"advance without token", http.MethodPost, "/api/orgs/org-1/events/E1/advance", "", http.StatusUnauthorized},
		{"skip without token", http.MethodPost, "/api/orgs/org-1/events/E1/entries/x/skip", "", http.StatusUnauthorized},
		{"audit other org", http.MethodGet, "/api/orgs/org-1/events/E1/audit", otherOrg, http.StatusForbidden},
		{"settings as viewer", http.MethodPut, "/api/orgs/org-1/settings", viewer, http.StatusForbidden},
		{"blacklist other org", http.MethodGet, "/api/orgs/org-1/blacklist", otherOrg, http.StatusForbidden},
		{"broadcast as viewer", http.MethodPost, "/api/broadcast", viewer, http.StatusForbidden},
		{"broadcast without token", http.MethodPost, "/api/broadcast", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/orgs/org-1/events/E1/requests", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:5173", got)
	}
}
