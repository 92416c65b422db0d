package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/middleware"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/models"
)

// RuleStore is the storage behind the admission rule endpoints.
type RuleStore interface {
	ListBlacklist(ctx context.Context, orgID string) ([]domain.BlacklistEntry, error)
	AddBlacklist(ctx context.Context, b domain.BlacklistEntry) (domain.BlacklistEntry, error)
	DeleteBlacklist(ctx context.Context, orgID, id string) error

	ListPricingRules(ctx context.Context, orgID string) ([]domain.PricingRule, error)
	UpsertPricingRule(ctx context.Context, r domain.PricingRule) (domain.PricingRule, error)
	DeletePricingRule(ctx context.Context, orgID, id string) error

	DuplicateRule(ctx context.Context, orgID string) (domain.DuplicateRule, error)
	SaveDuplicateRule(ctx context.Context, r domain.DuplicateRule) (domain.DuplicateRule, error)

	Settings(ctx context.Context, orgID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, s domain.Settings) (domain.Settings, error)

	ListLibrary(ctx context.Context, orgID string) ([]domain.LibrarySong, error)
	AddLibrarySong(ctx context.Context, l domain.LibrarySong) (domain.LibrarySong, error)
	DeleteLibrarySong(ctx context.Context, orgID, id string) error
}

// RulesHandler serves the per-organization admission configuration.
type RulesHandler struct {
	store RuleStore
}

func NewRulesHandler(store RuleStore) *RulesHandler {
	return &RulesHandler{store: store}
}

func orgID(r *http.Request) string {
	return chi.URLParam(r, middleware.OrgParam)
}

func validSong(w http.ResponseWriter, title, artist string) bool {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(artist) == "" {
		writeError(w, http.StatusBadRequest, "song_title and song_artist are required")
		return false
	}
	return true
}

// Blacklist

func (h *RulesHandler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListBlacklist(r.Context(), orgID(r))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load blacklist")
		return
	}
	if list == nil {
		list = []domain.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *RulesHandler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req models.SongRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validSong(w, req.SongTitle, req.SongArtist) {
		return
	}

	entry, err := h.store.AddBlacklist(r.Context(), domain.BlacklistEntry{
		OrganizationID: orgID(r),
		SongTitle:      strings.TrimSpace(req.SongTitle),
		SongArtist:     strings.TrimSpace(req.SongArtist),
		Reason:         req.Reason,
		CreatedBy:      performedBy(r),
	})
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to add to blacklist")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *RulesHandler) DeleteBlacklist(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteBlacklist(r.Context(), orgID(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(r.Context(), w, err, "failed to delete blacklist entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pricing rules

func (h *RulesHandler) ListPricingRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListPricingRules(r.Context(), orgID(r))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load pricing rules")
		return
	}
	if list == nil {
		list = []domain.PricingRule{}
	}
	writeJSON(w, http.StatusOK, list)
}

// UpsertPricingRule creates or replaces the rule for one song. Both tiers
// are covered unless the request says otherwise.
func (h *RulesHandler) UpsertPricingRule(w http.ResponseWriter, r *http.Request) {
	var req models.PricingRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validSong(w, req.SongTitle, req.SongArtist) {
		return
	}
	if req.CustomPriceCents == nil || *req.CustomPriceCents < domain.PriceDeny {
		writeError(w, http.StatusBadRequest, "custom_price_cents must be -1 (deny), 0 (free) or a positive price")
		return
	}

	rule := domain.PricingRule{
		OrganizationID:     orgID(r),
		SongTitle:          strings.TrimSpace(req.SongTitle),
		SongArtist:         strings.TrimSpace(req.SongArtist),
		CustomPriceCents:   *req.CustomPriceCents,
		AppliesToFastTrack: true,
		AppliesToRegular:   true,
		Notes:              req.Notes,
	}
	if req.AppliesToFastTrack != nil {
		rule.AppliesToFastTrack = *req.AppliesToFastTrack
	}
	if req.AppliesToRegular != nil {
		rule.AppliesToRegular = *req.AppliesToRegular
	}

	saved, err := h.store.UpsertPricingRule(r.Context(), rule)
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to save pricing rule")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *RulesHandler) DeletePricingRule(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeletePricingRule(r.Context(), orgID(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(r.Context(), w, err, "failed to delete pricing rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Duplicate rule

func (h *RulesHandler) GetDuplicateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.DuplicateRule(r.Context(), orgID(r))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load duplicate rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RulesHandler) PutDuplicateRule(w http.ResponseWriter, r *http.Request) {
	rule := domain.DefaultDuplicateRule(orgID(r))
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.OrganizationID = orgID(r)

	switch {
	case !rule.DuplicateAction.Valid():
		writeError(w, http.StatusBadRequest, "duplicate_action must be reject, premium_price or allow")
		return
	case rule.TimeWindowMinutes < 0:
		writeError(w, http.StatusBadRequest, "duplicate_time_window_minutes must not be negative")
		return
	case rule.PremiumMultiplier != nil && *rule.PremiumMultiplier <= 0:
		writeError(w, http.StatusBadRequest, "duplicate_premium_multiplier must be positive")
		return
	case rule.PremiumFixedCents != nil && *rule.PremiumFixedCents < 0:
		writeError(w, http.StatusBadRequest, "duplicate_premium_fixed_cents must not be negative")
		return
	}

	saved, err := h.store.SaveDuplicateRule(r.Context(), rule)
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to save duplicate rule")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Settings

func (h *RulesHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Settings(r.Context(), orgID(r))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *RulesHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	settings := domain.DefaultSettings(orgID(r))
	if !decodeJSON(w, r, &settings) {
		return
	}
	settings.OrganizationID = orgID(r)

	switch {
	case settings.RegularPriceCents < 0 || settings.FastTrackPriceCents < 0:
		writeError(w, http.StatusBadRequest, "prices must not be negative")
		return
	case !settings.LibraryAction.Valid():
		writeError(w, http.StatusBadRequest, "library_action must be reject, premium_price or allow")
		return
	case settings.LibraryPremiumMultiplier != nil && *settings.LibraryPremiumMultiplier <= 0:
		writeError(w, http.StatusBadRequest, "library_premium_multiplier must be positive")
		return
	case settings.LibraryPremiumFixedCents != nil && *settings.LibraryPremiumFixedCents < 0:
		writeError(w, http.StatusBadRequest, "library_premium_fixed_cents must not be negative")
		return
	}

	saved, err := h.store.SaveSettings(r.Context(), settings)
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Music library

func (h *RulesHandler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListLibrary(r.Context(), orgID(r))
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to load library")
		return
	}
	if list == nil {
		list = []domain.LibrarySong{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *RulesHandler) AddLibrarySong(w http.ResponseWriter, r *http.Request) {
	var req models.SongRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validSong(w, req.SongTitle, req.SongArtist) {
		return
	}

	song, err := h.store.AddLibrarySong(r.Context(), domain.LibrarySong{
		OrganizationID: orgID(r),
		SongTitle:      strings.TrimSpace(req.SongTitle),
		SongArtist:     strings.TrimSpace(req.SongArtist),
	})
	if err != nil {
		writeDomainError(r.Context(), w, err, "failed to add library song")
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

func (h *RulesHandler) DeleteLibrarySong(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteLibrarySong(r.Context(), orgID(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(r.Context(), w, err, "failed to delete library song")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
