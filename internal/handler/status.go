package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/httputil"
	"github.com/p2deal/dealbot/internal/registry"
	"github.com/p2deal/dealbot/internal/repository"
)

// StatusHandler exposes operational counters: in-flight registry state
// and persisted totals.
type StatusHandler struct {
	registry  *registry.Registry
	merchants repository.MerchantRepository
	listings  repository.ListingRepository
	startedAt time.Time
}

func NewStatusHandler(reg *registry.Registry, merchants repository.MerchantRepository, listings repository.ListingRepository) *StatusHandler {
	return &StatusHandler{
		registry:  reg,
		merchants: merchants,
		listings:  listings,
		startedAt: time.Now(),
	}
}

func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Status)
	return r
}

// GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	drafts, approvals := h.registry.Counts()

	listingCount, err := h.listings.Count(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("listing count failed")
		httputil.WriteError(w, err)
		return
	}
	merchantCount, err := h.merchants.Count(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("merchant count failed")
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds":     int(time.Since(h.startedAt).Seconds()),
		"draftsInProgress":  drafts,
		"awaitingApproval":  approvals,
		"publishedListings": listingCount,
		"merchants":         merchantCount,
	})
}
