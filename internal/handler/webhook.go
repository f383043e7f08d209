package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/httputil"
	"github.com/p2deal/dealbot/internal/service"
	"github.com/p2deal/dealbot/internal/transport"
)

// WebhookHandler receives message envelopes from the gateway, decodes
// them, and hands them to the dispatcher queue. It never does pipeline
// work inline; the gateway expects a fast ack.
type WebhookHandler struct {
	dispatcher *service.Dispatcher
}

func NewWebhookHandler(dispatcher *service.Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/messages", h.Receive)
	return r
}

// POST /webhook/messages
// Accepts one gateway envelope. Undecodable payloads are acked and
// dropped: the agent never replies to traffic it cannot parse.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var envelope transport.Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		log.Debug().Err(err).Msg("undecodable webhook body, dropping")
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	msg, err := envelope.ToMessage()
	if err != nil {
		log.Debug().Err(err).Str("envelopeId", envelope.ID).Msg("unrecognized envelope shape, dropping")
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	if !h.dispatcher.Enqueue(*msg) {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "overloaded"})
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
