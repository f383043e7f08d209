// Package audit emits a structured trail of deal lifecycle events,
// separate from operational logs so marketplace activity can be
// filtered and counted downstream.
package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventDraftPosted       EventType = "draft_posted"
	EventDraftCancelled    EventType = "draft_cancelled"
	EventApprovalRecorded  EventType = "approval_recorded"
	EventListingPublished  EventType = "listing_published"
	EventPublishFailed     EventType = "publish_failed"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventMerchantRejected  EventType = "merchant_rejected"
)

type Event struct {
	Type           EventType
	ConversationID string
	Address        string
	PostID         string
	ListingID      string
	Details        map[string]interface{}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "deal").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.ConversationID != "" {
		logger = logger.With().Str("conversation_id", event.ConversationID).Logger()
	}
	if event.Address != "" {
		logger = logger.With().Str("address", event.Address).Logger()
	}
	if event.PostID != "" {
		logger = logger.With().Str("post_id", event.PostID).Logger()
	}
	if event.ListingID != "" {
		logger = logger.With().Str("listing_id", event.ListingID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("deal audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
