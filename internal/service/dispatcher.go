package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/audit"
	apperrors "github.com/p2deal/dealbot/internal/errors"
	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/registry"
	"github.com/p2deal/dealbot/internal/repository"
	"github.com/p2deal/dealbot/internal/transport"
)

const directMessageNotice = "I only work in group chats. Add me to a group and tag me there to post a deal."

// DraftLimiter throttles new draft creation per conversation.
type DraftLimiter interface {
	AllowDraft(ctx context.Context, conversationID string) (allowed bool, resetAt time.Time)
}

const helpText = `I turn chat messages into marketplace listings.

Tag me with a description of what you're selling, or reply to a photo:
  %s Vintage sneakers, size 10, $40

I'll post a draft. You react 👍 to approve it, and at least one other person must react 👍 too. React 👎 to cancel.`

// Dispatcher is the single entry point for inbound messages. The
// webhook enqueues; one worker drains the queue and runs each message's
// full pipeline to completion before the next, so reactions and content
// messages never interleave mid-update.
type Dispatcher struct {
	queue chan model.Message

	classifier *Classifier
	aggregator *Aggregator
	builder    *Builder
	approvals  *ApprovalService
	registry   *registry.Registry
	transport  transport.API
	merchants  repository.MerchantRepository
	deduper    MessageDeduper
	limiter    DraftLimiter

	agentTag     string
	agentInboxID string
}

func NewDispatcher(
	queueSize int,
	classifier *Classifier,
	aggregator *Aggregator,
	builder *Builder,
	approvals *ApprovalService,
	reg *registry.Registry,
	api transport.API,
	merchants repository.MerchantRepository,
	deduper MessageDeduper,
	limiter DraftLimiter,
	agentTag, agentInboxID string,
) *Dispatcher {
	return &Dispatcher{
		queue:        make(chan model.Message, queueSize),
		classifier:   classifier,
		aggregator:   aggregator,
		builder:      builder,
		approvals:    approvals,
		registry:     reg,
		transport:    api,
		merchants:    merchants,
		deduper:      deduper,
		limiter:      limiter,
		agentTag:     agentTag,
		agentInboxID: agentInboxID,
	}
}

// Enqueue hands a decoded message to the worker. It never blocks the
// webhook; a full queue drops the message and returns false.
func (d *Dispatcher) Enqueue(msg model.Message) bool {
	select {
	case d.queue <- msg:
		return true
	default:
		log.Error().
			Str("messageId", msg.ID).
			Str("conversationId", msg.ConversationID).
			Msg("dispatch queue full, dropping message")
		return false
	}
}

// Run drains the queue until ctx is cancelled. Call it from exactly one
// goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().Msg("dispatcher worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher worker stopped")
			return
		case msg := <-d.queue:
			d.process(ctx, &msg)
		}
	}
}

// process runs one message through the full pipeline. Nothing here may
// kill the worker: required user-facing replies are sent by the inner
// layers, so the top-level recover only logs.
func (d *Dispatcher) process(ctx context.Context, msg *model.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("messageId", msg.ID).
				Msg("panic while processing message")
		}
	}()

	if msg.SenderInboxID == d.agentInboxID {
		return
	}
	if d.deduper.Seen(ctx, msg.ID) {
		log.Debug().Str("messageId", msg.ID).Msg("duplicate delivery skipped")
		return
	}

	conv, err := d.transport.GetConversation(ctx, msg.ConversationID)
	if err != nil || conv == nil {
		log.Warn().Err(err).
			Str("conversationId", msg.ConversationID).
			Msg("conversation could not be resolved, dropping message")
		return
	}
	senderAddress, err := d.transport.ResolveAddress(ctx, msg.SenderInboxID)
	if err != nil || senderAddress == "" {
		log.Warn().Err(err).
			Str("inboxId", msg.SenderInboxID).
			Msg("sender could not be resolved, dropping message")
		return
	}

	cls := d.classifier.Classify(ctx, msg, conv, senderAddress)
	log.Debug().
		Str("messageId", msg.ID).
		Str("kind", string(msg.Kind)).
		Int("outcome", int(cls.Outcome)).
		Str("reason", cls.Reason).
		Msg("message classified")

	switch cls.Outcome {
	case OutcomeIgnore:
		return
	case OutcomeRejectDirect:
		d.sendText(ctx, msg.ConversationID, directMessageNotice)
	case OutcomeWelcome:
		d.sendText(ctx, msg.ConversationID, fmt.Sprintf(helpText, d.agentTag))
	case OutcomeReaction:
		d.approvals.HandleReaction(ctx, msg, senderAddress)
	case OutcomeContent:
		d.handleContent(ctx, msg, senderAddress)
	}
}

// handleContent runs the draft pipeline: authorize, aggregate, build,
// post the draft announcement, and install the approval record.
func (d *Dispatcher) handleContent(ctx context.Context, msg *model.Message, senderAddress string) {
	merchant, err := d.merchants.FindByAddress(ctx, senderAddress)
	if err != nil {
		log.Error().Err(err).Str("senderAddress", senderAddress).Msg("merchant lookup failed")
		return
	}
	if merchant == nil {
		audit.Log(audit.Event{
			Type:           audit.EventMerchantRejected,
			ConversationID: msg.ConversationID,
			Address:        senderAddress,
		})
		d.replyTo(ctx, msg, apperrors.NoMerchant().Message)
		return
	}

	// A bare tag or an explicit "help" gets usage text. Replies and
	// images are exempt: their content comes from the chain.
	stripped := d.classifier.StripTag(msg.BodyText())
	if strings.EqualFold(stripped, "help") || (stripped == "" && msg.Kind == model.KindText) {
		d.replyTo(ctx, msg, fmt.Sprintf(helpText, d.agentTag))
		return
	}

	key := model.ConvKey{ConversationID: msg.ConversationID, Address: senderAddress}
	draft, exists := d.registry.Draft(key)

	if !exists {
		allowed, resetAt := d.limiter.AllowDraft(ctx, msg.ConversationID)
		if !allowed {
			log.Info().
				Str("conversationId", msg.ConversationID).
				Time("resetAt", resetAt).
				Msg("draft rate limit hit")
			audit.Log(audit.Event{
				Type:           audit.EventRateLimitExceeded,
				ConversationID: msg.ConversationID,
				Address:        senderAddress,
			})
			d.replyTo(ctx, msg, apperrors.RateLimitExceeded().Message)
			return
		}
		draft = &model.DealDraft{CreatorAddress: senderAddress}
	}

	agg, err := d.aggregator.Aggregate(ctx, msg.ConversationID, msg)
	if err != nil {
		log.Warn().Err(err).Str("messageId", msg.ID).Msg("reply chain aggregation failed")
		return
	}

	if agg.FullText != "" {
		draft.AggregatedText = agg.FullText
	}
	if draft.SourceImage == nil && agg.Image != nil {
		draft.SourceImage = agg.Image
		draft.StagingImageURL = ""
	}
	d.registry.PutDraft(key, draft)

	if draft.AggregatedText == "" && draft.SourceImage != nil {
		draft.AggregatedText = "Item from image"
	}
	if draft.AggregatedText == "" {
		d.replyTo(ctx, msg, apperrors.MissingDescription().Message)
		return
	}

	listing, err := d.builder.Build(ctx, draft, merchant)
	if err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("draft build failed")
		if apperrors.UserVisible(err) {
			d.replyTo(ctx, msg, apperrors.ChatMessage(err))
		}
		return
	}

	postID, err := d.transport.SendReply(ctx, msg.ConversationID, msg.ID, formatDraft(listing))
	if err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("could not post draft announcement")
		return
	}

	rec := &model.ApprovalRecord{
		PostID:         postID,
		TriggerID:      msg.ID,
		ConversationID: msg.ConversationID,
		CreatorAddress: senderAddress,
		Approvers:      make(map[string]struct{}),
		Listing:        *listing,
		Owner:          *merchant,
		Draft:          draft,
		LastActivity:   time.Now(),
	}
	d.registry.PromoteDraft(key, rec)

	log.Info().
		Str("postId", postID).
		Str("triggerId", msg.ID).
		Str("conversationId", msg.ConversationID).
		Str("creatorAddress", senderAddress).
		Msg("draft posted, awaiting approval")
	audit.Log(audit.Event{
		Type:           audit.EventDraftPosted,
		ConversationID: msg.ConversationID,
		Address:        senderAddress,
		PostID:         postID,
	})
}

func formatDraft(listing *model.Listing) string {
	inventory := fmt.Sprintf("%d", *listing.Inventory)
	if *listing.Inventory == model.UnlimitedInventory {
		inventory = "Unlimited"
	}
	delivery := "Pickup only"
	if *listing.Deliverable {
		delivery = "Delivery available"
	}
	return fmt.Sprintf(
		"📦 %s\n%s\n\n💰 %s %s\n📍 %s · %s\n🔢 Qty: %s\n\nReact 👍 to approve. One more 👍 from someone else publishes it. React 👎 to cancel.",
		listing.Title,
		listing.Description,
		listing.PriceValue,
		listing.PriceAsset,
		listing.PickupZip,
		delivery,
		inventory,
	)
}

func (d *Dispatcher) sendText(ctx context.Context, conversationID, text string) {
	if _, err := d.transport.SendText(ctx, conversationID, text); err != nil {
		log.Warn().Err(err).Str("conversationId", conversationID).Msg("could not send message")
	}
}

func (d *Dispatcher) replyTo(ctx context.Context, msg *model.Message, text string) {
	if _, err := d.transport.SendReply(ctx, msg.ConversationID, msg.ID, text); err != nil {
		log.Warn().Err(err).Str("messageId", msg.ID).Msg("could not send reply")
	}
}
