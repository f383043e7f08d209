package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/audit"
	apperrors "github.com/p2deal/dealbot/internal/errors"
	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/registry"
	"github.com/p2deal/dealbot/internal/repository"
	"github.com/p2deal/dealbot/internal/transport"
)

// Reaction emoji understood by the approval flow. Anything else on a
// tracked draft post is passed through and ignored.
var (
	positiveEmoji = map[string]struct{}{"👍": {}, "❤️": {}, "✅": {}, "🔥": {}}
	negativeEmoji = map[string]struct{}{"👎": {}, "❌": {}, "🚫": {}}
)

const (
	tombstoneEmoji  = "🚫"
	inProgressEmoji = "⏳"
)

// ApprovalService runs the lifecycle of posted drafts: it records
// approvals, handles creator cancellation, and publishes a listing once
// the creator plus at least one peer have approved.
type ApprovalService struct {
	registry           *registry.Registry
	transport          transport.API
	store              ObjectStore
	listings           repository.ListingRepository
	permanentBucket    string
	marketplaceBaseURL string
}

func NewApprovalService(
	reg *registry.Registry,
	api transport.API,
	store ObjectStore,
	listings repository.ListingRepository,
	permanentBucket, marketplaceBaseURL string,
) *ApprovalService {
	return &ApprovalService{
		registry:           reg,
		transport:          api,
		store:              store,
		listings:           listings,
		permanentBucket:    permanentBucket,
		marketplaceBaseURL: marketplaceBaseURL,
	}
}

// HandleReaction applies one added reaction to the tracked draft it
// targets. The emoji decides approve versus cancel; senders are
// distinguished only as creator versus peer.
func (s *ApprovalService) HandleReaction(ctx context.Context, msg *model.Message, senderAddress string) {
	rec, ok := s.registry.Approval(msg.Reaction.TargetID)
	if !ok {
		return
	}
	emoji := msg.Reaction.Emoji
	isCreator := strings.EqualFold(senderAddress, rec.CreatorAddress)

	switch {
	case isNegative(emoji):
		s.handleCancel(ctx, rec, senderAddress, isCreator)
	case isPositive(emoji):
		s.handleApprove(ctx, rec, senderAddress, isCreator)
	default:
		log.Debug().
			Str("postId", rec.PostID).
			Str("emoji", emoji).
			Msg("unrecognized reaction emoji on tracked draft, ignoring")
	}
}

// handleCancel deletes the record when the creator cancels. Peers
// cannot cancel; their negative reactions change nothing.
func (s *ApprovalService) handleCancel(ctx context.Context, rec *model.ApprovalRecord, senderAddress string, isCreator bool) {
	if !isCreator {
		log.Info().
			Str("postId", rec.PostID).
			Str("senderAddress", senderAddress).
			Msg("cancel reaction from non-creator ignored")
		return
	}
	s.registry.DeleteApproval(rec.PostID)
	if err := s.transport.React(ctx, rec.ConversationID, rec.PostID, tombstoneEmoji); err != nil {
		log.Warn().Err(err).Str("postId", rec.PostID).Msg("could not mark cancelled draft")
	}
	audit.Log(audit.Event{
		Type:           audit.EventDraftCancelled,
		ConversationID: rec.ConversationID,
		Address:        rec.CreatorAddress,
		PostID:         rec.PostID,
	})
}

func (s *ApprovalService) handleApprove(ctx context.Context, rec *model.ApprovalRecord, senderAddress string, isCreator bool) {
	creatorApproved, approvers := rec.Approve(senderAddress, isCreator)

	audit.Log(audit.Event{
		Type:           audit.EventApprovalRecorded,
		ConversationID: rec.ConversationID,
		Address:        senderAddress,
		PostID:         rec.PostID,
		Details:        map[string]interface{}{"creatorApproved": creatorApproved, "approvers": approvers},
	})

	if !rec.Publishable() {
		return
	}
	if !rec.TryBeginPublish() {
		log.Debug().Str("postId", rec.PostID).Msg("publish already in progress")
		return
	}
	s.publish(ctx, rec)
}

// publish runs the publication procedure under the record's publish
// claim. On persistence failure the record stays intact and the claim
// is released so a later reaction can retry; on success the record and
// its draft are destroyed.
func (s *ApprovalService) publish(ctx context.Context, rec *model.ApprovalRecord) {
	if !rec.Listing.Complete() {
		rec.EndPublish()
		s.replyError(ctx, rec, apperrors.IncompleteListing())
		return
	}
	if rec.Owner.ID == "" || rec.Owner.UserID == "" {
		rec.EndPublish()
		s.replyError(ctx, rec, apperrors.IncompleteOwner())
		return
	}

	if err := s.transport.React(ctx, rec.ConversationID, rec.PostID, inProgressEmoji); err != nil {
		log.Warn().Err(err).Str("postId", rec.PostID).Msg("could not add in-progress marker")
	}

	if err := s.resolvePermanentImage(ctx, rec); err != nil {
		s.removeInProgress(ctx, rec)
		rec.EndPublish()
		s.replyError(ctx, rec, apperrors.PublishFailed(err))
		return
	}

	listing, err := s.listings.Create(ctx, model.CreateListingParams{
		MerchantID:     rec.Owner.ID,
		UserID:         rec.Owner.UserID,
		Title:          rec.Listing.Title,
		Description:    rec.Listing.Description,
		PriceValue:     rec.Listing.PriceValue,
		PriceAsset:     rec.Listing.PriceAsset,
		Inventory:      *rec.Listing.Inventory,
		PickupZip:      rec.Listing.PickupZip,
		Deliverable:    *rec.Listing.Deliverable,
		ImageURL:       rec.Draft.PermanentImageURL,
		ConversationID: &rec.ConversationID,
	})
	if err != nil {
		s.removeInProgress(ctx, rec)
		rec.EndPublish()
		s.replyError(ctx, rec, apperrors.PublishFailed(err))
		log.Error().Err(err).Str("postId", rec.PostID).Msg("listing persistence failed, record kept for retry")
		audit.Log(audit.Event{
			Type:           audit.EventPublishFailed,
			ConversationID: rec.ConversationID,
			Address:        rec.CreatorAddress,
			PostID:         rec.PostID,
		})
		return
	}

	s.removeInProgress(ctx, rec)
	reply := fmt.Sprintf("🎉 Listing published: %s/listings/%s", s.marketplaceBaseURL, listing.ID)
	if _, err := s.transport.SendReply(ctx, rec.ConversationID, rec.TriggerID, reply); err != nil {
		log.Warn().Err(err).Str("postId", rec.PostID).Msg("could not announce published listing")
	}
	s.registry.DeleteApproval(rec.PostID)

	audit.Log(audit.Event{
		Type:           audit.EventListingPublished,
		ConversationID: rec.ConversationID,
		Address:        rec.CreatorAddress,
		PostID:         rec.PostID,
		ListingID:      listing.ID,
	})
}

// resolvePermanentImage copies the staging image into permanent storage
// once. Reruns after a persistence failure reuse the resolved URL.
func (s *ApprovalService) resolvePermanentImage(ctx context.Context, rec *model.ApprovalRecord) error {
	if rec.Draft.PermanentImageURL != "" {
		return nil
	}
	data, mimeType, err := s.store.Download(ctx, rec.Draft.StagingImageURL)
	if err != nil {
		return fmt.Errorf("download staging image: %w", err)
	}
	url, err := s.store.Upload(ctx, s.permanentBucket, data, mimeType, false)
	if err != nil {
		return fmt.Errorf("upload permanent image: %w", err)
	}
	rec.Draft.PermanentImageURL = url
	return nil
}

func (s *ApprovalService) removeInProgress(ctx context.Context, rec *model.ApprovalRecord) {
	if err := s.transport.RemoveReaction(ctx, rec.ConversationID, rec.PostID, inProgressEmoji); err != nil {
		log.Debug().Err(err).Str("postId", rec.PostID).Msg("could not remove in-progress marker")
	}
}

func (s *ApprovalService) replyError(ctx context.Context, rec *model.ApprovalRecord, appErr error) {
	if !apperrors.UserVisible(appErr) {
		log.Error().Err(appErr).Str("postId", rec.PostID).Msg("publish aborted")
		return
	}
	if _, err := s.transport.SendReply(ctx, rec.ConversationID, rec.PostID, apperrors.ChatMessage(appErr)); err != nil {
		log.Warn().Err(err).Str("postId", rec.PostID).Msg("could not send error reply")
	}
}

func isPositive(emoji string) bool {
	_, ok := positiveEmoji[emoji]
	return ok
}

func isNegative(emoji string) bool {
	_, ok := negativeEmoji[emoji]
	return ok
}
