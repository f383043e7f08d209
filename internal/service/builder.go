package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/config"
	apperrors "github.com/p2deal/dealbot/internal/errors"
	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/transport"
)

const (
	// DefaultPriceAsset is the currency a listing falls back to when the
	// seller named none.
	DefaultPriceAsset = "USDC"

	defaultTitle     = "Untitled Item"
	defaultPickupZip = "00000"
)

// Generator is the AI collaborator: structured listing generation and
// product image generation. Both are slow, fallible, single-shot calls.
type Generator interface {
	GenerateListing(ctx context.Context, description, imageURL string) (*model.Listing, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ObjectStore is the media storage collaborator.
type ObjectStore interface {
	Upload(ctx context.Context, bucket string, data []byte, mimeType string, signed bool) (string, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Builder turns a deal draft into a complete listing: it resolves a
// staging image, calls listing generation, and applies field defaults
// so the result always satisfies the completeness invariant.
type Builder struct {
	transport     transport.API
	generator     Generator
	store         ObjectStore
	stagingBucket string
}

func NewBuilder(api transport.API, gen Generator, store ObjectStore, stagingBucket string) *Builder {
	return &Builder{
		transport:     api,
		generator:     gen,
		store:         store,
		stagingBucket: stagingBucket,
	}
}

// Build produces a publishable listing for the draft. The staging URL
// is cached on the draft, so a rebuild after a downstream failure skips
// the upload or image generation already done.
func (b *Builder) Build(ctx context.Context, draft *model.DealDraft, owner *model.Merchant) (*model.Listing, error) {
	if err := b.resolveStagingImage(ctx, draft); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(draft.StagingImageURL, "https://") {
		return nil, apperrors.UploadFailed(fmt.Errorf("staging url %q is not https", draft.StagingImageURL))
	}

	listing, err := b.generator.GenerateListing(ctx, draft.AggregatedText, draft.StagingImageURL)
	if err != nil {
		return nil, apperrors.GenerationFailed(err)
	}
	b.applyDefaults(listing, draft, owner)

	log.Info().
		Str("creatorAddress", draft.CreatorAddress).
		Str("title", listing.Title).
		Str("price", listing.PriceValue+" "+listing.PriceAsset).
		Msg("listing built")
	return listing, nil
}

// resolveStagingImage fills draft.StagingImageURL, first match wins:
// upload the user's attachment, else generate an image from the text,
// else reuse the cached URL.
func (b *Builder) resolveStagingImage(ctx context.Context, draft *model.DealDraft) error {
	if draft.StagingImageURL != "" {
		return nil
	}

	if draft.SourceImage != nil {
		data, mimeType, err := b.transport.LoadAttachment(ctx, draft.SourceImage)
		if err != nil {
			return apperrors.UploadFailed(fmt.Errorf("load attachment: %w", err))
		}
		url, err := b.store.Upload(ctx, b.stagingBucket, data, mimeType, true)
		if err != nil {
			return apperrors.UploadFailed(err)
		}
		draft.StagingImageURL = url
		return nil
	}

	if draft.AggregatedText == "" {
		return apperrors.MissingDescription()
	}
	url, err := b.generator.GenerateImage(ctx, imagePrompt(draft.AggregatedText))
	if err != nil {
		return apperrors.GenerationFailed(err)
	}
	draft.StagingImageURL = url
	return nil
}

// applyDefaults fills every mandatory field the generation service left
// out, guaranteeing a complete listing for any response shape.
func (b *Builder) applyDefaults(listing *model.Listing, draft *model.DealDraft, owner *model.Merchant) {
	if listing.Title == "" {
		listing.Title = defaultTitle
	}
	listing.Title = truncate(listing.Title, config.MaxTitleLen)

	if listing.Description == "" {
		listing.Description = draft.AggregatedText
	}
	if listing.Description == "" {
		listing.Description = listing.Title
	}
	listing.Description = truncate(listing.Description, config.MaxDescriptionLen)

	if listing.PriceValue == "" {
		listing.PriceValue = "1"
	}
	if listing.PriceAsset == "" {
		listing.PriceAsset = DefaultPriceAsset
	}
	if listing.Inventory == nil {
		one := 1
		listing.Inventory = &one
	}
	if listing.Deliverable == nil {
		f := false
		listing.Deliverable = &f
	}
	if listing.PickupZip == "" {
		if owner.PickupZip != nil && *owner.PickupZip != "" {
			listing.PickupZip = *owner.PickupZip
		} else {
			listing.PickupZip = defaultPickupZip
		}
	}
}

// imagePrompt wraps the raw item description in a photography-style
// generation prompt, capped to the service's prompt limit.
func imagePrompt(description string) string {
	prompt := fmt.Sprintf(
		"A clean, well-lit product photograph for an online marketplace listing: %s. Neutral background, no text overlay.",
		truncate(description, config.MaxImagePromptLen),
	)
	return truncate(prompt, config.MaxImagePromptLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
