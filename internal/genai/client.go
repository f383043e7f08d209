// Package genai wraps the OpenAI-compatible generation service behind
// the two operations the pipeline needs: structured listing generation
// and product image generation. Calls are single-shot; failures are
// surfaced to the caller, never retried here.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/p2deal/dealbot/internal/model"
)

const (
	listingTimeout = 45 * time.Second
	imageTimeout   = 90 * time.Second
)

const listingSystemPrompt = `You turn short chat descriptions of items for sale into marketplace listings.
Respond with a single JSON object with these keys:
  "title": short item title
  "description": one or two sentences describing the item
  "price_value": asking price as a decimal number string
  "price_asset": currency ticker if the seller named one
  "inventory": integer count if stated, -1 for services with no stock limit
  "pickup_zip": pickup postal code if stated
  "deliverable": true if the seller offers delivery or shipping
Omit any key you cannot determine from the description. Never invent a pickup location.`

type Client struct {
	client       *openai.Client
	listingModel string
	imageModel   string
}

func NewClient(apiKey, baseURL, listingModel, imageModel string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		client:       openai.NewClientWithConfig(cfg),
		listingModel: listingModel,
		imageModel:   imageModel,
	}
}

// listingPayload is the lenient wire form of a generated listing. Every
// field is optional; defaulting happens in the draft builder.
type listingPayload struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	PriceValue  json.Number `json:"price_value"`
	PriceAsset  string      `json:"price_asset"`
	Inventory   *int        `json:"inventory"`
	PickupZip   string      `json:"pickup_zip"`
	Deliverable *bool       `json:"deliverable"`
}

// GenerateListing asks the model for a structured listing from the
// aggregated description and, when available, the staging image.
func (c *Client) GenerateListing(ctx context.Context, description, imageURL string) (*model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, listingTimeout)
	defer cancel()

	userParts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: description},
	}
	if imageURL != "" {
		userParts = append(userParts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.listingModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: listingSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: userParts},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("listing completion: no choices returned")
	}

	var payload listingPayload
	raw := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	listing := &model.Listing{
		Title:       strings.TrimSpace(payload.Title),
		Description: strings.TrimSpace(payload.Description),
		PriceValue:  payload.PriceValue.String(),
		PriceAsset:  strings.ToUpper(strings.TrimSpace(payload.PriceAsset)),
		Inventory:   payload.Inventory,
		PickupZip:   strings.TrimSpace(payload.PickupZip),
		Deliverable: payload.Deliverable,
	}
	if listing.PriceValue == "0" || listing.PriceValue == "" {
		listing.PriceValue = ""
	}
	return listing, nil
}

// GenerateImage produces a hosted product image for the prompt and
// returns its URL, or an error when the service declines.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation: no image returned")
	}
	return resp.Data[0].URL, nil
}

// stripCodeFence removes a markdown fence some models wrap around JSON
// despite the response format hint.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
