package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/model"
)

const (
	requestTimeout = 15 * time.Second

	// Remote attachments can be large; give downloads more room.
	attachmentTimeout = 60 * time.Second

	maxAttachmentBytes = 16 << 20
)

// Client talks to the messaging gateway's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ API = (*Client)(nil)

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	path := fmt.Sprintf("/v1/conversations/%s", url.PathEscape(conversationID))
	if err := c.getJSON(ctx, path, &conv); err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

func (c *Client) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var page struct {
		Messages []Envelope `json:"messages"`
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages?limit=%s",
		url.PathEscape(conversationID), strconv.Itoa(limit))
	if err := c.getJSON(ctx, path, &page); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	msgs := make([]model.Message, 0, len(page.Messages))
	for _, env := range page.Messages {
		msg, err := env.ToMessage()
		if err != nil {
			// History pages can contain content types this agent does
			// not handle; skip them rather than failing the walk.
			log.Debug().Str("messageId", env.ID).Err(err).Msg("skipping undecodable history message")
			continue
		}
		msgs = append(msgs, *msg)
	}
	return msgs, nil
}

func (c *Client) ResolveAddress(ctx context.Context, inboxID string) (string, error) {
	var identity struct {
		Address string `json:"address"`
	}
	path := fmt.Sprintf("/v1/identities/%s", url.PathEscape(inboxID))
	if err := c.getJSON(ctx, path, &identity); err != nil {
		return "", fmt.Errorf("resolve address: %w", err)
	}
	if identity.Address == "" {
		return "", fmt.Errorf("resolve address: empty address for inbox %s", inboxID)
	}
	return identity.Address, nil
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) (string, error) {
	return c.postMessage(ctx, conversationID, map[string]any{
		"kind": model.KindText,
		"text": text,
	})
}

func (c *Client) SendReply(ctx context.Context, conversationID, referenceID, text string) (string, error) {
	return c.postMessage(ctx, conversationID, map[string]any{
		"kind":        model.KindReply,
		"text":        text,
		"referenceId": referenceID,
	})
}

func (c *Client) React(ctx context.Context, conversationID, targetID, emoji string) error {
	return c.postReaction(ctx, conversationID, targetID, emoji, model.ReactionAdded)
}

func (c *Client) RemoveReaction(ctx context.Context, conversationID, targetID, emoji string) error {
	return c.postReaction(ctx, conversationID, targetID, emoji, model.ReactionRemoved)
}

func (c *Client) LoadAttachment(ctx context.Context, msg *model.Message) ([]byte, string, error) {
	if msg.Attachment == nil {
		return nil, "", fmt.Errorf("load attachment: message %s has no attachment", msg.ID)
	}
	if len(msg.Attachment.Data) > 0 {
		return msg.Attachment.Data, msg.Attachment.MimeType, nil
	}

	// Remote attachments carry a download URL in place of inline bytes.
	target := msg.Attachment.URL
	if target == "" {
		target = fmt.Sprintf("%s/v1/messages/%s/attachment", c.baseURL, url.PathEscape(msg.ID))
	}

	ctx, cancel := context.WithTimeout(ctx, attachmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create attachment request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = msg.Attachment.MimeType
	}
	return data, mimeType, nil
}

func (c *Client) postMessage(ctx context.Context, conversationID string, payload map[string]any) (string, error) {
	var posted struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages", url.PathEscape(conversationID))
	if err := c.postJSON(ctx, path, payload, &posted); err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	if posted.ID == "" {
		return "", fmt.Errorf("post message: gateway returned no id")
	}
	return posted.ID, nil
}

func (c *Client) postReaction(ctx context.Context, conversationID, targetID, emoji string, action model.ReactionAction) error {
	path := fmt.Sprintf("/v1/conversations/%s/reactions", url.PathEscape(conversationID))
	err := c.postJSON(ctx, path, map[string]any{
		"targetId": targetID,
		"emoji":    emoji,
		"action":   action,
	}, nil)
	if err != nil {
		return fmt.Errorf("post reaction: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	return c.do(req, dest)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	start := time.Now()

	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("url", req.URL.Path).Dur("elapsed", elapsed).Msg("gateway request error")
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("url", req.URL.Path).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("gateway request failed")
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
