// Package transport is the client side of the messaging gateway: inbound
// messages arrive as webhook envelopes decoded into model.Message, and
// outbound operations (posting, reacting, history pages, identity
// resolution) go through the gateway's REST API.
package transport

import (
	"context"

	"github.com/p2deal/dealbot/internal/model"
)

// Conversation is the resolved metadata for one chat.
type Conversation struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	MemberCount int    `json:"memberCount"`
}

// IsGroup reports whether the conversation has more than two
// participants. The agent itself counts as a member.
func (c *Conversation) IsGroup() bool {
	return c.MemberCount > 2
}

// API is the transport contract consumed by the message pipeline.
type API interface {
	// GetConversation resolves conversation metadata by id.
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)

	// RecentMessages fetches a bounded page of the newest messages in a
	// conversation, newest first. Used for reply-chain resolution.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	// ResolveAddress maps a sender inbox id to its wallet address.
	ResolveAddress(ctx context.Context, inboxID string) (string, error)

	// SendText posts a plain text message and returns its assigned id.
	SendText(ctx context.Context, conversationID, text string) (string, error)

	// SendReply posts a reply to referenceID and returns its assigned id.
	SendReply(ctx context.Context, conversationID, referenceID, text string) (string, error)

	// React adds an emoji reaction to a target message.
	React(ctx context.Context, conversationID, targetID, emoji string) error

	// RemoveReaction removes a previously added reaction.
	RemoveReaction(ctx context.Context, conversationID, targetID, emoji string) error

	// LoadAttachment returns the attachment bytes and mime type for a
	// message, resolving remote-attachment indirection if needed.
	LoadAttachment(ctx context.Context, msg *model.Message) ([]byte, string, error)
}
