package model

import (
	"strings"
	"time"
)

// MessageKind discriminates the closed set of message variants delivered
// by the messaging gateway. Every inbound payload decodes to exactly one
// kind; anything else is rejected at the webhook boundary.
type MessageKind string

const (
	KindText             MessageKind = "text"
	KindReaction         MessageKind = "reaction"
	KindReply            MessageKind = "reply"
	KindAttachment       MessageKind = "attachment"
	KindRemoteAttachment MessageKind = "remote_attachment"
	KindGroupUpdate      MessageKind = "group_update"
)

type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

// Message is one decoded inbound message. Exactly one of the per-kind
// payload pointers is set, matching Kind.
type Message struct {
	ID             string
	ConversationID string
	SenderInboxID  string
	Kind           MessageKind
	SentAt         time.Time

	Text        string             // KindText
	Reaction    *ReactionContent   // KindReaction
	Reply       *ReplyContent      // KindReply
	Attachment  *AttachmentContent // KindAttachment, KindRemoteAttachment
	GroupUpdate *GroupUpdateContent
}

type ReactionContent struct {
	TargetID string
	Emoji    string
	Action   ReactionAction
}

type ReplyContent struct {
	ReferenceID string
	Text        string
}

// AttachmentContent carries either inline bytes or, for remote
// attachments, a URL resolved on demand by the transport client.
type AttachmentContent struct {
	Filename string
	MimeType string
	Data     []byte
	URL      string
}

type GroupUpdateContent struct {
	AddedInboxIDs   []string
	RemovedInboxIDs []string
}

// BodyText returns the textual content of a message regardless of
// whether it is a plain text or a reply.
func (m *Message) BodyText() string {
	switch m.Kind {
	case KindText:
		return m.Text
	case KindReply:
		if m.Reply != nil {
			return m.Reply.Text
		}
	}
	return ""
}

// IsImage reports whether the message carries an image attachment.
func (m *Message) IsImage() bool {
	if m.Kind != KindAttachment && m.Kind != KindRemoteAttachment {
		return false
	}
	return m.Attachment != nil && strings.HasPrefix(m.Attachment.MimeType, "image/")
}

// IsReply reports whether the message participates in a reply chain.
func (m *Message) IsReply() bool {
	return m.Kind == KindReply && m.Reply != nil && m.Reply.ReferenceID != ""
}
