package transport

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/p2deal/dealbot/internal/model"
)

// Envelope is the wire form of one decoded message as delivered by the
// gateway webhook (and inside history pages). The content discriminant
// selects which payload section is present.
type Envelope struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderInboxID  string    `json:"senderInboxId"`
	ContentType    string    `json:"contentType"`
	SentAt         time.Time `json:"sentAt"`

	Text        string              `json:"text,omitempty"`
	Reaction    *ReactionPayload    `json:"reaction,omitempty"`
	Reply       *ReplyPayload       `json:"reply,omitempty"`
	Attachment  *AttachmentPayload  `json:"attachment,omitempty"`
	GroupUpdate *GroupUpdatePayload `json:"groupUpdate,omitempty"`
}

type ReactionPayload struct {
	TargetID string `json:"targetId"`
	Emoji    string `json:"emoji"`
	Action   string `json:"action"`
}

type ReplyPayload struct {
	ReferenceID string `json:"referenceId"`
	Text        string `json:"text"`
}

type AttachmentPayload struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data,omitempty"` // base64, inline attachments only
	URL      string `json:"url,omitempty"`  // remote attachments only
}

type GroupUpdatePayload struct {
	AddedInboxIDs   []string `json:"addedInboxIds,omitempty"`
	RemovedInboxIDs []string `json:"removedInboxIds,omitempty"`
}

// ToMessage converts a wire envelope into the closed message variant,
// validating that the payload matching the discriminant is present.
// Unrecognized content types are an error; the caller drops them
// silently per the unparseable-traffic policy.
func (e *Envelope) ToMessage() (*model.Message, error) {
	if e.ID == "" || e.ConversationID == "" {
		return nil, fmt.Errorf("envelope missing id or conversation id")
	}

	msg := &model.Message{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		SenderInboxID:  e.SenderInboxID,
		SentAt:         e.SentAt,
	}

	switch model.MessageKind(e.ContentType) {
	case model.KindText:
		msg.Kind = model.KindText
		msg.Text = e.Text

	case model.KindReaction:
		if e.Reaction == nil || e.Reaction.TargetID == "" {
			return nil, fmt.Errorf("reaction envelope %s missing payload", e.ID)
		}
		action := model.ReactionAction(e.Reaction.Action)
		if action != model.ReactionAdded && action != model.ReactionRemoved {
			return nil, fmt.Errorf("reaction envelope %s has unknown action %q", e.ID, e.Reaction.Action)
		}
		msg.Kind = model.KindReaction
		msg.Reaction = &model.ReactionContent{
			TargetID: e.Reaction.TargetID,
			Emoji:    e.Reaction.Emoji,
			Action:   action,
		}

	case model.KindReply:
		if e.Reply == nil || e.Reply.ReferenceID == "" {
			return nil, fmt.Errorf("reply envelope %s missing payload", e.ID)
		}
		msg.Kind = model.KindReply
		msg.Reply = &model.ReplyContent{
			ReferenceID: e.Reply.ReferenceID,
			Text:        e.Reply.Text,
		}

	case model.KindAttachment:
		if e.Attachment == nil || e.Attachment.Data == "" {
			return nil, fmt.Errorf("attachment envelope %s missing data", e.ID)
		}
		data, err := base64.StdEncoding.DecodeString(e.Attachment.Data)
		if err != nil {
			return nil, fmt.Errorf("attachment envelope %s: %w", e.ID, err)
		}
		msg.Kind = model.KindAttachment
		msg.Attachment = &model.AttachmentContent{
			Filename: e.Attachment.Filename,
			MimeType: e.Attachment.MimeType,
			Data:     data,
		}

	case model.KindRemoteAttachment:
		if e.Attachment == nil || e.Attachment.URL == "" {
			return nil, fmt.Errorf("remote attachment envelope %s missing url", e.ID)
		}
		msg.Kind = model.KindRemoteAttachment
		msg.Attachment = &model.AttachmentContent{
			Filename: e.Attachment.Filename,
			MimeType: e.Attachment.MimeType,
			URL:      e.Attachment.URL,
		}

	case model.KindGroupUpdate:
		msg.Kind = model.KindGroupUpdate
		msg.GroupUpdate = &model.GroupUpdateContent{}
		if e.GroupUpdate != nil {
			msg.GroupUpdate.AddedInboxIDs = e.GroupUpdate.AddedInboxIDs
			msg.GroupUpdate.RemovedInboxIDs = e.GroupUpdate.RemovedInboxIDs
		}

	default:
		return nil, fmt.Errorf("unknown content type %q", e.ContentType)
	}

	return msg, nil
}
