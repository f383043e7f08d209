package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/registry"
	"github.com/p2deal/dealbot/internal/transport"
)

// Outcome is the classifier's routing decision for one inbound message.
type Outcome int

const (
	// OutcomeIgnore drops the message with a debug log and no reply.
	OutcomeIgnore Outcome = iota
	// OutcomeRejectDirect answers a direct message with a group-only notice.
	OutcomeRejectDirect
	// OutcomeReaction routes to the approval state machine.
	OutcomeReaction
	// OutcomeContent routes to the draft pipeline.
	OutcomeContent
	// OutcomeWelcome greets a group the agent was just added to.
	OutcomeWelcome
)

type Classification struct {
	Outcome Outcome
	Reason  string
}

func ignore(reason string) Classification {
	return Classification{Outcome: OutcomeIgnore, Reason: reason}
}

// Classifier decides whether and how one inbound message is processed.
// It consults only registry state, except for reply-to-agent detection,
// which needs the referenced message's sender resolved via transport.
type Classifier struct {
	registry     *registry.Registry
	transport    transport.API
	agentTag     string
	agentAddress string
	agentInboxID string
	windowSize   int
}

func NewClassifier(
	reg *registry.Registry,
	api transport.API,
	agentTag, agentAddress, agentInboxID string,
	windowSize int,
) *Classifier {
	return &Classifier{
		registry:     reg,
		transport:    api,
		agentTag:     strings.ToLower(agentTag),
		agentAddress: strings.ToLower(agentAddress),
		agentInboxID: agentInboxID,
		windowSize:   windowSize,
	}
}

// Classify applies the routing rules in priority order. Direct messages
// are rejected before anything else; the agent operates only in groups.
func (c *Classifier) Classify(ctx context.Context, msg *model.Message, conv *transport.Conversation, senderAddress string) Classification {
	if !conv.IsGroup() {
		switch msg.Kind {
		case model.KindText, model.KindReply, model.KindAttachment, model.KindRemoteAttachment:
			return Classification{Outcome: OutcomeRejectDirect, Reason: "direct message"}
		}
		return ignore("direct message, no reply warranted")
	}

	switch msg.Kind {
	case model.KindReaction:
		return c.classifyReaction(msg)
	case model.KindText:
		if c.hasTag(msg.Text) {
			return Classification{Outcome: OutcomeContent, Reason: "tagged text"}
		}
		return ignore("untagged text")
	case model.KindReply:
		return c.classifyReply(ctx, msg)
	case model.KindAttachment, model.KindRemoteAttachment:
		return c.classifyAttachment(msg, senderAddress)
	case model.KindGroupUpdate:
		if msg.GroupUpdate != nil {
			for _, added := range msg.GroupUpdate.AddedInboxIDs {
				if added == c.agentInboxID {
					return Classification{Outcome: OutcomeWelcome, Reason: "agent added to group"}
				}
			}
		}
		return ignore("group update")
	}
	return ignore("unrecognized message kind")
}

// classifyReaction passes through added reactions on tracked draft
// posts. Emoji semantics are the approval state machine's concern.
func (c *Classifier) classifyReaction(msg *model.Message) Classification {
	if msg.Reaction == nil {
		return ignore("reaction without content")
	}
	if msg.Reaction.Action != model.ReactionAdded {
		return ignore("reaction removal")
	}
	if !c.registry.HasApproval(msg.Reaction.TargetID) {
		return ignore("reaction target is not a tracked draft")
	}
	return Classification{Outcome: OutcomeReaction, Reason: "reaction on tracked draft"}
}

// classifyReply processes a reply when its own text carries the tag, or
// when it answers a message this agent authored. The referenced message
// is looked up in the recent window only; an unresolvable reference is
// not an error, just not addressed to us.
func (c *Classifier) classifyReply(ctx context.Context, msg *model.Message) Classification {
	if msg.Reply == nil {
		return ignore("reply without content")
	}
	if c.hasTag(msg.Reply.Text) {
		return Classification{Outcome: OutcomeContent, Reason: "tagged reply"}
	}

	recent, err := c.transport.RecentMessages(ctx, msg.ConversationID, c.windowSize)
	if err != nil {
		log.Warn().Err(err).
			Str("conversationId", msg.ConversationID).
			Msg("could not fetch recent messages for reply resolution")
		return ignore("reply reference unresolvable")
	}

	var ref *model.Message
	for i := range recent {
		if recent[i].ID == msg.Reply.ReferenceID {
			ref = &recent[i]
			break
		}
	}
	if ref == nil {
		return ignore("reply reference outside recent window")
	}

	if ref.SenderInboxID == c.agentInboxID {
		return Classification{Outcome: OutcomeContent, Reason: "reply to agent"}
	}
	addr, err := c.transport.ResolveAddress(ctx, ref.SenderInboxID)
	if err != nil {
		log.Debug().Err(err).
			Str("inboxId", ref.SenderInboxID).
			Msg("could not resolve referenced sender")
		return ignore("referenced sender unresolvable")
	}
	if strings.ToLower(addr) == c.agentAddress {
		return Classification{Outcome: OutcomeContent, Reason: "reply to agent"}
	}
	return ignore("untagged reply to third party")
}

// classifyAttachment processes an image that extends a chain (a reply)
// or feeds a draft the sender already has open. A standalone untagged
// image is ignored.
func (c *Classifier) classifyAttachment(msg *model.Message, senderAddress string) Classification {
	if !msg.IsImage() {
		return ignore("non-image attachment")
	}
	key := model.ConvKey{ConversationID: msg.ConversationID, Address: senderAddress}
	if c.registry.HasDraft(key) {
		return Classification{Outcome: OutcomeContent, Reason: "image for open draft"}
	}
	return ignore("standalone image without draft")
}

func (c *Classifier) hasTag(text string) bool {
	return strings.Contains(strings.ToLower(text), c.agentTag)
}

// StripTag removes every occurrence of the agent tag from text,
// case-insensitively, and trims the remainder.
func (c *Classifier) StripTag(text string) string {
	lower := strings.ToLower(text)
	tag := c.agentTag
	var b strings.Builder
	for {
		i := strings.Index(lower, tag)
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i])
		text = text[i+len(tag):]
		lower = lower[i+len(tag):]
	}
	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}
