package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/transport"
)

// Aggregation is the assembled content of a reply chain: the full text
// oldest first, and at most one image, the one nearest the trigger.
type Aggregation struct {
	Image    *model.Message
	FullText string
}

// Aggregator walks a reply chain backward from a trigger message,
// collecting text and locating the most relevant image. It fetches the
// conversation's recent window once; references outside the window end
// the walk with a partial result, which is not an error.
type Aggregator struct {
	transport  transport.API
	stripTag   func(string) string
	windowSize int
}

func NewAggregator(api transport.API, stripTag func(string) string, windowSize int) *Aggregator {
	return &Aggregator{transport: api, stripTag: stripTag, windowSize: windowSize}
}

// Aggregate assembles the chain ending at trigger. Text segments are
// joined oldest first; finding an image stops the walk, so text past
// the first image on the path is not collected. A cycle among the
// references terminates the walk without error.
func (a *Aggregator) Aggregate(ctx context.Context, conversationID string, trigger *model.Message) (*Aggregation, error) {
	result := &Aggregation{}

	var segments []string
	if text := a.stripTag(trigger.BodyText()); text != "" {
		segments = append(segments, text)
	}
	if trigger.IsImage() {
		result.Image = trigger
	}

	if !trigger.IsReply() {
		result.FullText = strings.Join(segments, "\n\n")
		return result, nil
	}

	recent, err := a.transport.RecentMessages(ctx, conversationID, a.windowSize)
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}
	byID := make(map[string]*model.Message, len(recent))
	for i := range recent {
		byID[recent[i].ID] = &recent[i]
	}

	visited := map[string]struct{}{trigger.ID: {}}
	current := trigger
	for current.IsReply() {
		ref, ok := byID[current.Reply.ReferenceID]
		if !ok {
			log.Debug().
				Str("referenceId", current.Reply.ReferenceID).
				Str("conversationId", conversationID).
				Msg("reply reference outside recent window, returning partial chain")
			break
		}
		if _, seen := visited[ref.ID]; seen {
			log.Warn().
				Str("messageId", ref.ID).
				Str("conversationId", conversationID).
				Msg("cycle detected in reply chain, stopping walk")
			break
		}
		visited[ref.ID] = struct{}{}

		if ref.IsImage() {
			if result.Image == nil {
				result.Image = ref
			}
			break
		}
		if text := a.stripTag(ref.BodyText()); text != "" {
			segments = append([]string{text}, segments...)
		}
		current = ref
	}

	result.FullText = strings.Join(segments, "\n\n")
	return result, nil
}
