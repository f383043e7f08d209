package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/registry"
)

type allowAllLimiter struct{}

func (allowAllLimiter) AllowDraft(ctx context.Context, conversationID string) (bool, time.Time) {
	return true, time.Time{}
}

type denyAllLimiter struct{}

func (denyAllLimiter) AllowDraft(ctx context.Context, conversationID string) (bool, time.Time) {
	return false, time.Now().Add(time.Hour)
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	api        *mockTransport
	gen        *mockGenerator
	store      *mockStore
	merchants  *mockMerchantRepo
	listings   *mockListingRepo
}

func newDispatcherFixture(t *testing.T, limiter DraftLimiter) *dispatcherFixture {
	t.Helper()
	reg := registry.New()
	api := &mockTransport{}
	gen := &mockGenerator{}
	store := &mockStore{}
	merchants := &mockMerchantRepo{}
	listings := &mockListingRepo{}

	classifier := newTestClassifier(reg, api)
	aggregator := NewAggregator(api, classifier.StripTag, 50)
	builder := NewBuilder(api, gen, store, "staging")
	approvals := NewApprovalService(reg, api, store, listings, "permanent", marketplaceURL)

	d := NewDispatcher(
		16, classifier, aggregator, builder, approvals,
		reg, api, merchants, newMockDeduper(), limiter,
		testAgentTag, testAgentInbox,
	)
	return &dispatcherFixture{
		dispatcher: d, registry: reg, api: api, gen: gen,
		store: store, merchants: merchants, listings: listings,
	}
}

func (f *dispatcherFixture) expectGroup(convID string) {
	f.api.On("GetConversation", mock.Anything, convID).Return(groupConv(convID), nil)
}

func (f *dispatcherFixture) expectSender(inboxID, address string) {
	f.api.On("ResolveAddress", mock.Anything, inboxID).Return(address, nil)
}

func TestDispatcher_TaggedTextToPublishedListing(t *testing.T) {
	// Full lifecycle: tagged message with no image, image generated from
	// text, draft posted, creator plus one peer approve, exactly one
	// persistence call, success reply carries the listing link.
	f := newDispatcherFixture(t, allowAllLimiter{})
	ctx := context.Background()

	f.expectGroup("g1")
	f.expectSender("creator-inbox", "0xCreator")
	f.expectSender("peer-inbox", "0xPeer")
	f.merchants.On("FindByAddress", mock.Anything, "0xCreator").Return(testMerchant(), nil)

	f.gen.On("GenerateImage", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Vintage sneakers, size 10")
	})).Return("https://img.example/gen.png", nil)
	f.gen.On("GenerateListing", mock.Anything, "Vintage sneakers, size 10", "https://img.example/gen.png").
		Return(&model.Listing{Title: "Vintage Sneakers", PriceValue: "40"}, nil)

	f.api.On("SendReply", mock.Anything, "g1", "m1", mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Vintage Sneakers") && strings.Contains(text, "React 👍")
	})).Return("post1", nil)

	trigger := textMsg("m1", "g1", "creator-inbox", "@deal Vintage sneakers, size 10")
	f.dispatcher.process(ctx, &trigger)

	rec, ok := f.registry.Approval("post1")
	require.True(t, ok, "approval record installed under the post id")
	assert.Equal(t, "0xCreator", rec.CreatorAddress)
	assert.True(t, rec.Listing.Complete())
	assert.False(t, f.registry.HasDraft(model.ConvKey{ConversationID: "g1", Address: "0xCreator"}),
		"draft moved out of the construction map")

	// Approvals arrive.
	f.api.On("React", mock.Anything, "g1", "post1", "⏳").Return(nil)
	f.store.On("Download", mock.Anything, "https://img.example/gen.png").Return([]byte{0x01}, "image/png", nil)
	f.store.On("Upload", mock.Anything, "permanent", []byte{0x01}, "image/png", false).
		Return("https://store.example/perm/abc", nil)
	f.listings.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateListingParams) bool {
		return p.Title == "Vintage Sneakers" && p.PriceValue == "40" && p.MerchantID == "merch1"
	})).Return(&model.ListingRecord{ID: "listing1"}, nil)
	f.api.On("RemoveReaction", mock.Anything, "g1", "post1", "⏳").Return(nil)
	f.api.On("SendReply", mock.Anything, "g1", "m1", "🎉 Listing published: "+marketplaceURL+"/listings/listing1").
		Return("reply1", nil)

	r1 := reactionMsg("r1", "g1", "creator-inbox", "post1", "👍")
	f.dispatcher.process(ctx, &r1)
	r2 := reactionMsg("r2", "g1", "peer-inbox", "post1", "👍")
	f.dispatcher.process(ctx, &r2)

	f.listings.AssertNumberOfCalls(t, "Create", 1)
	_, ok = f.registry.Approval("post1")
	assert.False(t, ok, "record destroyed after publish")
}

func TestDispatcher_ReplyChainWithImage(t *testing.T) {
	// Chain [image] <- "nice" <- "@deal $20" aggregates "nice\n\n$20"
	// and uses the chain's image.
	f := newDispatcherFixture(t, allowAllLimiter{})
	ctx := context.Background()

	f.expectGroup("g1")
	f.expectSender("creator-inbox", "0xCreator")
	f.merchants.On("FindByAddress", mock.Anything, "0xCreator").Return(testMerchant(), nil)

	img := imageMsg("m1", "g1", "u2")
	history := []model.Message{
		replyMsg("m2", "g1", "u3", "m1", "nice"),
		img,
	}
	f.api.On("RecentMessages", mock.Anything, "g1", 50).Return(history, nil)

	f.api.On("LoadAttachment", mock.Anything, mock.MatchedBy(func(m *model.Message) bool {
		return m.ID == "m1"
	})).Return([]byte{0xFF, 0xD8}, "image/jpeg", nil)
	f.store.On("Upload", mock.Anything, "staging", []byte{0xFF, 0xD8}, "image/jpeg", true).
		Return("https://store.example/signed/abc", nil)
	f.gen.On("GenerateListing", mock.Anything, "nice\n\n$20", "https://store.example/signed/abc").
		Return(&model.Listing{Title: "Nice Item", PriceValue: "20"}, nil)
	f.api.On("SendReply", mock.Anything, "g1", "m3", mock.Anything).Return("post1", nil)

	trigger := replyMsg("m3", "g1", "creator-inbox", "m2", "@deal $20")
	f.dispatcher.process(ctx, &trigger)

	rec, ok := f.registry.Approval("post1")
	require.True(t, ok)
	assert.Equal(t, "nice\n\n$20", rec.Draft.AggregatedText)
	require.NotNil(t, rec.Draft.SourceImage)
	assert.Equal(t, "m1", rec.Draft.SourceImage.ID)
	f.gen.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything)
}

func TestDispatcher_NonCreatorThumbsDownIsNoOp(t *testing.T) {
	f := newDispatcherFixture(t, allowAllLimiter{})
	ctx := context.Background()

	rec := trackedRecord(f.registry)
	f.expectGroup("g1")
	f.expectSender("peer-inbox", "0xPeer")

	r := reactionMsg("r1", "g1", "peer-inbox", "post1", "👎")
	f.dispatcher.process(ctx, &r)

	got, ok := f.registry.Approval("post1")
	require.True(t, ok, "record still present")
	assert.Same(t, rec, got)
	assert.False(t, got.CreatorApproved)
	assert.Empty(t, got.Approvers)
}

func TestDispatcher_DirectMessageRejected(t *testing.T) {
	f := newDispatcherFixture(t, allowAllLimiter{})
	ctx := context.Background()

	f.api.On("GetConversation", mock.Anything, "dm1").Return(directConv("dm1"), nil)
	f.expectSender("u-inbox", "0xUser")
	f.api.On("SendText", mock.Anything, "dm1", directMessageNotice).Return("n1", nil)

	msg := textMsg("m1", "dm1", "u-inbox", "@deal sell my bike")
	f.dispatcher.process(ctx, &msg)

	f.api.AssertExpectations(t)
	f.merchants.AssertNotCalled(t, "FindByAddress", mock.Anything, mock.Anything)
}

func TestDispatcher_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("agent's own messages are skipped", func(t *testing.T) {
		f := newDispatcherFixture(t, allowAllLimiter{})
		msg := textMsg("m1", "g1", testAgentInbox, "@deal echo")
		f.dispatcher.process(ctx, &msg)
		f.api.AssertNotCalled(t, "GetConversation", mock.Anything, mock.Anything)
	})

	t.Run("duplicate delivery is processed once", func(t *testing.T) {
		f := newDispatcherFixture(t, allowAllLimiter{})
		f.expectGroup("g1")
		f.expectSender("u-inbox", "0xUser")

		msg := textMsg("m1", "g1", "u-inbox", "no tag")
		f.dispatcher.process(ctx, &msg)
		f.dispatcher.process(ctx, &msg)

		f.api.AssertNumberOfCalls(t, "GetConversation", 1)
	})

	t.Run("unresolvable conversation drops silently", func(t *testing.T) {
		f := newDispatcherFixture(t, allowAllLimiter{})
		f.api.On("GetConversation", mock.Anything, "g1").Return(nil, assertAnError)

		msg := textMsg("m1", "g1", "u-inbox", "@deal bike")
		f.dispatcher.process(ctx, &msg)

		f.api.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
		f.api.AssertNotCalled(t, "SendReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown merchant gets signup prompt", func(t *testing.T) {
		f := newDispatcherFixture(t, allowAllLimiter{})
		f.expectGroup("g1")
		f.expectSender("u-inbox", "0xStranger")
		f.merchants.On("FindByAddress", mock.Anything, "0xStranger").Return(nil, nil)
		f.api.On("SendReply", mock.Anything, "g1", "m1", mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "merchant account")
		})).Return("n1", nil)

		msg := textMsg("m1", "g1", "u-inbox", "@deal bike")
		f.dispatcher.process(ctx, &msg)
		f.api.AssertExpectations(t)
	})

	t.Run("rate limited draft gets throttle reply", func(t *testing.T) {
		f := newDispatcherFixture(t, denyAllLimiter{})
		f.expectGroup("g1")
		f.expectSender("u-inbox", "0xCreator")
		f.merchants.On("FindByAddress", mock.Anything, "0xCreator").Return(testMerchant(), nil)
		f.api.On("SendReply", mock.Anything, "g1", "m1", mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "Too many drafts")
		})).Return("n1", nil)

		msg := textMsg("m1", "g1", "u-inbox", "@deal bike")
		f.dispatcher.process(ctx, &msg)
		f.gen.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything)
	})

	t.Run("help request gets usage reply", func(t *testing.T) {
		f := newDispatcherFixture(t, allowAllLimiter{})
		f.expectGroup("g1")
		f.expectSender("u-inbox", "0xCreator")
		f.merchants.On("FindByAddress", mock.Anything, "0xCreator").Return(testMerchant(), nil)
		f.api.On("SendReply", mock.Anything, "g1", "m1", mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "marketplace listings")
		})).Return("n1", nil)

		msg := textMsg("m1", "g1", "u-inbox", "@deal help")
		f.dispatcher.process(ctx, &msg)
		f.gen.AssertNotCalled(t, "GenerateListing", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("bare tag gets usage reply", func(t *testing.T) {
		f := newDispatcherFixture(t, allowAllLimiter{})
		f.expectGroup("g1")
		f.expectSender("u-inbox", "0xCreator")
		f.merchants.On("FindByAddress", mock.Anything, "0xCreator").Return(testMerchant(), nil)
		f.api.On("SendReply", mock.Anything, "g1", "m1", mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "marketplace listings")
		})).Return("n1", nil)

		msg := textMsg("m1", "g1", "u-inbox", "@deal")
		f.dispatcher.process(ctx, &msg)
		f.gen.AssertNotCalled(t, "GenerateListing", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("build failure sends retry prompt and keeps draft", func(t *testing.T) {
		f := newDispatcherFixture(t, allowAllLimiter{})
		f.expectGroup("g1")
		f.expectSender("u-inbox", "0xCreator")
		f.merchants.On("FindByAddress", mock.Anything, "0xCreator").Return(testMerchant(), nil)
		f.gen.On("GenerateImage", mock.Anything, mock.Anything).Return("https://img.example/s.png", nil)
		f.gen.On("GenerateListing", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, assertAnError)
		f.api.On("SendReply", mock.Anything, "g1", "m1", mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "try again")
		})).Return("n1", nil)

		msg := textMsg("m1", "g1", "u-inbox", "@deal bike")
		f.dispatcher.process(ctx, &msg)

		key := model.ConvKey{ConversationID: "g1", Address: "0xCreator"}
		assert.True(t, f.registry.HasDraft(key), "draft survives for retry")
		drafts, approvals := f.registry.Counts()
		assert.Equal(t, 1, drafts)
		assert.Zero(t, approvals, "nothing enters the approval mapping on failure")
	})
}

func TestDispatcher_EnqueueDropsWhenFull(t *testing.T) {
	f := newDispatcherFixture(t, allowAllLimiter{})

	for i := 0; i < 16; i++ {
		assert.True(t, f.dispatcher.Enqueue(textMsg("m", "g1", "u", "x")))
	}
	assert.False(t, f.dispatcher.Enqueue(textMsg("overflow", "g1", "u", "x")),
		"full queue drops instead of blocking")
}

var assertAnError = errRoundTrip{}

type errRoundTrip struct{}

func (errRoundTrip) Error() string { return "collaborator unavailable" }
