package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/registry"
)

const marketplaceURL = "https://market.example"

func completeListing() model.Listing {
	inv := 1
	deliv := false
	return model.Listing{
		Title: "Bike", Description: "A bike", PriceValue: "50", PriceAsset: "USDC",
		Inventory: &inv, Deliverable: &deliv, PickupZip: "94110",
	}
}

func trackedRecord(reg *registry.Registry) *model.ApprovalRecord {
	rec := &model.ApprovalRecord{
		PostID:         "post1",
		TriggerID:      "trigger1",
		ConversationID: "g1",
		CreatorAddress: "0xCreator",
		Approvers:      make(map[string]struct{}),
		Listing:        completeListing(),
		Owner:          *testMerchant(),
		Draft:          &model.DealDraft{CreatorAddress: "0xCreator", StagingImageURL: "https://img.example/s.png"},
	}
	reg.PromoteDraft(model.ConvKey{ConversationID: "g1", Address: "0xCreator"}, rec)
	return rec
}

// expectPublish wires the transport, store, and listing repo calls a
// successful publication makes.
func expectPublish(api *mockTransport, store *mockStore, listings *mockListingRepo) {
	api.On("React", mock.Anything, "g1", "post1", "⏳").Return(nil)
	store.On("Download", mock.Anything, "https://img.example/s.png").Return([]byte{0x01}, "image/png", nil)
	store.On("Upload", mock.Anything, "permanent", []byte{0x01}, "image/png", false).
		Return("https://store.example/perm/abc", nil)
	listings.On("Create", mock.Anything, mock.Anything).Return(&model.ListingRecord{ID: "listing1"}, nil)
	api.On("RemoveReaction", mock.Anything, "g1", "post1", "⏳").Return(nil)
	api.On("SendReply", mock.Anything, "g1", "trigger1", mock.MatchedBy(func(text string) bool {
		return text == "🎉 Listing published: "+marketplaceURL+"/listings/listing1"
	})).Return("reply1", nil)
}

func newApprovalFixture(t *testing.T) (*ApprovalService, *registry.Registry, *mockTransport, *mockStore, *mockListingRepo) {
	t.Helper()
	reg := registry.New()
	api := &mockTransport{}
	store := &mockStore{}
	listings := &mockListingRepo{}
	svc := NewApprovalService(reg, api, store, listings, "permanent", marketplaceURL)
	return svc, reg, api, store, listings
}

func TestApproval_PublishGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("creator approval alone does not publish", func(t *testing.T) {
		svc, reg, api, _, listings := newApprovalFixture(t)
		rec := trackedRecord(reg)

		r := reactionMsg("r1", "g1", "u1", "post1", "👍")
		svc.HandleReaction(ctx, &r, "0xCreator")

		assert.True(t, rec.CreatorApproved)
		listings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		api.AssertNotCalled(t, "React", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("peer approvals alone never publish", func(t *testing.T) {
		svc, reg, _, _, listings := newApprovalFixture(t)
		rec := trackedRecord(reg)

		for _, peer := range []string{"0xPeer1", "0xPeer2", "0xPeer3"} {
			r := reactionMsg("r-"+peer, "g1", "u1", "post1", "👍")
			svc.HandleReaction(ctx, &r, peer)
		}

		assert.False(t, rec.CreatorApproved)
		assert.Len(t, rec.Approvers, 3)
		listings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("creator then peer publishes", func(t *testing.T) {
		svc, reg, api, store, listings := newApprovalFixture(t)
		trackedRecord(reg)
		expectPublish(api, store, listings)

		r1 := reactionMsg("r1", "g1", "u1", "post1", "👍")
		svc.HandleReaction(ctx, &r1, "0xCreator")
		r2 := reactionMsg("r2", "g1", "u2", "post1", "❤️")
		svc.HandleReaction(ctx, &r2, "0xPeer")

		listings.AssertNumberOfCalls(t, "Create", 1)
		api.AssertExpectations(t)
		_, ok := reg.Approval("post1")
		assert.False(t, ok, "record destroyed after publish")
	})

	t.Run("peer then creator publishes", func(t *testing.T) {
		svc, reg, api, store, listings := newApprovalFixture(t)
		trackedRecord(reg)
		expectPublish(api, store, listings)

		r1 := reactionMsg("r1", "g1", "u2", "post1", "👍")
		svc.HandleReaction(ctx, &r1, "0xPeer")
		r2 := reactionMsg("r2", "g1", "u1", "post1", "🔥")
		svc.HandleReaction(ctx, &r2, "0xCreator")

		listings.AssertNumberOfCalls(t, "Create", 1)
	})

	t.Run("creator approving twice counts once", func(t *testing.T) {
		svc, reg, _, _, listings := newApprovalFixture(t)
		rec := trackedRecord(reg)

		for i := 0; i < 2; i++ {
			r := reactionMsg("r1", "g1", "u1", "post1", "👍")
			svc.HandleReaction(ctx, &r, "0xCreator")
		}
		assert.True(t, rec.CreatorApproved)
		assert.Empty(t, rec.Approvers, "creator is not a peer approver")
		listings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unknown emoji is ignored", func(t *testing.T) {
		svc, reg, _, _, listings := newApprovalFixture(t)
		rec := trackedRecord(reg)

		r := reactionMsg("r1", "g1", "u1", "post1", "🤡")
		svc.HandleReaction(ctx, &r, "0xCreator")

		assert.False(t, rec.CreatorApproved)
		listings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestApproval_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("creator cancel deletes record and marks tombstone", func(t *testing.T) {
		svc, reg, api, _, _ := newApprovalFixture(t)
		trackedRecord(reg)
		api.On("React", mock.Anything, "g1", "post1", "🚫").Return(nil)

		r := reactionMsg("r1", "g1", "u1", "post1", "👎")
		svc.HandleReaction(ctx, &r, "0xCreator")

		_, ok := reg.Approval("post1")
		assert.False(t, ok)
		api.AssertExpectations(t)
	})

	t.Run("non-creator cancel is a no-op", func(t *testing.T) {
		svc, reg, api, _, _ := newApprovalFixture(t)
		rec := trackedRecord(reg)

		r := reactionMsg("r1", "g1", "u2", "post1", "👎")
		svc.HandleReaction(ctx, &r, "0xPeer")

		got, ok := reg.Approval("post1")
		require.True(t, ok, "record still present")
		assert.Same(t, rec, got)
		api.AssertNotCalled(t, "React", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestApproval_PublishFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("persistence failure keeps record for retry", func(t *testing.T) {
		svc, reg, api, store, listings := newApprovalFixture(t)
		trackedRecord(reg)

		api.On("React", mock.Anything, "g1", "post1", "⏳").Return(nil)
		store.On("Download", mock.Anything, mock.Anything).Return([]byte{0x01}, "image/png", nil)
		store.On("Upload", mock.Anything, "permanent", mock.Anything, "image/png", false).
			Return("https://store.example/perm/abc", nil)
		listings.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()
		api.On("RemoveReaction", mock.Anything, "g1", "post1", "⏳").Return(nil)
		api.On("SendReply", mock.Anything, "g1", "post1", mock.Anything).Return("err-reply", nil)

		r1 := reactionMsg("r1", "g1", "u1", "post1", "👍")
		svc.HandleReaction(ctx, &r1, "0xCreator")
		r2 := reactionMsg("r2", "g1", "u2", "post1", "👍")
		svc.HandleReaction(ctx, &r2, "0xPeer")

		rec, ok := reg.Approval("post1")
		require.True(t, ok, "record preserved after failure")
		assert.Equal(t, "https://store.example/perm/abc", rec.Draft.PermanentImageURL)

		// A retry reaction re-triggers the guard and succeeds.
		listings.On("Create", mock.Anything, mock.Anything).Return(&model.ListingRecord{ID: "listing1"}, nil)
		api.On("SendReply", mock.Anything, "g1", "trigger1", mock.Anything).Return("ok-reply", nil)

		r3 := reactionMsg("r3", "g1", "u3", "post1", "👍")
		svc.HandleReaction(ctx, &r3, "0xPeer2")

		_, ok = reg.Approval("post1")
		assert.False(t, ok, "record destroyed after successful retry")
		listings.AssertNumberOfCalls(t, "Create", 2)
		// Permanent image resolved once; the retry reuses it.
		store.AssertNumberOfCalls(t, "Download", 1)
	})

	t.Run("image promotion failure aborts and keeps record", func(t *testing.T) {
		svc, reg, api, store, listings := newApprovalFixture(t)
		trackedRecord(reg)

		api.On("React", mock.Anything, "g1", "post1", "⏳").Return(nil)
		store.On("Download", mock.Anything, mock.Anything).Return(nil, "", errors.New("staging expired"))
		api.On("RemoveReaction", mock.Anything, "g1", "post1", "⏳").Return(nil)
		api.On("SendReply", mock.Anything, "g1", "post1", mock.Anything).Return("err-reply", nil)

		r1 := reactionMsg("r1", "g1", "u1", "post1", "👍")
		svc.HandleReaction(ctx, &r1, "0xCreator")
		r2 := reactionMsg("r2", "g1", "u2", "post1", "👍")
		svc.HandleReaction(ctx, &r2, "0xPeer")

		_, ok := reg.Approval("post1")
		assert.True(t, ok)
		listings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestApproval_AtMostOncePublish(t *testing.T) {
	// Parallel qualifying reactions must produce exactly one persistence
	// call even though each observes a publishable record.
	svc, reg, api, store, listings := newApprovalFixture(t)
	rec := trackedRecord(reg)
	rec.CreatorApproved = true
	expectPublish(api, store, listings)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r := reactionMsg("r", "g1", "u", "post1", "👍")
			svc.HandleReaction(context.Background(), &r, "0xPeer")
		}(i)
	}
	wg.Wait()

	listings.AssertNumberOfCalls(t, "Create", 1)
}
