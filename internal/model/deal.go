package model

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// UnlimitedInventory marks a listing for a service with no stock limit.
const UnlimitedInventory = -1

// ConvKey scopes an in-progress draft to one participant in one
// conversation. Two members of the same group build independent drafts.
type ConvKey struct {
	ConversationID string
	Address        string
}

// DealDraft is a candidate listing under construction. It lives only in
// the process-wide registry; a restart drops it.
type DealDraft struct {
	CreatorAddress    string
	SourceImage       *Message // inbound attachment, borrowed until uploaded
	AggregatedText    string
	StagingImageURL   string
	PermanentImageURL string
	LastActivity      time.Time
}

// Listing is the structured output of AI generation after defaulting.
// Inventory and Deliverable are pointers so that 0 and false remain
// distinguishable from "not returned by the model".
type Listing struct {
	Title       string
	Description string
	PriceValue  string
	PriceAsset  string
	Inventory   *int
	PickupZip   string
	Deliverable *bool
}

// Complete reports whether all seven mandatory fields are defined.
// Inventory and Deliverable are checked for definedness, not truthiness.
func (l *Listing) Complete() bool {
	return l.Title != "" &&
		l.Description != "" &&
		l.PriceValue != "" &&
		l.PriceAsset != "" &&
		l.Inventory != nil &&
		l.Deliverable != nil &&
		l.PickupZip != ""
}

// ApprovalRecord tracks a posted draft awaiting social approval. It is
// keyed by the id of the agent's own draft post and owns its DealDraft:
// deleting the record destroys the draft.
type ApprovalRecord struct {
	PostID          string // id of the agent's draft announcement
	TriggerID       string // message that started the draft; publish reply target
	ConversationID  string
	CreatorAddress  string
	CreatorApproved bool
	Approvers       map[string]struct{} // non-creator addresses that approved
	Listing         Listing
	Owner           Merchant
	Draft           *DealDraft
	LastActivity    time.Time

	mu         sync.Mutex
	publishing atomic.Bool
}

// Approve records one positive reaction. Safe under parallel delivery.
// It returns the approval tallies after the update.
func (r *ApprovalRecord) Approve(senderAddress string, isCreator bool) (creatorApproved bool, approvers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isCreator {
		r.CreatorApproved = true
	} else {
		r.Approvers[strings.ToLower(senderAddress)] = struct{}{}
	}
	r.LastActivity = time.Now()
	return r.CreatorApproved, len(r.Approvers)
}

// Idle reports whether the record has seen no activity for longer than
// ttl. Used by the registry sweeper, which runs off the worker thread.
func (r *ApprovalRecord) Idle(now time.Time, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.LastActivity) > ttl
}

// Publishable reports whether the publish guard is satisfied.
func (r *ApprovalRecord) Publishable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CreatorApproved && len(r.Approvers) >= 1
}

// TryBeginPublish atomically claims the record for publication. At most
// one caller wins until EndPublish releases the claim, so the publish
// procedure runs at most once per record even under parallel delivery.
func (r *ApprovalRecord) TryBeginPublish() bool {
	return r.publishing.CompareAndSwap(false, true)
}

// EndPublish releases the publish claim so a later retry reaction can
// re-trigger the guard after a persistence failure.
func (r *ApprovalRecord) EndPublish() {
	r.publishing.Store(false)
}
