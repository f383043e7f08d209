// Package registry holds the process-wide deal state: drafts under
// construction keyed by (conversation, creator address), and approval
// records keyed by the id of the agent's own draft post. Nothing here
// is durable; a restart drops all in-flight deals.
package registry

import (
	"sync"
	"time"

	"github.com/p2deal/dealbot/internal/model"
)

type Registry struct {
	mu        sync.Mutex
	drafts    map[model.ConvKey]*model.DealDraft
	approvals map[string]*model.ApprovalRecord
}

func New() *Registry {
	return &Registry{
		drafts:    make(map[model.ConvKey]*model.DealDraft),
		approvals: make(map[string]*model.ApprovalRecord),
	}
}

func (r *Registry) Draft(key model.ConvKey) (*model.DealDraft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[key]
	return d, ok
}

// PutDraft installs or refreshes a draft and stamps its activity time.
// Draft activity is tracked here, under the registry lock, because the
// sweeper reads it from another goroutine.
func (r *Registry) PutDraft(key model.ConvKey, draft *model.DealDraft) {
	r.mu.Lock()
	defer r.mu.Unlock()
	draft.LastActivity = time.Now()
	r.drafts[key] = draft
}

func (r *Registry) DeleteDraft(key model.ConvKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drafts, key)
}

func (r *Registry) Approval(postID string) (*model.ApprovalRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.approvals[postID]
	return rec, ok
}

// HasApproval is the classifier's lookup: it answers whether a reaction
// target is a tracked draft post without exposing the record.
func (r *Registry) HasApproval(postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.approvals[postID]
	return ok
}

func (r *Registry) HasDraft(key model.ConvKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.drafts[key]
	return ok
}

// PromoteDraft moves a posted draft out of the construction map and
// installs its approval record. The record owns the draft from here on.
func (r *Registry) PromoteDraft(key model.ConvKey, rec *model.ApprovalRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drafts, key)
	r.approvals[rec.PostID] = rec
}

// DeleteApproval removes a record and, because the record owns its
// draft, the draft dies with it.
func (r *Registry) DeleteApproval(postID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.approvals, postID)
}

func (r *Registry) Counts() (drafts, approvals int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drafts), len(r.approvals)
}

// ExpireStale sweeps entries idle past their TTL. Records mid-publish
// are skipped; the publish procedure decides their fate.
func (r *Registry) ExpireStale(now time.Time, draftTTL, approvalTTL time.Duration) (drafts, approvals int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, d := range r.drafts {
		if now.Sub(d.LastActivity) > draftTTL {
			delete(r.drafts, key)
			drafts++
		}
	}
	for id, rec := range r.approvals {
		if rec.Idle(now, approvalTTL) {
			if !rec.TryBeginPublish() {
				continue
			}
			delete(r.approvals, id)
			approvals++
		}
	}
	return drafts, approvals
}
