package jobs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/registry"
)

// CleanupJob sweeps the deal registry for drafts and approval records
// idle past their TTLs. Abandoned drafts would otherwise accumulate
// until restart.
type CleanupJob struct {
	registry    *registry.Registry
	interval    time.Duration
	draftTTL    time.Duration
	approvalTTL time.Duration
	done        chan struct{}
}

func NewCleanupJob(reg *registry.Registry, interval, draftTTL, approvalTTL time.Duration) *CleanupJob {
	return &CleanupJob{
		registry:    reg,
		interval:    interval,
		draftTTL:    draftTTL,
		approvalTTL: approvalTTL,
		done:        make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("draftTTL", j.draftTTL).
		Dur("approvalTTL", j.approvalTTL).
		Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *CleanupJob) sweep() {
	drafts, approvals := j.registry.ExpireStale(time.Now(), j.draftTTL, j.approvalTTL)
	if drafts > 0 || approvals > 0 {
		log.Info().
			Int64("drafts", drafts).
			Int64("approvals", approvals).
			Msg("expired stale deal state")
	}
}
