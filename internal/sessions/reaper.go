package sessions

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

// Reap marks participants idle for longer than the heartbeat timeout as left. It returns
// how many participants timed out.
func (r *Registry) Reap(now time.Time) int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.session.Status == models.SessionActive {
			// withdrawing a waiter edits e.order
			ids := append([]string(nil), e.order...)
			for _, id := range ids {
				p, ok := e.participants[id]
				if !ok {
					continue
				}
				if e.session.Status == models.SessionEnded {
					break
				}
				if now.Sub(p.LastActivity) <= r.cfg.HeartbeatTimeout {
					continue
				}
				switch {
				case p.Pending:
					r.withdrawLocked(e, p, ReasonTimeout)
					n++
				case p.IsActive:
					r.leaveLocked(e, p, ReasonTimeout)
					n++
				}
			}
		}
		e.mu.Unlock()
	}
	if n > 0 {
		metrics.ParticipantsTimedOut.Add(float64(n))
	}
	return n
}

// Prune removes sessions that ended more than Retention ago and returns their ids.
func (r *Registry) Prune(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, e := range r.sessions {
		e.mu.Lock()
		end := e.session.EndTime
		e.mu.Unlock()
		if end != nil && now.Sub(*end) > r.cfg.Retention {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Run reaps idle participants and prunes old sessions every interval until ctx is done.
// onPrune is called with the ids of pruned sessions so dependent state can be dropped.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onPrune func(sessionIDs []string)) {
	if interval <= 0 {
		interval = r.cfg.HeartbeatTimeout / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.now()
			if n := r.Reap(now); n > 0 {
				r.logger.Info("participants timed out", zap.Int("count", n))
			}
			if ids := r.Prune(now); len(ids) > 0 {
				r.logger.Info("sessions pruned", zap.Int("count", len(ids)))
				if onPrune != nil {
					onPrune(ids)
				}
			}
		}
	}
}
