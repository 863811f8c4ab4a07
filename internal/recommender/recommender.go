// Package recommender turns content-complexity scores into per-viewer playback-speed
// recommendations and arbitrates when a recommendation is actually applied.
package recommender

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/complexity"
	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

const (
	MinSpeed     = 0.5
	MaxSpeed     = 2.0
	DefaultSpeed = 1.0

	defaultThreshold  = 0.25
	defaultApplyDelay = 2 * time.Second
	defaultCadence    = 10.0 // seconds of playback time
	defaultIdleTTL    = 30 * time.Minute
)

// Config tunes hysteresis and analysis cadence.
type Config struct {
	Threshold  float64       // minimum |recommended - applied| that schedules a change
	ApplyDelay time.Duration // preview window during which the viewer may cancel
	Cadence    float64       // minimum playback seconds between analyses
	IdleTTL    time.Duration // viewer state untouched this long is dropped by Prune
}

// Proficiency is the per-viewer history the mapping takes into account.
type Proficiency struct {
	SubjectKnowledge float64 // 0 beginner .. 1 expert
	PreferredSpeed   float64 // 0.5 .. 2.0
}

// ProficiencyProvider supplies viewer proficiency for a video.
type ProficiencyProvider interface {
	Proficiency(ctx context.Context, userID, videoID string) Proficiency
}

// DefaultProficiency returns moderate knowledge at normal speed for everyone.
type DefaultProficiency struct{}

// Proficiency implements ProficiencyProvider.
func (DefaultProficiency) Proficiency(context.Context, string, string) Proficiency {
	return Proficiency{SubjectKnowledge: 0.5, PreferredSpeed: DefaultSpeed}
}

// ApplyFunc is invoked when a pending speed change reaches its apply time.
type ApplyFunc func(videoID, userID string, speed float64)

// AnalyzeRequest is one analysis tick from a viewer's player.
type AnalyzeRequest struct {
	VideoID    string
	UserID     string
	TimeCode   float64
	Transcript string
	Paused     bool
}

type viewerKey struct{ videoID, userID string }

type pendingChange struct {
	speed float64
	timer *time.Timer
}

type viewer struct {
	applied      float64
	last         *models.SpeedRecommendation
	lastAnalyzed float64
	analyzed     bool
	pending      *pendingChange
	seen         time.Time
}

// Recommender keeps the latest recommendation and applied speed per (video, viewer).
type Recommender struct {
	scorer      complexity.Scorer
	proficiency ProficiencyProvider
	cfg         Config
	logger      *zap.Logger

	mu      sync.Mutex
	viewers map[viewerKey]*viewer
	onApply ApplyFunc
	now     func() time.Time
}

// New creates a recommender. A nil proficiency provider uses DefaultProficiency.
func New(scorer complexity.Scorer, proficiency ProficiencyProvider, cfg Config, logger *zap.Logger) *Recommender {
	if proficiency == nil {
		proficiency = DefaultProficiency{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.ApplyDelay <= 0 {
		cfg.ApplyDelay = defaultApplyDelay
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = defaultCadence
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	return &Recommender{
		scorer:      scorer,
		proficiency: proficiency,
		cfg:         cfg,
		logger:      logger,
		viewers:     make(map[viewerKey]*viewer),
		now:         time.Now,
	}
}

// SetClock replaces the time source. Tests only; call before use.
func (r *Recommender) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetApplyHandler sets the callback for applied speed changes.
func (r *Recommender) SetApplyHandler(fn ApplyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onApply = fn
}

// Analyze scores the current position and returns a recommendation. It returns (nil, nil)
// when no analysis is due: the player is paused or less than Cadence seconds of playback
// have passed since the previous analysis. Scorer failures never surface: the previous
// recommendation (or 1.0x with zero confidence) is returned instead.
func (r *Recommender) Analyze(ctx context.Context, req AnalyzeRequest) (*models.SpeedRecommendation, error) {
	if req.Paused {
		return nil, nil
	}
	key := viewerKey{req.VideoID, req.UserID}

	r.mu.Lock()
	v := r.viewerLocked(key)
	if v.analyzed && math.Abs(req.TimeCode-v.lastAnalyzed) < r.cfg.Cadence {
		r.mu.Unlock()
		return nil, nil
	}
	v.analyzed = true
	v.lastAnalyzed = req.TimeCode
	r.mu.Unlock()

	m, err := r.scorer.Score(ctx, req.VideoID, req.TimeCode, req.Transcript)
	if err != nil {
		r.logger.Warn("complexity scorer failed, using last recommendation",
			zap.String("video_id", req.VideoID), zap.String("user_id", req.UserID), zap.Error(err))
		metrics.RecommendationsIssued.WithLabelValues("fallback").Inc()
		return r.fallback(key, req), nil
	}

	prof := r.proficiency.Proficiency(ctx, req.UserID, req.VideoID)
	rec := Compute(m, prof)
	rec.VideoID = req.VideoID
	rec.UserID = req.UserID
	rec.TimeCode = req.TimeCode

	r.mu.Lock()
	rec.ProducedAt = r.now()
	defer r.mu.Unlock()
	v = r.viewerLocked(key)
	if math.Abs(rec.RecommendedSpeed-v.applied) >= r.cfg.Threshold-1e-9 {
		r.scheduleLocked(key, v, rec.RecommendedSpeed)
		rec.ApplyAfterMs = r.cfg.ApplyDelay.Milliseconds()
		metrics.RecommendationsIssued.WithLabelValues("scheduled").Inc()
	} else {
		// A newer recommendation within the threshold supersedes any pending change.
		r.cancelLocked(v)
		metrics.RecommendationsIssued.WithLabelValues("unchanged").Inc()
	}
	stored := rec
	v.last = &stored
	return &rec, nil
}

func (r *Recommender) fallback(key viewerKey, req AnalyzeRequest) *models.SpeedRecommendation {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.viewerLocked(key)
	if v.last != nil {
		prev := *v.last
		prev.ApplyAfterMs = 0
		return &prev
	}
	return &models.SpeedRecommendation{
		VideoID:          req.VideoID,
		UserID:           req.UserID,
		TimeCode:         req.TimeCode,
		RecommendedSpeed: DefaultSpeed,
		Confidence:       0,
		Reasoning:        "Complexity analysis is unavailable; keeping normal speed.",
		ProducedAt:       r.now(),
	}
}

// scheduleLocked replaces any pending change with a new one and restarts the delay window.
func (r *Recommender) scheduleLocked(key viewerKey, v *viewer, speed float64) {
	r.cancelLocked(v)
	p := &pendingChange{speed: speed}
	p.timer = time.AfterFunc(r.cfg.ApplyDelay, func() { r.apply(key, p) })
	v.pending = p
}

func (r *Recommender) cancelLocked(v *viewer) bool {
	if v.pending == nil {
		return false
	}
	v.pending.timer.Stop()
	v.pending = nil
	return true
}

func (r *Recommender) apply(key viewerKey, p *pendingChange) {
	r.mu.Lock()
	v, ok := r.viewers[key]
	if !ok || v.pending != p {
		// cancelled or superseded after the timer fired
		r.mu.Unlock()
		return
	}
	v.pending = nil
	v.applied = p.speed
	onApply := r.onApply
	r.mu.Unlock()

	metrics.SpeedChangesApplied.Inc()
	r.logger.Debug("speed change applied",
		zap.String("video_id", key.videoID), zap.String("user_id", key.userID), zap.Float64("speed", p.speed))
	if onApply != nil {
		onApply(key.videoID, key.userID, p.speed)
	}
}

// Cancel drops the viewer's pending speed change. It reports whether one was pending.
func (r *Recommender) Cancel(videoID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[viewerKey{videoID, userID}]
	if !ok {
		return false
	}
	return r.cancelLocked(v)
}

// Pending reports whether a speed change is waiting for its apply time.
func (r *Recommender) Pending(videoID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[viewerKey{videoID, userID}]
	return ok && v.pending != nil
}

// Applied returns the speed currently in effect for the viewer.
func (r *Recommender) Applied(videoID, userID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.viewers[viewerKey{videoID, userID}]; ok {
		return v.applied
	}
	return DefaultSpeed
}

// SetApplied records a manual speed choice by the viewer and cancels any pending change.
func (r *Recommender) SetApplied(videoID, userID string, speed float64) float64 {
	speed = clampSpeed(speed)
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.viewerLocked(viewerKey{videoID, userID})
	r.cancelLocked(v)
	v.applied = speed
	return speed
}

// Latest returns the last successful recommendation, if any.
func (r *Recommender) Latest(videoID, userID string) (models.SpeedRecommendation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[viewerKey{videoID, userID}]
	if !ok || v.last == nil {
		return models.SpeedRecommendation{}, false
	}
	return *v.last, true
}

// Forget cancels the viewer's pending change and drops their state. It reports whether a
// change was pending.
func (r *Recommender) Forget(videoID, userID string) bool {
	key := viewerKey{videoID, userID}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[key]
	if !ok {
		return false
	}
	cancelled := r.cancelLocked(v)
	delete(r.viewers, key)
	return cancelled
}

// Prune drops viewers untouched for IdleTTL that have no pending change and returns
// how many were removed.
func (r *Recommender) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, v := range r.viewers {
		if v.pending == nil && now.Sub(v.seen) > r.cfg.IdleTTL {
			delete(r.viewers, key)
			n++
		}
	}
	return n
}

// Run prunes idle viewers every interval until ctx is done.
func (r *Recommender) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.cfg.IdleTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			now := r.now()
			r.mu.Unlock()
			if n := r.Prune(now); n > 0 {
				r.logger.Debug("idle viewers pruned", zap.Int("count", n))
			}
		}
	}
}

// Close stops every pending timer.
func (r *Recommender) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.viewers {
		r.cancelLocked(v)
	}
}

// viewerLocked returns the viewer's state, creating it on first use, and marks it seen.
func (r *Recommender) viewerLocked(key viewerKey) *viewer {
	v, ok := r.viewers[key]
	if !ok {
		v = &viewer{applied: DefaultSpeed}
		r.viewers[key] = v
	}
	v.seen = r.now()
	return v
}
