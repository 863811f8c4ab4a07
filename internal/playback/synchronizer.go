// Package playback keeps one authoritative playback state per session and orders every
// accepted control command.
package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

const defaultLogSize = 1000

// Authorizer decides who may drive playback. sessions.Registry implements it.
type Authorizer interface {
	Authorize(sessionID, actorID string) (uint64, error)
	ControlEpoch(sessionID string) uint64
}

var errEpochChanged = apperr.New(apperr.KindConflict, "control_changed", "control changed while the command was in flight")

type state struct {
	mu         sync.Mutex
	status     models.PlaybackStatus
	anchorTime float64
	anchorWall time.Time
	duration   float64
	log        []models.ControlEvent
	seq        atomic.Uint64
}

// position is the derived current time; callers hold s.mu.
func (s *state) position(now time.Time) float64 {
	pos := s.anchorTime
	if s.status == models.StatusPlaying {
		pos += now.Sub(s.anchorWall).Seconds()
	}
	if s.duration > 0 {
		pos = math.Min(pos, s.duration)
	}
	return math.Max(pos, 0)
}

func (s *state) snapshotLocked(sessionID string, now time.Time) models.PlaybackSnapshot {
	return models.PlaybackSnapshot{
		SessionID:       sessionID,
		Status:          s.status,
		CurrentTime:     s.position(now),
		Sequence:        s.seq.Load(),
		AnchorTime:      s.anchorTime,
		AnchorWallClock: s.anchorWall,
		ServerTime:      now,
	}
}

// AcceptFunc observes accepted commands. It runs under the session's playback lock, in
// sequence order, and must not block or call back into the synchronizer.
type AcceptFunc func(ev models.ControlEvent, snap models.PlaybackSnapshot)

// Synchronizer holds playback state by session id.
type Synchronizer struct {
	mu       sync.RWMutex
	sessions map[string]*state
	auth     Authorizer
	logSize  int
	logger   *zap.Logger
	now      func() time.Time
	onAccept atomic.Pointer[AcceptFunc]
}

// New creates a synchronizer that checks control rights against auth.
func New(auth Authorizer, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		sessions: make(map[string]*state),
		auth:     auth,
		logSize:  defaultLogSize,
		logger:   logger,
		now:      time.Now,
	}
}

// SetAcceptHandler sets the observer of accepted commands.
func (s *Synchronizer) SetAcceptHandler(fn AcceptFunc) {
	s.onAccept.Store(&fn)
}

// SetClock overrides the wall clock (tests).
func (s *Synchronizer) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Synchronizer) state(sessionID string) *state {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.sessions[sessionID]; !ok {
		st = &state{status: models.StatusPaused, anchorWall: s.now()}
		s.sessions[sessionID] = st
	}
	return st
}

// SubmitControl validates and applies a playback command. duration is the client's known
// video length; zero or negative means unknown. A control change racing with the command
// is retried once before surfacing as Conflict.
func (s *Synchronizer) SubmitControl(sessionID, actorID string, action models.ControlAction, value *float64, duration float64) (models.ControlEvent, error) {
	if !action.Valid() {
		metrics.ControlRejected.WithLabelValues("invalid_action").Inc()
		return models.ControlEvent{}, apperr.Newf(apperr.KindInvalidArgument, "invalid_action", "unknown action %q", action)
	}
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var ev models.ControlEvent
		ev, err = s.submit(sessionID, actorID, action, value, duration)
		if !errors.Is(err, errEpochChanged) {
			if err != nil {
				metrics.ControlRejected.WithLabelValues(apperr.CodeOf(err)).Inc()
				return ev, err
			}
			metrics.ControlEvents.WithLabelValues(string(action)).Inc()
			return ev, nil
		}
	}
	metrics.ControlRejected.WithLabelValues("conflict").Inc()
	return models.ControlEvent{}, err
}

func (s *Synchronizer) submit(sessionID, actorID string, action models.ControlAction, value *float64, duration float64) (models.ControlEvent, error) {
	epoch, err := s.auth.Authorize(sessionID, actorID)
	if err != nil {
		return models.ControlEvent{}, err
	}

	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if s.auth.ControlEpoch(sessionID) != epoch {
		return models.ControlEvent{}, fmt.Errorf("session %s: %w", sessionID, errEpochChanged)
	}
	if duration <= 0 {
		duration = st.duration
	}
	if action == models.ActionSeek {
		if err := validateSeek(value, duration); err != nil {
			return models.ControlEvent{}, err
		}
	}
	st.duration = duration

	now := s.now()
	switch action {
	case models.ActionPlay:
		st.anchorTime = st.position(now)
		st.status = models.StatusPlaying
	case models.ActionPause:
		st.anchorTime = st.position(now)
		st.status = models.StatusPaused
	case models.ActionSeek:
		st.anchorTime = *value
	}
	st.anchorWall = now

	ev := models.ControlEvent{
		SessionID: sessionID,
		ActorID:   actorID,
		Action:    action,
		Timestamp: now,
		Sequence:  st.seq.Add(1),
	}
	if value != nil && action == models.ActionSeek {
		v := *value
		ev.Value = &v
	}
	st.log = append(st.log, ev)
	if over := len(st.log) - s.logSize; over > 0 {
		st.log = append(st.log[:0:0], st.log[over:]...)
	}
	s.logger.Debug("control accepted",
		zap.String("session_id", sessionID), zap.String("actor_id", actorID),
		zap.String("action", string(action)), zap.Uint64("sequence", ev.Sequence))
	if fn := s.onAccept.Load(); fn != nil && *fn != nil {
		(*fn)(ev, st.snapshotLocked(sessionID, now))
	}
	return ev, nil
}

func validateSeek(value *float64, duration float64) error {
	if value == nil || math.IsNaN(*value) || *value < 0 {
		return apperr.New(apperr.KindInvalidArgument, "invalid_seek", "seek position must be a non-negative number")
	}
	if duration > 0 && *value > duration {
		return apperr.Newf(apperr.KindInvalidArgument, "invalid_seek", "seek position %.2f is beyond the video duration %.2f", *value, duration)
	}
	return nil
}

// Reconcile returns the authoritative position without replaying the log.
func (s *Synchronizer) Reconcile(sessionID string) models.PlaybackSnapshot {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked(sessionID, s.now())
}

// Events returns retained control events with a sequence above afterSeq. complete is false
// when older events were already discarded and the caller should Reconcile instead.
func (s *Synchronizer) Events(sessionID string, afterSeq uint64) (events []models.ControlEvent, complete bool) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	complete = true
	if len(st.log) > 0 && st.log[0].Sequence > afterSeq+1 {
		complete = false
	}
	for _, ev := range st.log {
		if ev.Sequence > afterSeq {
			events = append(events, ev)
		}
	}
	return events, complete
}

// Sequence returns the sequence of the last accepted control event. It never blocks on the
// session lock, so registry notifiers may call it.
func (s *Synchronizer) Sequence(sessionID string) uint64 {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return st.seq.Load()
}

// Forget drops a session's playback state.
func (s *Synchronizer) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
