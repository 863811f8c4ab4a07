package sessionlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/sessions"
)

const defaultBuffer = 1024

// Store persists attendance. Repository implements it.
type Store interface {
	LogJoin(ctx context.Context, sessionID, videoID, userID string, at time.Time) error
	LogLeave(ctx context.Context, sessionID, userID, reason string, at time.Time) error
	CloseSession(ctx context.Context, sessionID string, at time.Time) error
}

type entry struct {
	ev sessions.Event
	at time.Time
}

// Recorder writes registry events to the attendance log off the request path.
type Recorder struct {
	store  Store
	queue  chan entry
	logger *zap.Logger
}

// NewRecorder creates a recorder with a bounded queue.
func NewRecorder(store Store, buffer int, logger *zap.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, queue: make(chan entry, buffer), logger: logger}
}

// Record queues an event. It never blocks: when the queue is full the event is dropped.
func (r *Recorder) Record(ev sessions.Event) {
	switch ev.Type {
	case sessions.EventParticipantJoined, sessions.EventParticipantLeft, sessions.EventSessionEnded:
	default:
		return
	}
	at := time.Now()
	if ev.Message != nil && !ev.Message.Timestamp.IsZero() {
		at = ev.Message.Timestamp
	}
	select {
	case r.queue <- entry{ev: ev, at: at}:
	default:
		metrics.AttendanceDropped.Inc()
		r.logger.Warn("attendance queue full, event dropped",
			zap.String("session_id", ev.SessionID), zap.String("type", string(ev.Type)))
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case e := <-r.queue:
			r.write(ctx, e)
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e entry) {
	var err error
	switch e.ev.Type {
	case sessions.EventParticipantJoined:
		err = r.store.LogJoin(ctx, e.ev.SessionID, e.ev.VideoID, e.ev.UserID, e.at)
	case sessions.EventParticipantLeft:
		err = r.store.LogLeave(ctx, e.ev.SessionID, e.ev.UserID, e.ev.Reason, e.at)
	case sessions.EventSessionEnded:
		err = r.store.CloseSession(ctx, e.ev.SessionID, e.at)
	}
	if err != nil {
		r.logger.Error("attendance write failed",
			zap.String("session_id", e.ev.SessionID), zap.String("type", string(e.ev.Type)), zap.Error(err))
	}
}
