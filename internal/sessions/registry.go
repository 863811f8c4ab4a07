// Package sessions owns the lifecycle, membership and control permissions of group viewing sessions.
package sessions

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

const (
	defaultHeartbeatTimeout = 30 * time.Second
	defaultRetention        = time.Hour
	defaultMaxMessages      = 5000
)

// Config holds registry tuning.
type Config struct {
	HeartbeatTimeout time.Duration // idle participants are marked inactive after this
	Retention        time.Duration // ended sessions are pruned after this
	MaxMessages      int           // transcript cap per session
}

var (
	errSessionNotFound = apperr.New(apperr.KindNotFound, "session_not_found", "session not found")
	errSessionEnded    = apperr.New(apperr.KindConflict, "session_ended", "session has ended")
	errNotHost         = apperr.New(apperr.KindForbidden, "not_host", "You are not the host")
	errNotParticipant  = apperr.New(apperr.KindForbidden, "not_participant", "You are not an active participant of this session")
	errNoControl       = apperr.New(apperr.KindForbidden, "no_control", "You do not have playback control")
)

// entry is the single owner of one session's mutable state.
type entry struct {
	mu           sync.Mutex
	session      models.Session
	participants map[string]*models.Participant
	order        []string // join order, for host transfer
	delegate     string   // non-host participant holding control
	controlEpoch uint64   // bumped whenever the set of controllers changes
	messages     []models.Message
}

// Registry holds sessions by id. Operations on different sessions never contend
// beyond the brief map lookup.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	cfg      Config
	logger   *zap.Logger
	notify   atomic.Pointer[Notifier]
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxMessages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*entry),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier sets the event sink.
func (r *Registry) SetNotifier(fn Notifier) {
	r.notify.Store(&fn)
}

// SetClock overrides the wall clock (tests).
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) emit(ev Event) {
	if fn := r.notify.Load(); fn != nil && *fn != nil {
		(*fn)(ev)
	}
}

func (r *Registry) get(sessionID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, errSessionNotFound)
	}
	return e, nil
}

// CreateOptions are the optional attributes of a new session.
type CreateOptions struct {
	Name     string
	CourseID string
	GroupID  string
	Settings models.SessionSettings
}

// ValidateSettings rejects contradictory flag combinations. Requiring a hand raise while
// participant control is allowed and auto-accept is off is legal: the hand raise is then
// the control-request gate.
func ValidateSettings(s models.SessionSettings) error {
	if s.AutoAcceptHandRaise && !s.AllowParticipantControl {
		return apperr.New(apperr.KindInvalidArgument, "invalid_settings",
			"auto_accept_hand_raise requires allow_participant_control")
	}
	if s.MaxParticipants < 0 {
		return apperr.New(apperr.KindInvalidArgument, "invalid_settings", "max_participants must not be negative")
	}
	return nil
}

// Create starts a session with hostID as its host and only active participant.
func (r *Registry) Create(hostID, hostName, videoID string, opts CreateOptions) (models.Session, error) {
	if hostID == "" || videoID == "" {
		return models.Session{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "host and video are required")
	}
	if err := ValidateSettings(opts.Settings); err != nil {
		return models.Session{}, err
	}
	now := r.now()
	e := &entry{
		session: models.Session{
			ID:        uuid.New().String(),
			Name:      opts.Name,
			VideoID:   videoID,
			HostID:    hostID,
			CourseID:  opts.CourseID,
			GroupID:   opts.GroupID,
			Status:    models.SessionActive,
			StartTime: now,
			Settings:  opts.Settings,
		},
		participants: make(map[string]*models.Participant),
	}
	e.participants[hostID] = &models.Participant{
		UserID:       hostID,
		DisplayName:  displayName(hostName, hostID),
		Role:         models.RoleHost,
		JoinTime:     now,
		IsActive:     true,
		HasControl:   true,
		LastActivity: now,
	}
	e.order = append(e.order, hostID)
	r.appendSystem(e, fmt.Sprintf("%s started the session", displayName(hostName, hostID)))

	r.mu.Lock()
	r.sessions[e.session.ID] = e
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	r.logger.Info("session created",
		zap.String("session_id", e.session.ID), zap.String("video_id", videoID), zap.String("host_id", hostID))
	return e.session, nil
}

// Join adds or reactivates a participant. In a waiting-room session non-hosts join as
// pending and are not active until admitted.
func (r *Registry) Join(sessionID, userID, name string) (models.SessionView, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == models.SessionEnded {
		return models.SessionView{}, fmt.Errorf("join %s: %w", sessionID, errSessionEnded)
	}
	now := r.now()
	name = displayName(name, userID)

	if p, ok := e.participants[userID]; ok {
		p.LastActivity = now
		if p.IsActive || p.Pending {
			return r.viewLocked(e, userID), nil
		}
		if err := r.checkCapacityLocked(e); err != nil && p.Role != models.RoleHost {
			return models.SessionView{}, err
		}
		p.IsActive = true
		p.LeaveTime = nil
		p.DisplayName = name
		msg := r.appendSystem(e, fmt.Sprintf("%s rejoined the session", name))
		r.emitParticipant(e, EventParticipantJoined, p, userID, ReasonRejoined, msg)
		return r.viewLocked(e, userID), nil
	}

	if err := r.checkCapacityLocked(e); err != nil {
		return models.SessionView{}, err
	}
	p := &models.Participant{
		UserID:       userID,
		DisplayName:  name,
		Role:         models.RoleParticipant,
		JoinTime:     now,
		LastActivity: now,
	}
	e.participants[userID] = p
	e.order = append(e.order, userID)

	if e.session.Settings.WaitingRoom {
		p.Pending = true
		msg := r.appendSystem(e, fmt.Sprintf("%s is waiting to be admitted", name))
		r.emitParticipant(e, EventParticipantWaiting, p, userID, "", msg)
		return r.viewLocked(e, userID), nil
	}
	p.IsActive = true
	msg := r.appendSystem(e, fmt.Sprintf("%s joined the session", name))
	r.emitParticipant(e, EventParticipantJoined, p, userID, "", msg)
	return r.viewLocked(e, userID), nil
}

func (r *Registry) checkCapacityLocked(e *entry) error {
	max := e.session.Settings.MaxParticipants
	if max <= 0 {
		return nil
	}
	n := 0
	for _, p := range e.participants {
		if p.IsActive || p.Pending {
			n++
		}
	}
	if n >= max {
		return apperr.New(apperr.KindConflict, "session_full", "session is full")
	}
	return nil
}

// Admit moves a pending participant into the session. Host only.
func (r *Registry) Admit(sessionID, hostID, userID string) (models.Participant, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.Participant{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := r.requireHostLocked(e, hostID); err != nil {
		return models.Participant{}, err
	}
	p, ok := e.participants[userID]
	if !ok || !p.Pending {
		return models.Participant{}, apperr.New(apperr.KindNotFound, "participant_not_found", "no pending participant with that id")
	}
	now := r.now()
	p.Pending = false
	p.IsActive = true
	p.LastActivity = now
	msg := r.appendSystem(e, fmt.Sprintf("%s was admitted", p.DisplayName))
	r.emitParticipant(e, EventParticipantJoined, p, hostID, ReasonAdmitted, msg)
	return *p, nil
}

// Leave marks a participant inactive. Leaving twice is a no-op.
func (r *Registry) Leave(sessionID, userID string) error {
	e, err := r.get(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == models.SessionEnded {
		return nil
	}
	p, ok := e.participants[userID]
	if !ok {
		return nil
	}
	if p.Pending {
		r.withdrawLocked(e, p, ReasonLeft)
		return nil
	}
	if !p.IsActive {
		return nil
	}
	r.leaveLocked(e, p, ReasonLeft)
	return nil
}

// withdrawLocked removes a never-admitted participant; joining again puts them back in the
// waiting room.
func (r *Registry) withdrawLocked(e *entry, p *models.Participant, reason string) {
	now := r.now()
	p.Pending = false
	p.LeaveTime = &now
	delete(e.participants, p.UserID)
	for i, id := range e.order {
		if id == p.UserID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	verb := "left the waiting room"
	if reason == ReasonTimeout {
		verb = "timed out in the waiting room"
	}
	msg := r.appendSystem(e, fmt.Sprintf("%s %s", p.DisplayName, verb))
	r.emitParticipant(e, EventParticipantLeft, p, p.UserID, reason, msg)
}

func (r *Registry) leaveLocked(e *entry, p *models.Participant, reason string) {
	now := r.now()
	p.IsActive = false
	p.LeaveTime = &now
	p.RaisedHand = false

	if e.delegate == p.UserID {
		r.revokeLocked(e, p, p.UserID, reason, fmt.Sprintf("Control returned to the host after %s left", p.DisplayName))
	}
	verb := "left the session"
	if reason == ReasonTimeout {
		verb = "timed out"
	}
	msg := r.appendSystem(e, fmt.Sprintf("%s %s", p.DisplayName, verb))
	r.emitParticipant(e, EventParticipantLeft, p, p.UserID, reason, msg)

	if p.UserID == e.session.HostID {
		if next := r.nextHostLocked(e); next != nil {
			r.transferHostLocked(e, p, next)
			return
		}
	}
	if r.activeCountLocked(e) == 0 {
		r.endLocked(e, p.UserID, "Session ended: all participants left")
	}
}

func (r *Registry) nextHostLocked(e *entry) *models.Participant {
	for _, id := range e.order {
		if p := e.participants[id]; p.IsActive && id != e.session.HostID {
			return p
		}
	}
	return nil
}

func (r *Registry) transferHostLocked(e *entry, old, next *models.Participant) {
	old.Role = models.RoleParticipant
	old.HasControl = false
	if e.delegate == next.UserID {
		e.delegate = ""
	}
	next.Role = models.RoleHost
	next.HasControl = true
	next.RaisedHand = false
	e.session.HostID = next.UserID
	e.controlEpoch++
	msg := r.appendSystem(e, fmt.Sprintf("%s is now the host", next.DisplayName))
	r.emitParticipant(e, EventHostChanged, next, old.UserID, "", msg)
}

func (r *Registry) activeCountLocked(e *entry) int {
	n := 0
	for _, p := range e.participants {
		if p.IsActive {
			n++
		}
	}
	return n
}

// RaiseHand raises the participant's hand. With auto-accept, control is granted at once,
// revoking any previous delegate (last request wins).
func (r *Registry) RaiseHand(sessionID, userID string) (models.Participant, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.Participant{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := r.activeParticipantLocked(e, userID)
	if err != nil {
		return models.Participant{}, err
	}
	p.LastActivity = r.now()
	if p.RaisedHand {
		return *p, nil
	}
	p.RaisedHand = true
	msg := r.appendSystem(e, fmt.Sprintf("%s raised their hand", p.DisplayName))
	r.emitParticipant(e, EventHandRaised, p, userID, "", msg)

	s := e.session.Settings
	if s.AutoAcceptHandRaise && s.AllowParticipantControl && p.Role != models.RoleHost {
		r.grantLocked(e, p, userID, ReasonAutoAccept)
	}
	return *p, nil
}

// LowerHand lowers the participant's hand.
func (r *Registry) LowerHand(sessionID, userID string) (models.Participant, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.Participant{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := r.activeParticipantLocked(e, userID)
	if err != nil {
		return models.Participant{}, err
	}
	p.LastActivity = r.now()
	if !p.RaisedHand {
		return *p, nil
	}
	p.RaisedHand = false
	msg := r.appendSystem(e, fmt.Sprintf("%s lowered their hand", p.DisplayName))
	r.emitParticipant(e, EventHandLowered, p, userID, "", msg)
	return *p, nil
}

// GrantControl delegates playback control to a participant. Host only.
func (r *Registry) GrantControl(sessionID, hostID, userID string) (models.Participant, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.Participant{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := r.requireHostLocked(e, hostID); err != nil {
		return models.Participant{}, err
	}
	if !e.session.Settings.AllowParticipantControl {
		return models.Participant{}, apperr.New(apperr.KindForbidden, "participant_control_disabled",
			"participant control is disabled for this session")
	}
	p, ok := e.participants[userID]
	if !ok || !p.IsActive {
		return models.Participant{}, apperr.New(apperr.KindNotFound, "participant_not_found", "participant not found")
	}
	if p.Role == models.RoleHost {
		return *p, nil
	}
	if e.session.Settings.RequireHandRaise && !p.RaisedHand {
		return models.Participant{}, apperr.New(apperr.KindForbidden, "hand_not_raised",
			"participant must raise their hand before receiving control")
	}
	if e.delegate != userID {
		r.grantLocked(e, p, hostID, ReasonHost)
	}
	return *p, nil
}

// RevokeControl takes delegated control back. The host may revoke anyone; a delegate may
// release their own control.
func (r *Registry) RevokeControl(sessionID, actorID, userID string) error {
	e, err := r.get(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	reason := ReasonHost
	if actorID == userID {
		reason = ReasonReleased
	} else if err := r.requireHostLocked(e, actorID); err != nil {
		return err
	}
	if e.delegate != userID {
		return nil
	}
	p := e.participants[userID]
	r.revokeLocked(e, p, actorID, reason, fmt.Sprintf("Control returned to the host from %s", p.DisplayName))
	return nil
}

func (r *Registry) grantLocked(e *entry, p *models.Participant, actorID, reason string) {
	if e.delegate != "" && e.delegate != p.UserID {
		prev := e.participants[e.delegate]
		r.revokeLocked(e, prev, actorID, reason, fmt.Sprintf("Control passed from %s to %s", prev.DisplayName, p.DisplayName))
	}
	e.delegate = p.UserID
	e.controlEpoch++
	p.HasControl = true
	p.RaisedHand = false
	msg := r.appendSystem(e, fmt.Sprintf("%s now has control", p.DisplayName))
	r.emitParticipant(e, EventControlGranted, p, actorID, reason, msg)
}

func (r *Registry) revokeLocked(e *entry, p *models.Participant, actorID, reason, text string) {
	e.delegate = ""
	e.controlEpoch++
	p.HasControl = false
	msg := r.appendSystem(e, text)
	r.emitParticipant(e, EventControlRevoked, p, actorID, reason, msg)
}

// End ends the session. Host only; ending an ended session is a no-op.
func (r *Registry) End(sessionID, actorID string) (models.Session, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.HostID != actorID {
		return models.Session{}, errNotHost
	}
	if e.session.Status == models.SessionEnded {
		return e.session, nil
	}
	r.endLocked(e, actorID, "Session ended")
	return e.session, nil
}

func (r *Registry) endLocked(e *entry, actorID, text string) {
	now := r.now()
	e.session.Status = models.SessionEnded
	e.session.EndTime = &now
	for _, p := range e.participants {
		if p.IsActive {
			p.IsActive = false
			p.LeaveTime = &now
		}
		p.Pending = false
		p.RaisedHand = false
		if p.Role != models.RoleHost {
			p.HasControl = false
		}
	}
	e.delegate = ""
	e.controlEpoch++
	msg := r.appendSystem(e, text)
	sess := e.session
	r.emit(Event{Type: EventSessionEnded, SessionID: sess.ID, VideoID: sess.VideoID, ActorID: actorID, Reason: ReasonEnded, Message: &msg, Session: &sess})

	metrics.SessionsActive.Dec()
	r.logger.Info("session ended", zap.String("session_id", e.session.ID), zap.String("actor_id", actorID))
}

// Authorize checks that actorID may issue playback commands and returns the current
// control epoch, which the synchronizer re-checks when it accepts the command.
func (r *Registry) Authorize(sessionID, actorID string) (uint64, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == models.SessionEnded {
		return 0, errSessionEnded
	}
	p, err := r.activeParticipantLocked(e, actorID)
	if err != nil {
		return 0, err
	}
	p.LastActivity = r.now()
	if actorID != e.session.HostID && e.delegate != actorID {
		return 0, errNoControl
	}
	return e.controlEpoch, nil
}

// ControlEpoch returns the session's current control epoch.
func (r *Registry) ControlEpoch(sessionID string) uint64 {
	e, err := r.get(sessionID)
	if err != nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controlEpoch
}

// AddChat appends a chat message from an active participant.
func (r *Registry) AddChat(sessionID, userID, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "message is empty")
	}
	e, err := r.get(sessionID)
	if err != nil {
		return models.Message{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := r.activeParticipantLocked(e, userID)
	if err != nil {
		return models.Message{}, err
	}
	if !e.session.Settings.AllowChat {
		return models.Message{}, apperr.New(apperr.KindForbidden, "chat_disabled", "chat is disabled for this session")
	}
	p.LastActivity = r.now()
	msg := r.appendMessage(e, userID, models.MessageChat, content)
	r.emit(Event{Type: EventChatMessage, SessionID: e.session.ID, VideoID: e.session.VideoID, UserID: userID, ActorID: userID, Message: &msg})
	return msg, nil
}

// CheckAnnotate reports whether userID may annotate from within the session.
func (r *Registry) CheckAnnotate(sessionID, userID string) (models.Session, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == models.SessionEnded {
		return models.Session{}, errSessionEnded
	}
	p, err := r.activeParticipantLocked(e, userID)
	if err != nil {
		return models.Session{}, err
	}
	if !e.session.Settings.AllowAnnotations && p.Role != models.RoleHost {
		return models.Session{}, apperr.New(apperr.KindForbidden, "annotations_disabled", "annotations are disabled for this session")
	}
	p.LastActivity = r.now()
	return e.session, nil
}

// Touch records activity for the heartbeat.
func (r *Registry) Touch(sessionID, userID string) {
	e, err := r.get(sessionID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.participants[userID]; ok && (p.IsActive || p.Pending) {
		p.LastActivity = r.now()
	}
}

func (r *Registry) requireHostLocked(e *entry, actorID string) error {
	if e.session.Status == models.SessionEnded {
		return errSessionEnded
	}
	if e.session.HostID != actorID {
		return errNotHost
	}
	return nil
}

func (r *Registry) activeParticipantLocked(e *entry, userID string) (*models.Participant, error) {
	if e.session.Status == models.SessionEnded {
		return nil, errSessionEnded
	}
	p, ok := e.participants[userID]
	if !ok || !p.IsActive {
		return nil, errNotParticipant
	}
	return p, nil
}

func (r *Registry) appendSystem(e *entry, content string) models.Message {
	return r.appendMessage(e, models.SystemUserID, models.MessageSystem, content)
}

func (r *Registry) appendMessage(e *entry, userID string, kind models.MessageKind, content string) models.Message {
	msg := models.Message{
		ID:        uuid.New().String(),
		SessionID: e.session.ID,
		UserID:    userID,
		Kind:      kind,
		Content:   content,
		Timestamp: r.now(),
	}
	e.messages = append(e.messages, msg)
	if over := len(e.messages) - r.cfg.MaxMessages; over > 0 {
		e.messages = append(e.messages[:0:0], e.messages[over:]...)
	}
	return msg
}

func (r *Registry) emitParticipant(e *entry, t EventType, p *models.Participant, actorID, reason string, msg models.Message) {
	cp := *p
	r.emit(Event{
		Type:        t,
		SessionID:   e.session.ID,
		VideoID:     e.session.VideoID,
		UserID:      p.UserID,
		ActorID:     actorID,
		Reason:      reason,
		Participant: &cp,
		Message:     &msg,
	})
}

func (r *Registry) viewLocked(e *entry, userID string) models.SessionView {
	v := models.SessionView{Session: e.session, Participants: r.participantsLocked(e)}
	if p, ok := e.participants[userID]; ok {
		v.Self = *p
	}
	return v
}

func (r *Registry) participantsLocked(e *entry) []models.Participant {
	out := make([]models.Participant, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.participants[id])
	}
	return out
}

func displayName(name, userID string) string {
	if strings.TrimSpace(name) == "" {
		return userID
	}
	return name
}

// Get returns a session.
func (r *Registry) Get(sessionID string) (models.Session, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// View returns the session as seen by userID.
func (r *Registry) View(sessionID, userID string) (models.SessionView, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.viewLocked(e, userID), nil
}

// Participants returns the session's participants in join order.
func (r *Registry) Participants(sessionID string) ([]models.Participant, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.participantsLocked(e), nil
}

// Messages returns the session transcript.
func (r *Registry) Messages(sessionID string) ([]models.Message, error) {
	e, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Message(nil), e.messages...), nil
}

// Filter narrows List.
type Filter struct {
	VideoID  string
	HostID   string
	CourseID string
	GroupID  string
	Status   models.SessionStatus
}

// List returns sessions matching f, newest first.
func (r *Registry) List(f Filter) []models.Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []models.Session
	for _, e := range entries {
		e.mu.Lock()
		s := e.session
		e.mu.Unlock()
		if f.VideoID != "" && s.VideoID != f.VideoID ||
			f.HostID != "" && s.HostID != f.HostID ||
			f.CourseID != "" && s.CourseID != f.CourseID ||
			f.GroupID != "" && s.GroupID != f.GroupID ||
			f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// HostsScope reports whether actorID hosts an active session on videoID that belongs to
// the given group or course.
func (r *Registry) HostsScope(actorID, videoID, groupID, courseID string) bool {
	if groupID == "" && courseID == "" {
		return false
	}
	for _, s := range r.List(Filter{VideoID: videoID, HostID: actorID, Status: models.SessionActive}) {
		if groupID != "" && s.GroupID == groupID || courseID != "" && s.CourseID == courseID {
			return true
		}
	}
	return false
}
