package calls

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStateConflict is returned when an operation is not valid in the current state.
	// The engine is left unchanged.
	ErrStateConflict = errors.New("calls: state conflict")

	ErrRecordingActive   = fmt.Errorf("%w: recording already active", ErrStateConflict)
	ErrNoActiveRecording = fmt.Errorf("%w: no active recording", ErrStateConflict)

	ErrPhoneRequired  = errors.New("calls: phone number required")
	ErrTargetRequired = errors.New("calls: transfer target required")
)

// Config mirrors config.CallsConfig without importing it.
type Config struct {
	RecordingEnabled bool
	AutoAnswer       bool

	// ConnectDelay is the wait between calling and connected for outbound calls. 0 connects immediately.
	ConnectDelay time.Duration
	// ResetDelay is how long an ended call stays current before the engine returns to idle.
	ResetDelay time.Duration
}

// Metadata accompanies an outbound call. CallID is adopted when set.
type Metadata struct {
	CallID         string
	LeadID         string
	ConversationID string
	Extra          map[string]string
}

// InboundCall describes a call offered by the trunk.
type InboundCall struct {
	CallID         string
	From           string
	LeadID         string
	ConversationID string
	Extra          map[string]string
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	Status     Status      `json:"status"`
	Call       *Call       `json:"call,omitempty"`
	Recording  *Recording  `json:"recording,omitempty"`
	History    []Call      `json:"history"`
	Recordings []Recording `json:"recordings"`
}

// Engine owns at most one non-terminal call and its recording.
// All methods are safe for concurrent use.
type Engine struct {
	cfg   Config
	clock Clock
	sched Scheduler
	newID func() string

	mu         sync.Mutex
	status     Status
	current    *Call
	recording  *Recording
	history    []Call
	recordings []Recording

	// gen invalidates scheduled transitions; a firing whose generation
	// no longer matches is discarded.
	gen     uint64
	pending Timer

	listeners  map[int]Listener
	order      []int
	nextListen int
	outbox     []Event

	// notifyMu serializes listener delivery so events arrive in production order.
	notifyMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithIDFunc replaces the id generator used for calls and recordings.
func WithIDFunc(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		clock:     time.Now,
		sched:     realScheduler{},
		newID:     uuid.NewString,
		status:    StatusIdle,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers l and returns a function that removes it.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextListen
	e.nextListen++
	e.listeners[id] = l
	e.order = append(e.order, id)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.listeners[id]; !ok {
			return
		}
		delete(e.listeners, id)
		for i, v := range e.order {
			if v == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// PlaceCall starts an outbound call. It fails with ErrStateConflict unless the engine is idle.
func (e *Engine) PlaceCall(number string, md Metadata) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", ErrPhoneRequired
	}

	e.mu.Lock()
	if e.status != StatusIdle {
		st := e.status
		e.mu.Unlock()
		return "", fmt.Errorf("%w: cannot place call while %s", ErrStateConflict, st)
	}

	now := e.clock()
	id := md.CallID
	if id == "" {
		id = e.newID()
	}
	e.cancelPending()
	e.current = &Call{
		ID:             id,
		Direction:      DirectionOutbound,
		PhoneNumber:    number,
		LeadID:         md.LeadID,
		ConversationID: md.ConversationID,
		Status:         StatusCalling,
		StartTime:      now,
		Metadata:       copyMap(md.Extra),
	}
	e.history = append(e.history, e.current.clone())
	e.setStatus(StatusCalling, now)
	e.emitCall(EventCallStarted, now)

	if e.cfg.ConnectDelay <= 0 {
		e.connect(now)
	} else {
		e.schedule(e.cfg.ConnectDelay, func() {
			e.connect(e.clock())
		})
	}
	e.mu.Unlock()

	e.flush()
	return id, nil
}

// ReceiveCall offers an inbound call. With AutoAnswer it is answered immediately.
func (e *Engine) ReceiveCall(in InboundCall) (string, error) {
	e.mu.Lock()
	if e.status != StatusIdle {
		st := e.status
		e.mu.Unlock()
		return "", fmt.Errorf("%w: cannot receive call while %s", ErrStateConflict, st)
	}

	now := e.clock()
	id := in.CallID
	if id == "" {
		id = e.newID()
	}
	e.cancelPending()
	e.current = &Call{
		ID:             id,
		Direction:      DirectionInbound,
		PhoneNumber:    strings.TrimSpace(in.From),
		LeadID:         in.LeadID,
		ConversationID: in.ConversationID,
		Status:         StatusRinging,
		StartTime:      now,
		Metadata:       copyMap(in.Extra),
	}
	e.history = append(e.history, e.current.clone())
	e.setStatus(StatusRinging, now)
	e.emitCall(EventCallStarted, now)

	if e.cfg.AutoAnswer {
		e.answer(now)
	}
	e.mu.Unlock()

	e.flush()
	return id, nil
}

// AnswerCall connects a ringing call.
func (e *Engine) AnswerCall() error {
	e.mu.Lock()
	if e.status != StatusRinging {
		st := e.status
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot answer while %s", ErrStateConflict, st)
	}
	e.cancelPending()
	e.answer(e.clock())
	e.mu.Unlock()

	e.flush()
	return nil
}

// EndCall terminates the current call. Any active recording is completed first.
// The ended call stays current for ResetDelay, then the engine returns to idle.
func (e *Engine) EndCall() (Summary, error) {
	e.mu.Lock()
	if !e.status.Active() {
		st := e.status
		e.mu.Unlock()
		return Summary{}, fmt.Errorf("%w: cannot end while %s", ErrStateConflict, st)
	}
	e.cancelPending()

	now := e.clock()
	if e.recording != nil {
		e.completeRecording(now)
	}
	end := now
	e.current.EndTime = &end
	e.current.OnHold = false
	e.setStatus(StatusEnded, now)

	sum := e.summary(now)
	e.outbox = append(e.outbox, Event{
		Kind:      EventCallEnded,
		CallID:    sum.CallID,
		Timestamp: now,
		Call:      ptr(e.current.clone()),
		Summary:   &sum,
	})

	if e.cfg.ResetDelay <= 0 {
		e.reset(now)
	} else {
		e.schedule(e.cfg.ResetDelay, func() {
			e.reset(e.clock())
		})
	}
	e.mu.Unlock()

	e.flush()
	return sum, nil
}

// StartRecording begins a recording on the connected call.
// It fails without side effects when one is already active.
func (e *Engine) StartRecording() (Recording, error) {
	e.mu.Lock()
	if e.recording != nil {
		e.mu.Unlock()
		return Recording{}, ErrRecordingActive
	}
	if e.status != StatusConnected {
		st := e.status
		e.mu.Unlock()
		return Recording{}, fmt.Errorf("%w: cannot record while %s", ErrStateConflict, st)
	}
	rec := e.beginRecording(e.clock())
	e.mu.Unlock()

	e.flush()
	return rec, nil
}

// StopRecording completes the active recording.
// It fails without side effects when none is active.
func (e *Engine) StopRecording() (Recording, error) {
	e.mu.Lock()
	if e.recording == nil {
		e.mu.Unlock()
		return Recording{}, ErrNoActiveRecording
	}
	rec := e.completeRecording(e.clock())
	e.mu.Unlock()

	e.flush()
	return rec, nil
}

// Hold puts the connected call on or off hold. Repeating the current state is a no-op.
func (e *Engine) Hold(on bool) error {
	e.mu.Lock()
	if e.status != StatusConnected {
		st := e.status
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot hold while %s", ErrStateConflict, st)
	}
	if e.current.OnHold == on {
		e.mu.Unlock()
		return nil
	}
	now := e.clock()
	e.current.OnHold = on
	e.syncHistory()
	e.emitCall(EventHold, now)
	e.mu.Unlock()

	e.flush()
	return nil
}

// Transfer records a transfer of the connected call to target.
// The call stays connected until the trunk reports it ended.
func (e *Engine) Transfer(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return ErrTargetRequired
	}

	e.mu.Lock()
	if e.status != StatusConnected {
		st := e.status
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot transfer while %s", ErrStateConflict, st)
	}
	now := e.clock()
	e.current.TransferredTo = target
	e.syncHistory()
	e.emitCall(EventTransfer, now)
	e.mu.Unlock()

	e.flush()
	return nil
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Current returns the call the engine currently holds, including an ended
// call still inside its reset delay.
func (e *Engine) Current() (Call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Call{}, false
	}
	return e.current.clone(), true
}

func (e *Engine) CurrentRecording() (Recording, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recording == nil {
		return Recording{}, false
	}
	return e.recording.clone(), true
}

func (e *Engine) History() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.history))
	for i, c := range e.history {
		out[i] = c.clone()
	}
	return out
}

// Recordings returns every completed recording, oldest first.
func (e *Engine) Recordings() []Recording {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Recording, len(e.recordings))
	for i, r := range e.recordings {
		out[i] = r.clone()
	}
	return out
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Status:     e.status,
		History:    make([]Call, len(e.history)),
		Recordings: make([]Recording, len(e.recordings)),
	}
	if e.current != nil {
		s.Call = ptr(e.current.clone())
	}
	if e.recording != nil {
		s.Recording = ptr(e.recording.clone())
	}
	for i, c := range e.history {
		s.History[i] = c.clone()
	}
	for i, r := range e.recordings {
		s.Recordings[i] = r.clone()
	}
	return s
}

// Close cancels any pending scheduled transition.
func (e *Engine) Close() {
	e.mu.Lock()
	e.cancelPending()
	e.mu.Unlock()
}

/* ===================== INTERNAL (caller holds mu) ===================== */

func (e *Engine) connect(now time.Time) {
	if e.status != StatusCalling {
		return
	}
	at := now
	e.current.AnsweredAt = &at
	e.setStatus(StatusConnected, now)
	if e.cfg.RecordingEnabled && e.recording == nil {
		e.beginRecording(now)
	}
}

func (e *Engine) answer(now time.Time) {
	at := now
	e.current.AnsweredAt = &at
	e.setStatus(StatusConnected, now)
	if e.cfg.RecordingEnabled && e.recording == nil {
		e.beginRecording(now)
	}
}

func (e *Engine) reset(now time.Time) {
	if e.status != StatusEnded {
		return
	}
	e.current = nil
	e.recording = nil
	prev := e.status
	e.status = StatusIdle
	e.outbox = append(e.outbox, Event{
		Kind:      EventStatusChange,
		Timestamp: now,
		Change:    &StatusChange{Previous: prev, Current: StatusIdle, Timestamp: now},
	})
}

func (e *Engine) setStatus(next Status, now time.Time) {
	prev := e.status
	e.status = next
	e.current.Status = next
	e.syncHistory()
	e.outbox = append(e.outbox, Event{
		Kind:      EventStatusChange,
		CallID:    e.current.ID,
		Timestamp: now,
		Change:    &StatusChange{Previous: prev, Current: next, Timestamp: now, CallID: e.current.ID},
		Call:      ptr(e.current.clone()),
	})
}

func (e *Engine) emitCall(kind EventKind, now time.Time) {
	e.outbox = append(e.outbox, Event{
		Kind:      kind,
		CallID:    e.current.ID,
		Timestamp: now,
		Call:      ptr(e.current.clone()),
	})
}

func (e *Engine) beginRecording(now time.Time) Recording {
	e.recording = &Recording{
		ID:        e.newID(),
		CallID:    e.current.ID,
		Status:    RecordingActive,
		StartTime: now,
	}
	rec := e.recording.clone()
	e.outbox = append(e.outbox, Event{
		Kind:      EventRecordingStarted,
		CallID:    rec.CallID,
		Timestamp: now,
		Recording: &rec,
	})
	return rec
}

func (e *Engine) completeRecording(now time.Time) Recording {
	end := now
	e.recording.EndTime = &end
	e.recording.Status = RecordingCompleted
	rec := e.recording.clone()
	e.recordings = append(e.recordings, rec)
	e.recording = nil

	ev := rec.clone()
	e.outbox = append(e.outbox, Event{
		Kind:      EventRecordingEnded,
		CallID:    rec.CallID,
		Timestamp: now,
		Recording: &ev,
	})
	return rec
}

func (e *Engine) summary(now time.Time) Summary {
	c := e.current
	s := Summary{
		CallID:      c.ID,
		Direction:   c.Direction,
		PhoneNumber: c.PhoneNumber,
		StartTime:   c.StartTime,
		EndTime:     *c.EndTime,
		Duration:    c.Duration(now),
	}
	for _, r := range e.recordings {
		if r.CallID == c.ID {
			s.Recordings = append(s.Recordings, r.clone())
		}
	}
	return s
}

func (e *Engine) syncHistory() {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == e.current.ID {
			e.history[i] = e.current.clone()
			return
		}
	}
}

func (e *Engine) schedule(d time.Duration, fn func()) {
	e.cancelPending()
	g := e.gen
	e.pending = e.sched.AfterFunc(d, func() {
		e.mu.Lock()
		if e.gen != g {
			e.mu.Unlock()
			return
		}
		e.pending = nil
		fn()
		e.mu.Unlock()
		e.flush()
	})
}

func (e *Engine) cancelPending() {
	e.gen++
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

/* ===================== DELIVERY ===================== */

// flush drains the outbox to listeners. Only one goroutine delivers at a time;
// a goroutine that loses the race leaves its events for the active deliverer.
func (e *Engine) flush() {
	for {
		if !e.notifyMu.TryLock() {
			return
		}

		e.mu.Lock()
		batch := e.outbox
		e.outbox = nil
		ls := make([]Listener, 0, len(e.order))
		for _, id := range e.order {
			ls = append(ls, e.listeners[id])
		}
		e.mu.Unlock()

		for _, ev := range batch {
			for _, l := range ls {
				l(ev)
			}
		}
		e.notifyMu.Unlock()

		e.mu.Lock()
		more := len(e.outbox) > 0
		e.mu.Unlock()
		if !more {
			return
		}
	}
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func ptr[T any](v T) *T { return &v }
