package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/NamanBalaji/gdl/internal/logger"
)

var (
	ErrShutdown     = errors.New("scheduler is shut down")
	ErrInvalidDelay = errors.New("delay must be positive")
)

// State is the lifecycle of a scheduled callback.
type State int32

const (
	Idle State = iota
	Started
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Started:
		return "STARTED"
	case Paused:
		return "PAUSED"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

type BoundKind int

const (
	Infinite BoundKind = iota
	Fix
)

// TimeBounds describes when a callback fires. Pointer is the logical time
// elapsed, advanced by After on every tick regardless of wall-clock drift.
type TimeBounds struct {
	Kind    BoundKind
	After   time.Duration
	End     time.Duration
	Pointer time.Duration
}

type callback struct {
	id        int64
	bounds    TimeBounds
	state     State
	action    func()
	timer     *time.Timer
	gen       uint64
	suspended bool
}

// Scheduler runs periodic callbacks on a shared pool. Every mutation goes
// through one mutex per instance.
type Scheduler struct {
	pool *ants.Pool

	mu      sync.Mutex
	entries map[int64]*callback
	closed  bool

	nextID atomic.Int64
}

// New returns a scheduler whose ticks run on pool. With a nil pool every
// tick gets its own goroutine.
func New(pool *ants.Pool) *Scheduler {
	return &Scheduler{
		pool:    pool,
		entries: make(map[int64]*callback),
	}
}

// Schedule runs action every delay, starting now, until stopped.
func (s *Scheduler) Schedule(action func(), delay time.Duration) (*Handle, error) {
	return s.schedule(action, TimeBounds{Kind: Infinite, After: delay})
}

// ScheduleBounded runs action every delay, starting now. The callback stops
// itself after the tick that moves its pointer to end or beyond.
func (s *Scheduler) ScheduleBounded(action func(), delay, end time.Duration) (*Handle, error) {
	return s.schedule(action, TimeBounds{Kind: Fix, After: delay, End: end})
}

func (s *Scheduler) schedule(action func(), bounds TimeBounds) (*Handle, error) {
	if bounds.After <= 0 {
		return nil, ErrInvalidDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShutdown
	}

	cb := &callback{
		id:     s.nextID.Add(1),
		bounds: bounds,
		state:  Started,
		action: action,
	}
	s.entries[cb.id] = cb
	s.arm(cb, 0)

	return &Handle{id: cb.id, s: s}, nil
}

// Restart resets the pointer to zero and fires again from now.
func (s *Scheduler) Restart(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.entries[id]
	if !ok || s.closed {
		return false
	}

	s.disarm(cb)
	cb.bounds.Pointer = 0
	cb.state = Started
	cb.suspended = false
	s.arm(cb, 0)

	return true
}

// Pause cancels the pending tick and keeps the pointer. Only a started
// callback can be paused.
func (s *Scheduler) Pause(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.entries[id]
	if !ok || cb.state != Started {
		return false
	}

	s.pause(cb)
	return true
}

// Resume reschedules a paused callback one delay from now.
func (s *Scheduler) Resume(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.entries[id]
	if !ok || cb.state != Paused || s.closed {
		return false
	}

	s.resume(cb)
	return true
}

func (s *Scheduler) Stop(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.entries[id]
	if !ok {
		return false
	}

	s.disarm(cb)
	cb.state = Stopped
	return true
}

// StopAndRemove stops the callback and forgets it.
func (s *Scheduler) StopAndRemove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.entries[id]
	if !ok {
		return false
	}

	s.disarm(cb)
	cb.state = Stopped
	delete(s.entries, id)
	return true
}

// SetAfterTime changes the tick delay. The pending tick keeps its timer.
func (s *Scheduler) SetAfterTime(id int64, after time.Duration) bool {
	if after <= 0 {
		return false
	}
	return s.update(id, func(cb *callback) {
		cb.bounds.After = after
	})
}

// SetEndTime bounds the callback at end. The pending tick keeps its timer.
func (s *Scheduler) SetEndTime(id int64, end time.Duration) bool {
	return s.update(id, func(cb *callback) {
		cb.bounds.Kind = Fix
		cb.bounds.End = end
	})
}

// SkipForward advances the pointer by n delays without firing.
func (s *Scheduler) SkipForward(id int64, n int) bool {
	return s.update(id, func(cb *callback) {
		cb.bounds.Pointer += time.Duration(n) * cb.bounds.After
	})
}

// SkipBackward rewinds the pointer by n delays, never below zero.
func (s *Scheduler) SkipBackward(id int64, n int) bool {
	return s.update(id, func(cb *callback) {
		cb.bounds.Pointer = max(0, cb.bounds.Pointer-time.Duration(n)*cb.bounds.After)
	})
}

// SuspendAll pauses every started callback, remembering which ones it paused.
func (s *Scheduler) SuspendAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cb := range s.entries {
		if cb.state == Started {
			s.pause(cb)
			cb.suspended = true
		}
	}
	logger.Debugf("Scheduler suspended")
}

// ResumeAll resumes the callbacks paused by SuspendAll.
func (s *Scheduler) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for _, cb := range s.entries {
		if cb.suspended && cb.state == Paused {
			s.resume(cb)
		}
	}
	logger.Debugf("Scheduler resumed")
}

// Get returns a copy of the callback's state and bounds.
func (s *Scheduler) Get(id int64) (State, TimeBounds, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.entries[id]
	if !ok {
		return Stopped, TimeBounds{}, false
	}
	return cb.state, cb.bounds, true
}

// Len returns the number of registered callbacks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Shutdown stops and removes every callback. Later calls to Schedule fail.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cb := range s.entries {
		s.disarm(cb)
		cb.state = Stopped
		delete(s.entries, id)
	}
	s.closed = true
}

func (s *Scheduler) update(id int64, fn func(cb *callback)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.entries[id]
	if !ok {
		return false
	}
	fn(cb)
	return true
}

func (s *Scheduler) pause(cb *callback) {
	s.disarm(cb)
	cb.state = Paused
}

func (s *Scheduler) resume(cb *callback) {
	cb.state = Started
	cb.suspended = false
	s.arm(cb, cb.bounds.After)
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(cb *callback, after time.Duration) {
	cb.gen++
	id, gen := cb.id, cb.gen
	cb.timer = time.AfterFunc(after, func() { s.dispatch(id, gen) })
}

// disarm must be called with s.mu held. Ticks already in flight see the new
// generation and drop out.
func (s *Scheduler) disarm(cb *callback) {
	cb.gen++
	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
}

func (s *Scheduler) dispatch(id int64, gen uint64) {
	if s.pool == nil {
		go s.tick(id, gen)
		return
	}

	if err := s.pool.Submit(func() { s.tick(id, gen) }); err != nil {
		logger.Warnf("Failed to submit tick for callback %d: %v", id, err)
	}
}

func (s *Scheduler) tick(id int64, gen uint64) {
	s.mu.Lock()
	cb, ok := s.entries[id]
	if !ok || cb.gen != gen || cb.state != Started {
		s.mu.Unlock()
		return
	}

	cb.timer = nil
	cb.bounds.Pointer += cb.bounds.After
	expired := cb.bounds.Kind == Fix && cb.bounds.Pointer >= cb.bounds.End
	if expired {
		cb.state = Stopped
	}
	action := cb.action
	s.mu.Unlock()

	run(id, action)

	if expired {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb.gen == gen && cb.state == Started && !s.closed {
		s.arm(cb, cb.bounds.After)
	}
}

func run(id int64, action func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Callback %d panicked: %v", id, r)
		}
	}()
	action()
}

// Handle refers to one scheduled callback.
type Handle struct {
	id int64
	s  *Scheduler
}

func (h *Handle) ID() int64 { return h.id }

func (h *Handle) State() State {
	st, _, _ := h.s.Get(h.id)
	return st
}

// Pointer returns the logical elapsed time of the callback.
func (h *Handle) Pointer() time.Duration {
	_, b, _ := h.s.Get(h.id)
	return b.Pointer
}

func (h *Handle) Pause() bool   { return h.s.Pause(h.id) }
func (h *Handle) Resume() bool  { return h.s.Resume(h.id) }
func (h *Handle) Restart() bool { return h.s.Restart(h.id) }
func (h *Handle) Stop() bool    { return h.s.StopAndRemove(h.id) }
