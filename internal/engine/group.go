package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/downloader"
	"github.com/NamanBalaji/gdl/internal/logger"
	"github.com/NamanBalaji/gdl/internal/scheduler"
)

// Source lists stored downloads for LoadIncomplete.
type Source interface {
	FindAll() ([]*downloader.Download, error)
}

// Group runs at most capacity downloads at a time. Admission happens on a
// periodic tick on the shared scheduler, never on the caller's goroutine.
type Group struct {
	ID       uuid.UUID
	Name     string
	capacity int

	rt     *downloader.Runtime
	source Source

	mu         sync.Mutex
	entries    map[uuid.UUID]*entry
	order      []*entry
	queue      admissionQueue
	seq        uint64
	loop       *scheduler.Handle
	terminated bool

	listeners groupListeners
}

func newGroup(name string, capacity int, interval time.Duration, rt *downloader.Runtime, source Source) (*Group, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidCapacity, capacity)
	}

	g := &Group{
		ID:       uuid.New(),
		Name:     name,
		capacity: capacity,
		rt:       rt,
		source:   source,
		entries:  make(map[uuid.UUID]*entry),
	}

	h, err := rt.Scheduler.Schedule(g.tick, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule group loop: %w", err)
	}
	g.loop = h

	logger.Infof("Created group %q (%s) with %d slots", name, g.ID, capacity)

	return g, nil
}

// Add binds d to the group's runtime and registers it in ENQUEUED state.
// It never starts the download.
func (g *Group) Add(d *downloader.Download, l downloader.Listener) (uuid.UUID, error) {
	ids, err := g.AddAll([]*downloader.Download{d}, l)
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

// AddAll adds every download, sharing one optional listener.
func (g *Group) AddAll(ds []*downloader.Download, l downloader.Listener) ([]uuid.UUID, error) {
	if l != nil && !downloader.IsListener(l) {
		return nil, fmt.Errorf("%w: %T", downloader.ErrInvalidListener, l)
	}

	g.mu.Lock()
	if g.terminated {
		g.mu.Unlock()
		return nil, ErrGroupTerminated
	}
	for _, d := range ds {
		if _, ok := g.entries[d.ID]; ok {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDownloadExists, d.ID)
		}
	}

	ids := make([]uuid.UUID, 0, len(ds))
	added := make([]*entry, 0, len(ds))
	for _, d := range ds {
		if d.GetStatus() != common.StateRunning {
			d.Bind(g.rt)
		}
		if l != nil {
			_ = d.AddListener(l)
		}

		g.seq++
		e := &entry{d: d, listener: l, seq: g.seq, index: -1, state: d.GetStatus()}
		g.entries[d.ID] = e
		g.order = append(g.order, e)

		ids = append(ids, d.ID)
		added = append(added, e)
		logger.Debugf("Added download %s to group %s", d.ID, g.ID)
	}
	events := g.eventsLocked(EventAdded, added...)
	g.mu.Unlock()

	g.listeners.emit(events)

	return ids, nil
}

// StartDownload marks a download eligible for admission. Running
// downloads are left alone.
func (g *Group) StartDownload(id uuid.UUID) error {
	return g.StartDownloads(id)
}

// StartDownloads marks every id eligible, in the given order.
func (g *Group) StartDownloads(ids ...uuid.UUID) error {
	g.mu.Lock()
	if g.terminated {
		g.mu.Unlock()
		return ErrGroupTerminated
	}

	var (
		errs   []error
		queued []*entry
		resume []*downloader.Download
	)
	for _, id := range ids {
		e, ok := g.entries[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDownloadNotFound, id))
			continue
		}

		switch st := e.d.GetStatus(); {
		case st == common.StateRunning:
		case st == common.StatePaused && e.admitted:
			resume = append(resume, e.d)
		case e.queued():
		default:
			e.frozen = false
			e.waiting = false
			e.state = common.StateEnqueued
			g.queue.enqueue(e)
			queued = append(queued, e)
		}
	}
	events := g.eventsLocked(EventEnqueued, queued...)
	g.mu.Unlock()

	g.listeners.emit(events)
	for _, d := range resume {
		errs = append(errs, d.Resume())
	}

	return errors.Join(errs...)
}

// StopDownload stops a running or paused download, or takes a queued one
// out of the admission queue.
func (g *Group) StopDownload(id uuid.UUID) error {
	g.mu.Lock()
	e, ok := g.entries[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	if !e.queued() && !e.frozen {
		g.mu.Unlock()
		return e.d.Stop()
	}

	g.queue.remove(e)
	e.frozen = false
	e.waiting = false

	st := e.d.GetStatus()
	switch {
	case st == common.StateEnqueued:
		e.state = common.StateStopped
	case st.IsTerminal():
		// a queued restart is dropped, the previous outcome stands
		e.state = st
	}
	events := g.eventsLocked(EventStopped, e)
	g.mu.Unlock()

	g.listeners.emit(events)
	if st == common.StatePaused {
		return e.d.Stop()
	}

	return nil
}

// FreezeDownload pauses a running download. A queued download is held back
// from admission until it is resumed.
func (g *Group) FreezeDownload(id uuid.UUID) error {
	g.mu.Lock()
	e, ok := g.entries[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	if e.queued() {
		g.queue.remove(e)
		e.frozen = true
		e.waiting = false
		e.state = common.StatePaused
		events := g.eventsLocked(EventPaused, e)
		g.mu.Unlock()

		g.listeners.emit(events)
		return nil
	}
	g.mu.Unlock()

	return e.d.Freeze()
}

// ResumeDownload resumes a paused download. A frozen queued download goes
// back into the admission queue at its original position.
func (g *Group) ResumeDownload(id uuid.UUID) error {
	g.mu.Lock()
	e, ok := g.entries[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	if e.frozen || (!e.admitted && !e.queued() && e.d.GetStatus() == common.StatePaused) {
		if g.terminated {
			g.mu.Unlock()
			return ErrGroupTerminated
		}
		e.frozen = false
		e.state = common.StateEnqueued
		g.queue.enqueue(e)
		events := g.eventsLocked(EventEnqueued, e)
		g.mu.Unlock()

		g.listeners.emit(events)
		return nil
	}
	g.mu.Unlock()

	return e.d.Resume()
}

// RestartDownload queues a finished download to run again from offset
// zero. It does nothing for a download that never started.
func (g *Group) RestartDownload(id uuid.UUID) error {
	g.mu.Lock()
	e, ok := g.entries[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	st := e.d.GetStatus()
	if st == common.StateEnqueued {
		g.mu.Unlock()
		return nil
	}
	if g.terminated {
		g.mu.Unlock()
		return ErrGroupTerminated
	}
	if e.queued() {
		g.mu.Unlock()
		return nil
	}
	if !st.IsTerminal() {
		g.mu.Unlock()
		return e.d.Restart()
	}

	e.state = common.StateEnqueued
	e.waiting = false
	g.queue.enqueue(e)
	events := g.eventsLocked(EventEnqueued, e)
	g.mu.Unlock()

	g.listeners.emit(events)

	return nil
}

func (g *Group) StopAll() {
	g.forEach(g.StopDownload)
}

func (g *Group) FreezeAll() {
	g.forEach(g.FreezeDownload)
}

func (g *Group) ResumeAll() {
	g.forEach(g.ResumeDownload)
}

// forEach applies fn to every download that fn applies to, skipping the
// rejections of downloads in a state fn does not handle.
func (g *Group) forEach(fn func(uuid.UUID) error) {
	for _, id := range g.ids() {
		if err := fn(id); err != nil {
			var stateErr *downloader.StateError
			if !errors.As(err, &stateErr) {
				logger.Warnf("Group %s: %v", g.ID, err)
			}
		}
	}
}

// AttachProgressListener adds l to a download, running or not. Events
// emitted before the call are not replayed.
func (g *Group) AttachProgressListener(id uuid.UUID, l downloader.ProgressListener) error {
	d, ok := g.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}
	return d.AddListener(l)
}

func (g *Group) RemoveProgressListener(id uuid.UUID, l downloader.ProgressListener) error {
	d, ok := g.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}
	d.RemoveListener(l)
	return nil
}

func (g *Group) AddGroupListener(l GroupListener) {
	g.listeners.add(l)
}

func (g *Group) RemoveGroupListener(l GroupListener) {
	g.listeners.remove(l)
}

// Purge removes every download whose group state is st and returns how
// many were removed. Running downloads cannot be purged. Paused downloads
// are stopped on the way out so they release their resources.
func (g *Group) Purge(st common.State) (int, error) {
	if st == common.StateRunning {
		return 0, ErrPurgeRunning
	}

	g.mu.Lock()
	var stop []*downloader.Download
	kept := g.order[:0]
	removed := 0
	for _, e := range g.order {
		if e.current() != st {
			kept = append(kept, e)
			continue
		}

		g.queue.remove(e)
		delete(g.entries, e.d.ID)
		if e.listener != nil {
			e.d.RemoveListener(e.listener)
		}
		if e.d.GetStatus() == common.StatePaused {
			stop = append(stop, e.d)
		}
		removed++
	}
	clear(g.order[len(kept):])
	g.order = kept
	g.mu.Unlock()

	for _, d := range stop {
		if err := d.Stop(); err != nil {
			logger.Warnf("Failed to stop purged download %s: %v", d.ID, err)
		}
	}
	logger.Infof("Purged %d %s download(s) from group %s", removed, st, g.ID)

	return removed, nil
}

// Remove drops one download from the group without touching it.
func (g *Group) Remove(id uuid.UUID) (*downloader.Download, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	g.queue.remove(e)
	delete(g.entries, id)
	for i, o := range g.order {
		if o == e {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	if e.listener != nil {
		e.d.RemoveListener(e.listener)
	}

	return e.d, nil
}

// LoadIncomplete adds every stored download that has not finished and
// queues it for admission. Downloads already in the group are skipped.
func (g *Group) LoadIncomplete() (int, error) {
	if g.source == nil {
		return 0, nil
	}

	stored, err := g.source.FindAll()
	if err != nil {
		return 0, fmt.Errorf("failed to list stored downloads: %w", err)
	}

	loaded := 0
	for _, d := range stored {
		if _, ok := g.Get(d.ID); ok {
			continue
		}
		if err := d.RestoreFromSerialization(g.rt); err != nil {
			logger.Errorf("Failed to restore download %s: %v", d.ID, err)
			continue
		}
		if st := d.GetStatus(); st != common.StateEnqueued && st != common.StatePaused {
			continue
		}

		if _, err := g.Add(d, nil); err != nil {
			return loaded, err
		}
		if err := g.StartDownload(d.ID); err != nil {
			return loaded, err
		}
		loaded++
	}

	logger.Infof("Loaded %d incomplete download(s) into group %s", loaded, g.ID)

	return loaded, nil
}

// ShutDown stops every running download and the admission loop. The group
// accepts no further downloads or starts.
func (g *Group) ShutDown() {
	g.mu.Lock()
	if g.terminated {
		g.mu.Unlock()
		return
	}
	g.terminated = true

	for g.queue.Len() > 0 {
		e := g.queue.dequeue()
		e.state = common.StateStopped
	}

	var running []*downloader.Download
	for _, e := range g.order {
		if e.d.GetStatus() == common.StateRunning {
			running = append(running, e.d)
		}
	}
	loop := g.loop
	g.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	for _, d := range running {
		if err := d.Stop(); err != nil {
			logger.Warnf("Failed to stop download %s: %v", d.ID, err)
		}
	}

	logger.Infof("Group %s shut down", g.ID)
}

func (g *Group) IsTerminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated
}

// IsBusy reports whether every slot holds a running or paused download.
func (g *Group) IsBusy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heldLocked() >= g.capacity
}

func (g *Group) Capacity() int { return g.capacity }

// Get returns the download registered under id.
func (g *Group) Get(id uuid.UUID) (*downloader.Download, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		return nil, false
	}
	return e.d, true
}

// Downloads returns the group's downloads in the order they were added.
func (g *Group) Downloads() []*downloader.Download {
	g.mu.Lock()
	defer g.mu.Unlock()

	ds := make([]*downloader.Download, len(g.order))
	for i, e := range g.order {
		ds[i] = e.d
	}
	return ds
}

// State returns a snapshot of the group.
func (g *Group) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Group) ids() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]uuid.UUID, len(g.order))
	for i, e := range g.order {
		ids[i] = e.d.ID
	}
	return ids
}

func (g *Group) heldLocked() int {
	held := 0
	for _, e := range g.order {
		if e.holdsSlot() {
			held++
		}
	}
	return held
}

// tick syncs the group's view of every download and admits queued
// downloads in FIFO order while slots are free.
func (g *Group) tick() {
	g.mu.Lock()
	if g.terminated {
		g.mu.Unlock()
		return
	}

	var events []Event

	var changed []*entry
	for _, e := range g.order {
		cur := e.current()
		if cur == e.state {
			continue
		}
		e.state = cur
		if cur.IsTerminal() {
			e.admitted = false
		}
		changed = append(changed, e)
	}

	held := g.heldLocked()
	var admit []*entry
	for held < g.capacity && g.queue.Len() > 0 {
		e := g.queue.dequeue()
		e.admitted = true
		e.waiting = false
		admit = append(admit, e)
		held++
	}

	var waiting []*entry
	for _, e := range g.queue {
		if !e.waiting {
			e.waiting = true
			waiting = append(waiting, e)
		}
	}

	state := g.stateLocked()
	for _, e := range changed {
		if kind, ok := eventFor(e.state); ok {
			info := e.d.Info()
			events = append(events, Event{Kind: kind, GroupID: g.ID, Download: info, Reason: info.Error, State: state})
		}
	}
	for _, e := range admit {
		events = append(events, Event{Kind: EventStarting, GroupID: g.ID, Download: e.d.Info(), State: state})
	}
	for _, e := range waiting {
		events = append(events, Event{Kind: EventWaiting, GroupID: g.ID, Download: e.d.Info(), State: state})
	}
	g.mu.Unlock()

	g.listeners.emit(events)

	for _, e := range admit {
		g.admit(e)
	}
}

func (g *Group) admit(e *entry) {
	var err error
	if e.d.GetStatus() == common.StatePaused {
		err = e.d.Resume()
	} else {
		err = e.d.Start()
	}
	if err == nil {
		logger.Debugf("Group %s admitted download %s", g.ID, e.d.ID)
		return
	}

	logger.Errorf("Group %s failed to start download %s: %v", g.ID, e.d.ID, err)

	g.mu.Lock()
	e.admitted = false
	e.state = common.StateFailure
	events := g.eventsLocked(EventFailure, e)
	g.mu.Unlock()

	for i := range events {
		events[i].Reason = err.Error()
	}
	g.listeners.emit(events)
}

func (g *Group) eventsLocked(kind EventKind, es ...*entry) []Event {
	if len(es) == 0 {
		return nil
	}

	state := g.stateLocked()
	events := make([]Event, len(es))
	for i, e := range es {
		events[i] = Event{Kind: kind, GroupID: g.ID, Download: e.d.Info(), State: state}
	}
	return events
}

func (g *Group) stateLocked() GroupState {
	s := GroupState{ID: g.ID, Name: g.Name, Progress: -1}

	var downloaded, total int64
	known := len(g.order) > 0
	for _, e := range g.order {
		info := e.d.Info()
		s.Downloads = append(s.Downloads, info)

		switch e.current() {
		case common.StateEnqueued:
			s.Queued = append(s.Queued, info)
		case common.StateRunning:
			s.Running = append(s.Running, info)
		case common.StatePaused:
			s.Paused = append(s.Paused, info)
		case common.StateSuccess:
			s.Completed = append(s.Completed, info)
		case common.StateStopped:
			s.Stopped = append(s.Stopped, info)
		case common.StateFailure:
			s.Failed = append(s.Failed, info)
		}

		if info.ContentLength < 0 {
			known = false
		}
		downloaded += info.Downloaded
		total += info.ContentLength
	}

	if known && total > 0 {
		s.Progress = common.Percentage(downloaded, total)
	}

	return s
}
