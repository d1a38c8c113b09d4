package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/downloader"
)

type EventKind int

const (
	// EventAdded: the download joined the group; nothing is scheduled yet.
	EventAdded EventKind = iota
	// EventEnqueued: the download is eligible and waits for admission.
	EventEnqueued
	// EventWaiting: every slot is taken and the download waits its turn.
	EventWaiting
	// EventStarting: the download was admitted and is about to start.
	EventStarting
	// EventDownloading: transfer is running.
	EventDownloading
	EventSuccess
	EventFailure
	EventPaused
	EventStopped
)

var eventNames = [...]string{"added", "enqueued", "waiting", "starting", "downloading", "success", "failure", "paused", "stopped"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is a lifecycle change of one download as seen by its group.
type Event struct {
	Kind     EventKind
	GroupID  uuid.UUID
	Download downloader.Info
	Reason   string // set for EventFailure
	State    GroupState
}

// GroupListener receives every event of a group. Listeners are compared
// with == on removal, so use pointers.
type GroupListener interface {
	OnGroupEvent(ev Event)
}

// GroupState is a snapshot of a group's downloads bucketed by state.
type GroupState struct {
	ID        uuid.UUID
	Name      string
	Downloads []downloader.Info
	Queued    []downloader.Info
	Running   []downloader.Info
	Paused    []downloader.Info
	Completed []downloader.Info
	Stopped   []downloader.Info
	Failed    []downloader.Info
	// Progress is the aggregate percentage, -1 while any length is unknown
	// or the group is empty.
	Progress float64
}

type groupListeners struct {
	mu   sync.RWMutex
	list []GroupListener
}

func (ls *groupListeners) add(l GroupListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.list = append(ls.list, l)
}

func (ls *groupListeners) remove(l GroupListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, existing := range ls.list {
		if existing == l {
			ls.list = append(ls.list[:i:i], ls.list[i+1:]...)
			return
		}
	}
}

func (ls *groupListeners) emit(events []Event) {
	ls.mu.RLock()
	list := ls.list
	ls.mu.RUnlock()

	for _, ev := range events {
		for _, l := range list {
			l.OnGroupEvent(ev)
		}
	}
}

func eventFor(st common.State) (EventKind, bool) {
	switch st {
	case common.StateRunning:
		return EventDownloading, true
	case common.StatePaused:
		return EventPaused, true
	case common.StateStopped:
		return EventStopped, true
	case common.StateFailure:
		return EventFailure, true
	case common.StateSuccess:
		return EventSuccess, true
	default:
		return 0, false
	}
}
