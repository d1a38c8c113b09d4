package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/NamanBalaji/gdl/internal/chunk"
	"github.com/NamanBalaji/gdl/internal/common"
)

// Listener is any value implementing one or more of the callback
// interfaces below. Callbacks a listener does not implement are skipped,
// and a value implementing none is rejected with ErrInvalidListener.
// Listeners are compared with == on removal, so use pointers.
type Listener any

// IsListener reports whether l implements at least one callback interface.
func IsListener(l Listener) bool {
	switch l.(type) {
	case ConnectionListener, ChunkListener, ProgressListener, FailureListener,
		SuccessListener, StopListener, RestartListener, PauseListener,
		ResumeListener, MultiConnectionListener, StartGate:
		return true
	}
	return false
}

type ConnectionListener interface {
	OnConnectionEstablished(info Info)
}

type ChunkListener interface {
	OnConnection(info Info, c chunk.Info)
}

type ProgressListener interface {
	OnDownloadProgress(info Info, p common.Progress)
}

type FailureListener interface {
	OnDownloadFailed(info Info, reason string)
}

type SuccessListener interface {
	OnDownloadSuccess(info Info)
}

type StopListener interface {
	OnStop(info Info, ok bool, reason string)
}

type RestartListener interface {
	OnRestart(info Info, ok bool, reason string)
}

type PauseListener interface {
	OnPause(info Info, ok bool, reason string)
}

type ResumeListener interface {
	OnResume(info Info, ok bool, reason string)
}

type MultiConnectionListener interface {
	OnDownloadIsMultiConnection(info Info, multi bool)
}

// StartGate is asked before any byte is transferred. The transfer waits
// until accept is called; no answer before the confirm timeout declines.
type StartGate interface {
	ShouldStartDownload(info Info, contentLength int64, accept func(bool))
}

// LoadListener is told when a download lookup in the store completes.
// d is nil when nothing was stored under key.
type LoadListener interface {
	OnDownloadLoaded(key string, d *Download)
}

type listeners struct {
	mu   sync.RWMutex
	list []Listener
}

func (ls *listeners) add(l Listener) {
	if l == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for _, existing := range ls.list {
		if existing == l {
			return
		}
	}
	ls.list = append(ls.list, l)
}

func (ls *listeners) remove(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, existing := range ls.list {
		if existing == l {
			ls.list = append(ls.list[:i:i], ls.list[i+1:]...)
			return
		}
	}
}

func (ls *listeners) snapshot() []Listener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.list
}

func (ls *listeners) connectionEstablished(info Info) {
	for _, l := range ls.snapshot() {
		if cl, ok := l.(ConnectionListener); ok {
			cl.OnConnectionEstablished(info)
		}
	}
}

func (ls *listeners) connection(info Info, c chunk.Info) {
	for _, l := range ls.snapshot() {
		if cl, ok := l.(ChunkListener); ok {
			cl.OnConnection(info, c)
		}
	}
}

func (ls *listeners) progress(info Info, p common.Progress) {
	for _, l := range ls.snapshot() {
		if pl, ok := l.(ProgressListener); ok {
			pl.OnDownloadProgress(info, p)
		}
	}
}

func (ls *listeners) failed(info Info, reason string) {
	for _, l := range ls.snapshot() {
		if fl, ok := l.(FailureListener); ok {
			fl.OnDownloadFailed(info, reason)
		}
	}
}

func (ls *listeners) success(info Info) {
	for _, l := range ls.snapshot() {
		if sl, ok := l.(SuccessListener); ok {
			sl.OnDownloadSuccess(info)
		}
	}
}

func (ls *listeners) stopped(info Info, ok bool, reason string) {
	for _, l := range ls.snapshot() {
		if sl, is := l.(StopListener); is {
			sl.OnStop(info, ok, reason)
		}
	}
}

func (ls *listeners) restarted(info Info, ok bool, reason string) {
	for _, l := range ls.snapshot() {
		if rl, is := l.(RestartListener); is {
			rl.OnRestart(info, ok, reason)
		}
	}
}

func (ls *listeners) paused(info Info, ok bool, reason string) {
	for _, l := range ls.snapshot() {
		if pl, is := l.(PauseListener); is {
			pl.OnPause(info, ok, reason)
		}
	}
}

func (ls *listeners) resumed(info Info, ok bool, reason string) {
	for _, l := range ls.snapshot() {
		if rl, is := l.(ResumeListener); is {
			rl.OnResume(info, ok, reason)
		}
	}
}

func (ls *listeners) multiConnection(info Info, multi bool) {
	for _, l := range ls.snapshot() {
		if ml, ok := l.(MultiConnectionListener); ok {
			ml.OnDownloadIsMultiConnection(info, multi)
		}
	}
}

// confirmStart asks every StartGate in turn. All of them must accept.
func (ls *listeners) confirmStart(ctx context.Context, info Info, contentLength int64, timeout time.Duration) bool {
	for _, l := range ls.snapshot() {
		gate, ok := l.(StartGate)
		if !ok {
			continue
		}

		answer := make(chan bool, 1)
		var once sync.Once
		gate.ShouldStartDownload(info, contentLength, func(accept bool) {
			once.Do(func() { answer <- accept })
		})

		var expired <-chan time.Time
		if timeout > 0 {
			t := time.NewTimer(timeout)
			defer t.Stop()
			expired = t.C
		}

		select {
		case accept := <-answer:
			if !accept {
				return false
			}
		case <-expired:
			return false
		case <-ctx.Done():
			return false
		}
	}

	return true
}
