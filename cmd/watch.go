package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/downloader"
	"github.com/NamanBalaji/gdl/internal/engine"
)

// watcher prints group events for the downloads it tracks and reports
// when all of them reached a terminal state.
type watcher struct {
	mu       sync.Mutex
	pending  map[uuid.UUID]bool
	failed   int
	settled  chan struct{}
	progress bool // single download: redraw one progress line
	inline   bool
}

func newWatcher(progress bool) *watcher {
	return &watcher{
		pending:  make(map[uuid.UUID]bool),
		settled:  make(chan struct{}, 1),
		progress: progress,
	}
}

// track registers d. A download that finished before it was tracked is
// settled right away.
func (w *watcher) track(d *downloader.Download) {
	w.mu.Lock()
	w.pending[d.ID] = true
	w.mu.Unlock()

	if d.GetStatus().IsTerminal() {
		info := d.Info()
		w.settle(info, info.Status, info.Error)
	}
}

func (w *watcher) OnGroupEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventWaiting:
		w.print(ev.Download.ID, func() { PrintPending("Waiting for a free slot: " + name(ev.Download)) })
	case engine.EventStarting:
		w.print(ev.Download.ID, func() { PrintInfo("Starting " + ev.Download.URL) })
	case engine.EventSuccess:
		w.settle(ev.Download, common.StateSuccess, "")
	case engine.EventFailure:
		w.settle(ev.Download, common.StateFailure, ev.Reason)
	case engine.EventStopped:
		w.settle(ev.Download, common.StateStopped, "")
	}
}

func (w *watcher) OnDownloadProgress(info downloader.Info, p common.Progress) {
	if !w.progress || info.Status != common.StateRunning {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.inline = true
	fmt.Printf("\r%s %s / %s  %s  %s/s   ",
		detailStyle.Render(name(info)),
		formatBytes(p.Downloaded), formatBytes(p.TotalBytes),
		formatPercent(p.Percent), formatBytes(p.BytesPerSecond))
}

func (w *watcher) OnDownloadIsMultiConnection(info downloader.Info, multi bool) {
	if !multi {
		return
	}
	w.print(info.ID, func() {
		PrintInfo(fmt.Sprintf("%s: %d connections", name(info), len(info.Chunks)))
	})
}

func (w *watcher) print(id uuid.UUID, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.pending[id] {
		return
	}
	w.breakLine()
	fn()
}

func (w *watcher) settle(info downloader.Info, st common.State, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.pending[info.ID] {
		return
	}
	delete(w.pending, info.ID)

	w.breakLine()
	switch st {
	case common.StateSuccess:
		PrintSuccess(fmt.Sprintf("Downloaded %s (%s) to %s", name(info), formatBytes(info.Downloaded), info.FilePath))
	case common.StateFailure:
		w.failed++
		PrintError(fmt.Sprintf("Failed %s: %s", name(info), reason))
	default:
		PrintWarning(fmt.Sprintf("Stopped %s", name(info)))
	}

	select {
	case w.settled <- struct{}{}:
	default:
	}
}

func (w *watcher) breakLine() {
	if w.inline {
		fmt.Println()
		w.inline = false
	}
}

// wait blocks until every tracked download settled. Cancelling ctx leaves
// the rest to the engine shutdown, which pauses them.
func (w *watcher) wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		pending, failed := len(w.pending), w.failed
		w.mu.Unlock()

		if pending == 0 {
			if failed > 0 {
				return fmt.Errorf("%d download(s) failed", failed)
			}
			return nil
		}

		select {
		case <-w.settled:
		case <-ctx.Done():
			w.mu.Lock()
			w.breakLine()
			w.mu.Unlock()
			PrintWarning("Interrupted, pausing downloads. Run `gdl resume` to continue.")
			return nil
		}
	}
}

func name(info downloader.Info) string {
	if info.Filename != "" {
		return info.Filename
	}
	return info.URL
}
