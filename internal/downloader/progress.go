package downloader

import (
	"time"

	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/logger"
	"github.com/NamanBalaji/gdl/internal/scheduler"
)

// startProgress schedules the bookkeeping tick, or resumes it after a pause.
func (d *Download) startProgress() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastBytes = d.GetDownloaded()
	d.lastTick = time.Now()

	if d.rt.Scheduler == nil {
		return
	}
	if d.progress != nil {
		if d.progress.State() == scheduler.Paused {
			d.progress.Resume()
		}
		return
	}

	h, err := d.rt.Scheduler.Schedule(d.progressTick, d.Options.ProgressInterval)
	if err != nil {
		logger.Warnf("Failed to schedule progress for download %s: %v", d.ID, err)
		return
	}
	d.progress = h
}

func (d *Download) pauseProgress() {
	d.mu.Lock()
	h := d.progress
	d.mu.Unlock()

	if h != nil {
		h.Pause()
	}
	d.speed.Store(0)
}

func (d *Download) stopProgress() {
	d.mu.Lock()
	h := d.progress
	d.progress = nil
	d.mu.Unlock()

	if h != nil {
		h.Stop()
	}
	d.speed.Store(0)
}

// progressTick computes the transfer rate, reports progress and saves the
// download whenever bytes moved since the previous tick.
func (d *Download) progressTick() {
	if d.GetStatus() != common.StateRunning {
		return
	}

	now := time.Now()
	downloaded := d.GetDownloaded()

	d.mu.Lock()
	delta := downloaded - d.lastBytes
	elapsed := now.Sub(d.lastTick)
	d.lastBytes, d.lastTick = downloaded, now
	d.mu.Unlock()

	if elapsed > 0 {
		d.speed.Store(max(0, int64(float64(delta)/elapsed.Seconds())))
	}
	if delta <= 0 {
		return
	}

	d.listeners.progress(d.Info(), d.Progress())
	d.save()
}
