package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NamanBalaji/gdl/internal/chunk"
	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/logger"
	"github.com/NamanBalaji/gdl/internal/sink"
	httpproto "github.com/NamanBalaji/gdl/pkg/protocol/http"
)

type runMode int

const (
	modeStart runMode = iota
	modeResume
	modeFallback
)

// run is one pass of workers over the download's chunks. A new run is
// created by start, resume, restart and the single-connection fallback.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	active atomic.Int32
	sink   sink.Sink

	fallback bool
	// acknowledgment sent once the previous run has settled
	ack func()

	// guarded by Download.mu
	interrupted bool
	requested   common.State

	mu          sync.Mutex
	err         error
	unsupported bool
}

func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	if errors.Is(err, httpproto.ErrUnsupportedRange) {
		r.unsupported = true
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *run) failure() (unsupported bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsupported, r.err
}

// newRunLocked must be called with d.mu held.
func (d *Download) newRunLocked(fallback bool) (*run, *run) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		fallback: fallback,
	}
	prev := d.current
	d.current = r

	return r, prev
}

// Start begins the transfer. From a terminal state it behaves like Restart.
// The call only validates and schedules; outcomes arrive through listeners.
func (d *Download) Start() error {
	d.mu.Lock()
	if d.rt == nil {
		d.mu.Unlock()
		return ErrNotBound
	}

	st := d.GetStatus()
	if st.IsTerminal() {
		d.mu.Unlock()
		return d.Restart()
	}
	if st != common.StateEnqueued {
		d.mu.Unlock()
		return &StateError{Op: "start", State: st}
	}

	d.SetStatus(common.StateRunning)
	d.StartTime = time.Now()
	d.EndTime = time.Time{}
	d.ErrorMessage = ""
	mode := modeStart
	if len(d.chunks) > 0 {
		mode = modeResume
	}
	r, prev := d.newRunLocked(false)
	d.mu.Unlock()

	logger.Infof("Starting download %s", d.ID)
	d.save()

	return d.dispatch(r, prev, mode)
}

// Freeze pauses a running download once its workers reach a chunk boundary.
// Cursors are kept so Resume continues where the workers stopped.
func (d *Download) Freeze() error {
	d.mu.Lock()
	st := d.GetStatus()
	var err error
	switch {
	case d.rt == nil:
		err = ErrNotBound
	case d.Sequential():
		err = &StateError{Op: "pause", State: st, Err: ErrFreezeUnsupported}
	case st != common.StateRunning:
		err = &StateError{Op: "pause", State: st}
	}
	if err != nil {
		info := d.infoLocked()
		d.mu.Unlock()
		d.listeners.paused(info, false, reasonOf(err))
		return err
	}

	d.SetStatus(common.StatePaused)
	r := d.current
	if r != nil {
		r.interrupted = true
		r.requested = common.StatePaused
	}
	info := d.infoLocked()
	d.mu.Unlock()

	logger.Infof("Pausing download %s", d.ID)
	if r == nil {
		d.save()
		d.listeners.paused(info, true, "")
		return nil
	}
	r.cancel()

	return nil
}

// Resume continues a paused download from the saved cursors.
func (d *Download) Resume() error {
	d.mu.Lock()
	st := d.GetStatus()
	var err error
	switch {
	case d.rt == nil:
		err = ErrNotBound
	case st != common.StatePaused:
		err = &StateError{Op: "resume", State: st}
	}
	if err != nil {
		info := d.infoLocked()
		d.mu.Unlock()
		d.listeners.resumed(info, false, reasonOf(err))
		return err
	}

	d.SetStatus(common.StateRunning)
	d.ErrorMessage = ""
	if d.StartTime.IsZero() {
		d.StartTime = time.Now()
	}
	mode := modeResume
	if len(d.chunks) == 0 {
		mode = modeStart
	}
	r, prev := d.newRunLocked(false)
	info := d.infoLocked()
	r.ack = func() { d.listeners.resumed(info, true, "") }
	d.mu.Unlock()

	logger.Infof("Resuming download %s", d.ID)
	d.save()

	return d.dispatch(r, prev, mode)
}

// Stop cancels a running or paused download. Bytes already written stay in
// the destination.
func (d *Download) Stop() error {
	d.mu.Lock()
	st := d.GetStatus()
	var err error
	switch {
	case d.rt == nil:
		err = ErrNotBound
	case st != common.StateRunning && st != common.StatePaused:
		err = &StateError{Op: "stop", State: st}
	}
	if err != nil {
		info := d.infoLocked()
		d.mu.Unlock()
		d.listeners.stopped(info, false, reasonOf(err))
		return err
	}

	d.SetStatus(common.StateStopped)
	d.EndTime = time.Now()
	r := d.current
	if r != nil {
		r.interrupted = true
		r.requested = common.StateStopped
		d.mu.Unlock()
		logger.Infof("Stopping download %s", d.ID)
		r.cancel()
		return nil
	}
	info := d.infoLocked()
	d.mu.Unlock()

	logger.Infof("Stopped paused download %s", d.ID)
	d.stopProgress()
	d.save()
	d.listeners.stopped(info, true, "")

	return nil
}

// Restart discards every cursor and downloads again from offset zero.
// It is a no-op for a download that was never started.
func (d *Download) Restart() error {
	d.mu.Lock()
	st := d.GetStatus()
	if st == common.StateEnqueued {
		d.mu.Unlock()
		return nil
	}

	var err error
	switch {
	case d.rt == nil:
		err = ErrNotBound
	case !st.IsTerminal():
		err = &StateError{Op: "restart", State: st}
	}
	if err != nil {
		info := d.infoLocked()
		d.mu.Unlock()
		d.listeners.restarted(info, false, reasonOf(err))
		return err
	}

	d.negotiator.Reset()
	d.chunks = nil
	d.MultiConnection = false
	d.Hash = ""
	d.ErrorMessage = ""
	d.StartTime = time.Now()
	d.EndTime = time.Time{}
	atomic.StoreInt64(&d.Downloaded, 0)
	atomic.StoreInt64(&d.TotalSize, -1)
	d.SetStatus(common.StateRunning)
	r, prev := d.newRunLocked(false)
	info := d.infoLocked()
	r.ack = func() { d.listeners.restarted(info, true, "") }
	d.mu.Unlock()

	logger.Infof("Restarting download %s", d.ID)
	d.save()

	return d.dispatch(r, prev, modeStart)
}

// Wait blocks until no run is active and the last one has settled, or
// until ctx is done.
func (d *Download) Wait(ctx context.Context) error {
	for {
		d.mu.Lock()
		r := d.current
		if r == nil {
			r = d.last
		}
		d.mu.Unlock()

		if r == nil {
			return nil
		}

		select {
		case <-r.done:
			d.mu.Lock()
			idle := d.current == nil
			d.mu.Unlock()
			if idle {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Download) dispatch(r, prev *run, mode runMode) error {
	if err := d.rt.submit(func() { d.launch(r, prev, mode) }); err != nil {
		logger.Errorf("Failed to schedule download %s: %v", d.ID, err)
		r.fail(err)
		d.settle(r)
		return err
	}
	return nil
}

func (d *Download) launch(r, prev *run, mode runMode) {
	if prev != nil {
		<-prev.done
	}
	if r.ack != nil {
		r.ack()
	}

	var err error
	switch {
	case r.ctx.Err() != nil:
		err = r.ctx.Err()
	case mode == modeStart:
		err = d.negotiate(r)
	case mode == modeResume:
		err = d.reconnect(r)
	}
	if err != nil {
		r.fail(err)
		d.settle(r)
		return
	}

	s, err := d.openSink(r, mode)
	if err != nil {
		r.fail(err)
		d.settle(r)
		return
	}
	r.sink = s

	d.startProgress()

	d.mu.Lock()
	pending := make([]*chunk.Chunk, 0, len(d.chunks))
	for _, c := range d.chunks {
		if !c.IsComplete() {
			pending = append(pending, c)
		}
	}
	d.mu.Unlock()

	if len(pending) == 0 {
		d.settle(r)
		return
	}

	r.active.Store(int32(len(pending)))
	for _, c := range pending {
		if err := d.rt.submit(func() { d.work(r, c) }); err != nil {
			r.fail(err)
			d.workerDone(r)
		}
	}
}

func (d *Download) negotiate(r *run) error {
	conn, err := d.negotiator.Connect(r.ctx, d.URL)
	if err != nil {
		return err
	}

	d.mu.Lock()
	atomic.StoreInt64(&d.TotalSize, conn.ContentLength)
	d.Hash = conn.Hash
	if d.Filename == "" {
		d.Filename = conn.Filename
	}
	info := d.infoLocked()
	d.mu.Unlock()

	d.listeners.connectionEstablished(info)

	if !d.listeners.confirmStart(r.ctx, info, conn.ContentLength, d.Options.StartConfirmTimeout) {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		return ErrDeclined
	}

	count := 1
	if d.Options.Connections > 1 && conn.AcceptRanges && conn.ContentLength >= 0 && !d.Sequential() {
		count = d.Options.Connections
	}
	chunks, err := chunk.Split(conn.ContentLength, count)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.chunks = chunks
	d.MultiConnection = len(chunks) > 1
	atomic.StoreInt64(&d.Downloaded, 0)
	info = d.infoLocked()
	d.mu.Unlock()

	logger.Infof("Download %s: %d bytes in %d chunk(s), ranges=%v", d.ID, conn.ContentLength, len(chunks), conn.AcceptRanges)
	d.listeners.multiConnection(info, info.MultiConnection)

	return nil
}

func (d *Download) reconnect(r *run) error {
	var (
		conn *httpproto.RemoteConnection
		err  error
	)
	if d.negotiator.URL() == "" {
		conn, err = d.negotiator.Connect(r.ctx, d.URL)
	} else {
		conn, err = d.negotiator.Reconnect(r.ctx)
	}
	if err != nil {
		return err
	}

	if total := d.GetTotalSize(); conn.ContentLength != total {
		return fmt.Errorf("%w: length was %d, now %d", ErrResourceChanged, total, conn.ContentLength)
	}

	d.listeners.connectionEstablished(d.Info())

	return nil
}

func (d *Download) openSink(r *run, mode runMode) (sink.Sink, error) {
	d.mu.Lock()
	name := d.Filename
	path := d.FilePath
	d.mu.Unlock()

	if name == "" {
		name = "download"
	}

	if d.Sequential() {
		if path == "" {
			path = name
		}
		d.setFilePath(path)
		return sink.OpenBlob(r.ctx, d.Options.Bucket, path)
	}

	var err error
	switch {
	case path == "":
		path, err = sink.ResolvePath(d.Options.Directory, name, d.Options.ReplaceExisting)
	case mode == modeStart:
		path, err = sink.ResolvePath(filepath.Dir(path), filepath.Base(path), true)
	}
	if err != nil {
		return nil, err
	}
	d.setFilePath(path)

	return sink.OpenFile(path, max(d.GetTotalSize(), 0))
}

func (d *Download) setFilePath(path string) {
	d.mu.Lock()
	d.FilePath = path
	d.mu.Unlock()
}

func (d *Download) workerDone(r *run) {
	if r.active.Add(-1) == 0 {
		d.settle(r)
	}
}

type outcome int

const (
	outPaused outcome = iota
	outStopped
	outFailed
	outSucceeded
)

// settle runs once per run after its last worker exited, or directly when
// the run ended before any worker started.
func (d *Download) settle(r *run) {
	d.mu.Lock()
	interrupted, requested := r.interrupted, r.requested
	complete := len(d.chunks) > 0 && chunk.AllComplete(d.chunks)
	d.mu.Unlock()

	unsupported, err := r.failure()

	if !interrupted && unsupported && !r.fallback {
		d.closeSink(r, false)
		if d.fallback(r) {
			return
		}
	}

	sinkErr := d.closeSink(r, !interrupted && err == nil && complete)

	d.mu.Lock()
	if d.current == r {
		d.current = nil
		d.last = r
	}

	var out outcome
	reason := ""
	switch {
	case interrupted && requested == common.StatePaused:
		out = outPaused
	case interrupted:
		out = outStopped
	case errors.Is(err, ErrDeclined):
		d.SetStatus(common.StateStopped)
		d.EndTime = time.Now()
		out, reason = outStopped, ErrDeclined.Error()
	case err == nil && sinkErr == nil && complete:
		d.SetStatus(common.StateSuccess)
		d.EndTime = time.Now()
		out = outSucceeded
	default:
		if err == nil {
			err = sinkErr
		}
		if err == nil {
			err = errors.New("transfer ended before every chunk completed")
		}
		d.SetStatus(common.StateFailure)
		d.EndTime = time.Now()
		d.ErrorMessage = err.Error()
		out, reason = outFailed, err.Error()
	}
	info := d.infoLocked()
	d.mu.Unlock()

	switch out {
	case outPaused:
		d.pauseProgress()
		d.save()
		logger.Infof("Download %s paused at %d bytes", d.ID, info.Downloaded)
		d.listeners.paused(info, true, "")
	case outStopped:
		d.stopProgress()
		d.save()
		logger.Infof("Download %s stopped", d.ID)
		d.listeners.stopped(info, true, reason)
	case outFailed:
		d.stopProgress()
		d.save()
		logger.Errorf("Download %s failed: %s", d.ID, reason)
		d.listeners.failed(info, reason)
	case outSucceeded:
		d.stopProgress()
		d.listeners.progress(info, d.Progress())
		d.save()
		logger.Infof("Download %s completed: %d bytes", d.ID, info.Downloaded)
		d.listeners.success(info)
	}

	close(r.done)
}

// fallback replaces the chunk layout with a single chunk after the server
// refused ranges mid-download, and starts a new run over it.
func (d *Download) fallback(r *run) bool {
	d.mu.Lock()
	if d.current != r || d.GetStatus() != common.StateRunning {
		d.mu.Unlock()
		return false
	}

	chunks, err := chunk.Split(d.GetTotalSize(), 1)
	if err != nil {
		d.mu.Unlock()
		return false
	}
	d.chunks = chunks
	d.MultiConnection = false
	atomic.StoreInt64(&d.Downloaded, 0)
	next, _ := d.newRunLocked(true)
	d.mu.Unlock()

	logger.Warnf("Server ignored range requests for download %s, falling back to a single connection", d.ID)
	close(r.done)
	_ = d.dispatch(next, nil, modeFallback)

	return true
}

func (d *Download) closeSink(r *run, commit bool) error {
	s := r.sink
	if s == nil {
		return nil
	}
	r.sink = nil

	if b, ok := s.(*sink.BlobSink); ok && !commit {
		return b.Abort()
	}
	return s.Close()
}

func reasonOf(err error) string {
	var stateErr *StateError
	if errors.As(err, &stateErr) && stateErr.Err != nil {
		return stateErr.Err.Error()
	}
	return err.Error()
}
