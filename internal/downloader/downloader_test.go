package downloader_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/gdl/internal/chunk"
	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/downloader"
	"github.com/NamanBalaji/gdl/internal/scheduler"
	httpproto "github.com/NamanBalaji/gdl/pkg/protocol/http"
)

const (
	payloadSize = 1_000_000
	waitTimeout = 10 * time.Second
)

var payload = func() []byte {
	b := make([]byte, payloadSize)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}()

type memStore struct {
	mu      sync.Mutex
	saves   int
	records map[uuid.UUID][]byte
}

func (s *memStore) Save(d *downloader.Download) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[uuid.UUID][]byte)
	}
	s.records[d.ID] = b
	s.saves++
	return nil
}

func (s *memStore) status(t *testing.T, id uuid.UUID) common.State {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec struct {
		Status common.State `json:"status"`
	}
	require.NoError(t, json.Unmarshal(s.records[id], &rec))
	return rec.Status
}

type ack struct {
	info   downloader.Info
	ok     bool
	reason string
}

type recorder struct {
	connected atomic.Int32
	chunks    atomic.Int32

	multi    chan bool
	progress chan common.Progress
	success  chan downloader.Info
	failed   chan string
	paused   chan ack
	resumed  chan ack
	stopped  chan ack
	restart  chan ack
}

func newRecorder() *recorder {
	return &recorder{
		multi:    make(chan bool, 8),
		progress: make(chan common.Progress, 1024),
		success:  make(chan downloader.Info, 8),
		failed:   make(chan string, 8),
		paused:   make(chan ack, 8),
		resumed:  make(chan ack, 8),
		stopped:  make(chan ack, 8),
		restart:  make(chan ack, 8),
	}
}

func (r *recorder) OnConnectionEstablished(downloader.Info) { r.connected.Add(1) }

func (r *recorder) OnConnection(downloader.Info, chunk.Info) { r.chunks.Add(1) }

func (r *recorder) OnDownloadIsMultiConnection(_ downloader.Info, multi bool) { r.multi <- multi }

func (r *recorder) OnDownloadProgress(_ downloader.Info, p common.Progress) {
	select {
	case r.progress <- p:
	default:
	}
}

func (r *recorder) OnDownloadSuccess(info downloader.Info)       { r.success <- info }
func (r *recorder) OnDownloadFailed(_ downloader.Info, s string) { r.failed <- s }

func (r *recorder) OnPause(info downloader.Info, ok bool, reason string) {
	r.paused <- ack{info, ok, reason}
}

func (r *recorder) OnResume(info downloader.Info, ok bool, reason string) {
	r.resumed <- ack{info, ok, reason}
}

func (r *recorder) OnStop(info downloader.Info, ok bool, reason string) {
	r.stopped <- ack{info, ok, reason}
}

func (r *recorder) OnRestart(info downloader.Info, ok bool, reason string) {
	r.restart <- ack{info, ok, reason}
}

type gate struct {
	answer *bool
}

func (g *gate) ShouldStartDownload(_ downloader.Info, _ int64, accept func(bool)) {
	if g.answer != nil {
		go accept(*g.answer)
	}
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for event")
	}
	var zero T
	return zero
}

func newRuntime(t *testing.T) (*downloader.Runtime, *memStore) {
	t.Helper()

	client, err := httpproto.NewClient(nil)
	require.NoError(t, err)
	pool, err := ants.NewPool(64)
	require.NoError(t, err)
	sched := scheduler.New(pool)
	store := &memStore{}

	t.Cleanup(func() {
		sched.Shutdown()
		pool.Release()
		client.Cleanup()
	})

	return &downloader.Runtime{Client: client, Pool: pool, Scheduler: sched, Store: store}, store
}

func testOptions(t *testing.T) *common.Options {
	opts := common.DefaultOptions()
	opts.Directory = t.TempDir()
	opts.Filename = "payload.bin"
	opts.RetryDelay = time.Millisecond
	opts.ProgressInterval = 10 * time.Millisecond
	return opts
}

func newDownload(t *testing.T, rawURL string, opts *common.Options) (*downloader.Download, *recorder, *memStore) {
	t.Helper()

	rt, store := newRuntime(t)
	d, err := downloader.NewDownload(rawURL, opts)
	require.NoError(t, err)
	d.Bind(rt)

	rec := newRecorder()
	require.NoError(t, d.AddListener(rec))

	return d, rec, store
}

func serveContent(w http.ResponseWriter, r *http.Request) {
	http.ServeContent(w, r, "payload.bin", time.Time{}, bytes.NewReader(payload))
}

func assertFileContent(t *testing.T, path string) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, b), "file content differs from source")
}

// stallingServer sends the first stallAt bytes of the first GET and then
// holds the connection open until the client goes away. Later GETs are
// served normally. Every GET's Range header is recorded.
type stallingServer struct {
	*httptest.Server
	stallAt int
	gets    atomic.Int32
	ranges  chan string
}

func newStallingServer(t *testing.T, stallAt int) *stallingServer {
	s := &stallingServer{stallAt: stallAt, ranges: make(chan string, 8)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			serveContent(w, r)
			return
		}

		s.ranges <- r.Header.Get("Range")
		if s.gets.Add(1) > 1 {
			serveContent(w, r)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", payloadSize-1, payloadSize))
		w.Header().Set("Content-Length", strconv.Itoa(payloadSize))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload[:s.stallAt])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(s.Close)
	return s
}

func TestNewDownloadValidation(t *testing.T) {
	_, err := downloader.NewDownload("ftp://example.com/file", nil)
	assert.ErrorIs(t, err, downloader.ErrInvalidURL)

	_, err = downloader.NewDownload("not a url", nil)
	assert.ErrorIs(t, err, downloader.ErrInvalidURL)

	opts := common.DefaultOptions()
	opts.Connections = 0
	_, err = downloader.NewDownload("http://example.com/file", opts)
	assert.ErrorIs(t, err, downloader.ErrInvalidOptions)

	d, err := downloader.NewDownload("http://example.com/file", nil)
	require.NoError(t, err)
	assert.Equal(t, common.StateEnqueued, d.GetStatus())
	assert.Equal(t, int64(-1), d.GetTotalSize())
	assert.Equal(t, ".", d.Options.Directory)
	assert.ErrorIs(t, d.Start(), downloader.ErrNotBound)
}

func TestMultiConnectionDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	d, rec, store := newDownload(t, server.URL+"/payload.bin", testOptions(t))
	require.NoError(t, d.Start())
	assert.Equal(t, common.StateRunning, d.GetStatus())

	assert.True(t, receive(t, rec.multi))
	info := receive(t, rec.success)

	assert.Equal(t, common.StateSuccess, info.Status)
	assert.Equal(t, int64(payloadSize), info.Downloaded)
	assert.Equal(t, int64(payloadSize), info.ContentLength)
	require.Len(t, info.Chunks, 4)
	for i, c := range info.Chunks {
		assert.Equal(t, int64(i*250_000), c.Start)
		assert.Equal(t, int64((i+1)*250_000), c.End)
		assert.Equal(t, chunk.Completed, c.Status)
	}
	assert.Equal(t, int32(4), rec.chunks.Load())
	assert.Equal(t, int32(1), rec.connected.Load())
	assertFileContent(t, info.FilePath)

	require.NoError(t, d.Wait(t.Context()))
	assert.Equal(t, common.StateSuccess, store.status(t, d.ID))

	p := d.Progress()
	assert.Equal(t, 100.0, p.Percent)
}

func TestSingleConnectionWithoutRanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "none")
		w.Header().Set("Content-Length", strconv.Itoa(payloadSize))
		if r.Method == http.MethodGet {
			_, _ = w.Write(payload)
		}
	}))
	defer server.Close()

	d, rec, _ := newDownload(t, server.URL+"/payload.bin", testOptions(t))
	require.NoError(t, d.Start())

	assert.False(t, receive(t, rec.multi))
	info := receive(t, rec.success)
	require.Len(t, info.Chunks, 1)
	assert.Equal(t, int64(0), info.Chunks[0].Start)
	assert.Equal(t, int64(payloadSize), info.Chunks[0].End)
	assert.False(t, info.MultiConnection)
	assertFileContent(t, info.FilePath)
}

func TestFreezeAndResume(t *testing.T) {
	server := newStallingServer(t, 400_000)

	opts := testOptions(t)
	opts.Connections = 1
	d, rec, store := newDownload(t, server.URL+"/payload.bin", opts)
	require.NoError(t, d.Start())
	assert.Equal(t, "bytes=0-1000000", receive(t, server.ranges))

	require.Eventually(t, func() bool {
		return d.GetDownloaded() >= 12*32*1024
	}, waitTimeout, 5*time.Millisecond)
	receive(t, rec.progress)

	require.NoError(t, d.Freeze())
	paused := receive(t, rec.paused)
	assert.True(t, paused.ok)
	assert.Equal(t, common.StatePaused, paused.info.Status)
	assert.Equal(t, common.StatePaused, store.status(t, d.ID))

	at := paused.info.Downloaded
	assert.Positive(t, at)
	assert.Equal(t, at, paused.info.Chunks[0].Downloaded)

	require.NoError(t, d.Resume())
	assert.True(t, receive(t, rec.resumed).ok)
	assert.Equal(t, fmt.Sprintf("bytes=%d-1000000", at), receive(t, server.ranges))

	info := receive(t, rec.success)
	assert.Equal(t, int64(payloadSize), info.Downloaded)
	assertFileContent(t, info.FilePath)
}

func TestCommandsRejectedInWrongState(t *testing.T) {
	d, rec, _ := newDownload(t, "http://127.0.0.1:1/payload.bin", testOptions(t))

	var stateErr *downloader.StateError

	err := d.Freeze()
	require.ErrorAs(t, err, &stateErr)
	a := receive(t, rec.paused)
	assert.False(t, a.ok)
	assert.NotEmpty(t, a.reason)

	require.ErrorAs(t, d.Resume(), &stateErr)
	assert.False(t, receive(t, rec.resumed).ok)

	require.ErrorAs(t, d.Stop(), &stateErr)
	assert.False(t, receive(t, rec.stopped).ok)

	// restarting a download that never ran does nothing
	require.NoError(t, d.Restart())
	assert.Equal(t, common.StateEnqueued, d.GetStatus())
	assert.Empty(t, rec.restart)
}

func TestStopAndRestart(t *testing.T) {
	server := newStallingServer(t, 200_000)

	opts := testOptions(t)
	opts.Connections = 1
	d, rec, _ := newDownload(t, server.URL+"/payload.bin", opts)
	require.NoError(t, d.Start())
	receive(t, server.ranges)

	require.Eventually(t, func() bool { return d.GetDownloaded() > 0 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, d.Stop())
	stopped := receive(t, rec.stopped)
	assert.True(t, stopped.ok)
	assert.Equal(t, common.StateStopped, d.GetStatus())

	var stateErr *downloader.StateError
	require.ErrorAs(t, d.Freeze(), &stateErr)
	receive(t, rec.paused)

	require.NoError(t, d.Restart())
	assert.True(t, receive(t, rec.restart).ok)
	assert.Equal(t, "bytes=0-1000000", receive(t, server.ranges))

	info := receive(t, rec.success)
	assert.Equal(t, int64(payloadSize), info.Downloaded)
	assertFileContent(t, info.FilePath)

	// Start from a terminal state restarts.
	require.NoError(t, d.Start())
	assert.True(t, receive(t, rec.restart).ok)
	receive(t, rec.success)
}

func TestStopPausedDownload(t *testing.T) {
	server := newStallingServer(t, 100_000)

	opts := testOptions(t)
	opts.Connections = 1
	d, rec, _ := newDownload(t, server.URL+"/payload.bin", opts)
	require.NoError(t, d.Start())
	require.Eventually(t, func() bool { return d.GetDownloaded() > 0 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, d.Freeze())
	receive(t, rec.paused)

	require.NoError(t, d.Stop())
	a := receive(t, rec.stopped)
	assert.True(t, a.ok)
	assert.Equal(t, common.StateStopped, a.info.Status)
}

func TestDeclinedStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	no := false
	d, rec, _ := newDownload(t, server.URL+"/payload.bin", testOptions(t))
	require.NoError(t, d.AddListener(&gate{answer: &no}))
	require.NoError(t, d.Start())

	a := receive(t, rec.stopped)
	assert.True(t, a.ok)
	assert.Equal(t, downloader.ErrDeclined.Error(), a.reason)
	assert.Equal(t, common.StateStopped, d.GetStatus())
	assert.Zero(t, d.GetDownloaded())
}

func TestStartConfirmTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	opts := testOptions(t)
	opts.StartConfirmTimeout = 50 * time.Millisecond
	d, rec, _ := newDownload(t, server.URL+"/payload.bin", opts)
	require.NoError(t, d.AddListener(&gate{}))
	require.NoError(t, d.Start())

	a := receive(t, rec.stopped)
	assert.Equal(t, downloader.ErrDeclined.Error(), a.reason)
}

func TestAcceptedStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	yes := true
	d, rec, _ := newDownload(t, server.URL+"/payload.bin", testOptions(t))
	require.NoError(t, d.AddListener(&gate{answer: &yes}))
	require.NoError(t, d.Start())

	receive(t, rec.success)
}

func TestFallbackWhenRangesIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(payloadSize))
		if r.Method == http.MethodGet {
			_, _ = w.Write(payload)
		}
	}))
	defer server.Close()

	d, rec, _ := newDownload(t, server.URL+"/payload.bin", testOptions(t))
	require.NoError(t, d.Start())

	assert.True(t, receive(t, rec.multi))
	info := receive(t, rec.success)
	assert.False(t, info.MultiConnection)
	require.Len(t, info.Chunks, 1)
	assert.Equal(t, int64(payloadSize), info.Downloaded)
	assertFileContent(t, info.FilePath)
}

func TestRetryAfterDroppedConnection(t *testing.T) {
	var gets atomic.Int32
	ranges := make(chan string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			serveContent(w, r)
			return
		}
		ranges <- r.Header.Get("Range")
		if gets.Add(1) > 1 {
			serveContent(w, r)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", payloadSize-1, payloadSize))
		w.Header().Set("Content-Length", strconv.Itoa(payloadSize))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload[:500_000])
	}))
	defer server.Close()

	opts := testOptions(t)
	opts.Connections = 1
	d, rec, _ := newDownload(t, server.URL+"/payload.bin", opts)
	require.NoError(t, d.Start())

	assert.Equal(t, "bytes=0-1000000", receive(t, ranges))
	assert.Equal(t, "bytes=500000-1000000", receive(t, ranges))

	info := receive(t, rec.success)
	assert.Equal(t, 1, info.Chunks[0].RetryCount)
	assertFileContent(t, info.FilePath)
}

func TestFailureOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			serveContent(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	opts := testOptions(t)
	opts.MaxRetries = 0
	d, rec, store := newDownload(t, server.URL+"/payload.bin", opts)
	require.NoError(t, d.Start())

	reason := receive(t, rec.failed)
	assert.Contains(t, reason, "404")
	assert.Equal(t, common.StateFailure, d.GetStatus())
	assert.Equal(t, reason, d.Info().Error)

	require.NoError(t, d.Wait(t.Context()))
	assert.Equal(t, common.StateFailure, store.status(t, d.ID))
}

func TestBlobDestination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	dir := t.TempDir()
	opts := testOptions(t)
	opts.Bucket = "file://" + dir
	d, rec, _ := newDownload(t, server.URL+"/payload.bin", opts)
	require.NoError(t, d.Start())

	var stateErr *downloader.StateError
	require.ErrorAs(t, d.Freeze(), &stateErr)
	assert.ErrorIs(t, stateErr, downloader.ErrFreezeUnsupported)
	a := receive(t, rec.paused)
	assert.False(t, a.ok)
	assert.Equal(t, downloader.ErrFreezeUnsupported.Error(), a.reason)

	assert.False(t, receive(t, rec.multi))
	info := receive(t, rec.success)
	assertFileContent(t, filepath.Join(dir, "payload.bin"))

	require.NoError(t, d.DeleteFile(t.Context()))
	_, err := os.Stat(filepath.Join(dir, info.FilePath))
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreMarksRunningAsPaused(t *testing.T) {
	raw := []byte(fmt.Sprintf(`{
		"id": %q,
		"url": "http://example.com/payload.bin",
		"filename": "payload.bin",
		"options": {"directory": %q, "connections": 2, "max_retries": 1, "retry_delay": 1000000, "progress_interval": 10000000},
		"status": %d,
		"total_size": 100,
		"downloaded": 0,
		"chunk_infos": [
			{"index": 0, "start": 0, "end": 50, "downloaded": 50, "status": %q},
			{"index": 1, "start": 50, "end": 100, "downloaded": 20, "status": %q}
		]
	}`, uuid.New(), t.TempDir(), common.StateRunning, chunk.Completed, chunk.Active))

	var restored downloader.Download
	require.NoError(t, json.Unmarshal(raw, &restored))

	rt, store := newRuntime(t)
	require.NoError(t, restored.RestoreFromSerialization(rt))

	assert.Equal(t, common.StatePaused, restored.GetStatus())
	assert.Equal(t, int64(70), restored.GetDownloaded())
	assert.Equal(t, common.StatePaused, store.status(t, restored.ID))

	info := restored.Info()
	require.Len(t, info.Chunks, 2)
	assert.Equal(t, int64(20), info.Chunks[1].Downloaded)
}

func TestRestoreRejectsBrokenChunks(t *testing.T) {
	raw := []byte(`{
		"id": "6f1c1a52-9a4e-4d7c-9d0b-0d7b8b3a2f10",
		"url": "http://example.com/payload.bin",
		"options": {"connections": 2, "progress_interval": 10000000},
		"status": 2,
		"total_size": 100,
		"chunk_infos": [
			{"index": 0, "start": 0, "end": 40},
			{"index": 1, "start": 50, "end": 100}
		]
	}`)

	var restored downloader.Download
	require.NoError(t, json.Unmarshal(raw, &restored))

	rt, _ := newRuntime(t)
	assert.Error(t, restored.RestoreFromSerialization(rt))
}

func TestRestoreSuccessWithMissingFile(t *testing.T) {
	raw := []byte(fmt.Sprintf(`{
		"id": "6f1c1a52-9a4e-4d7c-9d0b-0d7b8b3a2f11",
		"url": "http://example.com/payload.bin",
		"file_path": %q,
		"options": {"connections": 1, "progress_interval": 10000000},
		"status": %d,
		"total_size": -1
	}`, filepath.Join(t.TempDir(), "gone.bin"), common.StateSuccess))

	var restored downloader.Download
	require.NoError(t, json.Unmarshal(raw, &restored))

	rt, _ := newRuntime(t)
	require.NoError(t, restored.RestoreFromSerialization(rt))
	assert.Equal(t, common.StateFailure, restored.GetStatus())
	assert.Equal(t, downloader.ErrOutputMissing.Error(), restored.Info().Error)
}

func TestResumeDetectsChangedResource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	raw := []byte(fmt.Sprintf(`{
		"id": "6f1c1a52-9a4e-4d7c-9d0b-0d7b8b3a2f12",
		"url": %q,
		"filename": "payload.bin",
		"file_path": %q,
		"options": {"connections": 1, "max_retries": 0, "progress_interval": 10000000},
		"status": %d,
		"total_size": 500,
		"chunk_infos": [{"index": 0, "start": 0, "end": 500, "downloaded": 100}]
	}`, server.URL+"/payload.bin", filepath.Join(t.TempDir(), "payload.bin"), common.StatePaused))

	var restored downloader.Download
	require.NoError(t, json.Unmarshal(raw, &restored))

	rt, _ := newRuntime(t)
	require.NoError(t, restored.RestoreFromSerialization(rt))
	rec := newRecorder()
	require.NoError(t, restored.AddListener(rec))

	require.NoError(t, restored.Resume())
	reason := receive(t, rec.failed)
	assert.Contains(t, reason, downloader.ErrResourceChanged.Error())
	assert.Equal(t, common.StateFailure, restored.GetStatus())
}

func TestRemoveListener(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	d, rec, _ := newDownload(t, server.URL+"/payload.bin", testOptions(t))
	other := newRecorder()
	require.NoError(t, d.AddListener(other))
	d.RemoveListener(other)

	require.NoError(t, d.Start())
	receive(t, rec.success)
	assert.Empty(t, other.success)
	assert.Zero(t, other.connected.Load())
}

func TestTasksHoldTheirOwnPoolSlots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(serveContent))
	defer server.Close()

	client, err := httpproto.NewClient(nil)
	require.NoError(t, err)
	// one slot: the launch task submits its workers from inside the pool
	pool, err := ants.NewPool(1)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Release()
		client.Cleanup()
	})
	rt := &downloader.Runtime{Client: client, Pool: pool}

	opts := testOptions(t)
	opts.Connections = 4
	d, err := downloader.NewDownload(server.URL+"/payload.bin", opts)
	require.NoError(t, err)
	d.Bind(rt)
	rec := newRecorder()
	require.NoError(t, d.AddListener(rec))

	require.NoError(t, d.Start())
	assert.True(t, receive(t, rec.multi))
	info := receive(t, rec.success)
	assertFileContent(t, info.FilePath)

	require.Eventually(t, func() bool { return rt.Reserved() == 0 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, pool.Cap())
}

type sequence struct {
	mu     sync.Mutex
	events []string
}

func (s *sequence) add(ok bool, ev string) {
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sequence) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *sequence) OnPause(_ downloader.Info, ok bool, _ string)   { s.add(ok, "pause") }
func (s *sequence) OnResume(_ downloader.Info, ok bool, _ string)  { s.add(ok, "resume") }
func (s *sequence) OnStop(_ downloader.Info, ok bool, _ string)    { s.add(ok, "stop") }
func (s *sequence) OnRestart(_ downloader.Info, ok bool, _ string) { s.add(ok, "restart") }

func TestAcknowledgmentsFollowCommandOrder(t *testing.T) {
	tests := []struct {
		name   string
		first  func(*downloader.Download) error
		second func(*downloader.Download) error
		want   []string
	}{
		{
			name:   "resume right after freeze",
			first:  (*downloader.Download).Freeze,
			second: (*downloader.Download).Resume,
			want:   []string{"pause", "resume"},
		},
		{
			name:   "restart right after stop",
			first:  (*downloader.Download).Stop,
			second: (*downloader.Download).Restart,
			want:   []string{"stop", "restart"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newStallingServer(t, 100_000)

			opts := testOptions(t)
			opts.Connections = 1
			d, rec, _ := newDownload(t, server.URL+"/payload.bin", opts)
			seq := &sequence{}
			require.NoError(t, d.AddListener(seq))

			require.NoError(t, d.Start())
			receive(t, server.ranges)
			require.Eventually(t, func() bool { return d.GetDownloaded() > 0 }, waitTimeout, 5*time.Millisecond)

			require.NoError(t, tt.first(d))
			require.NoError(t, tt.second(d))

			info := receive(t, rec.success)
			assert.Equal(t, int64(payloadSize), info.Downloaded)
			assert.Equal(t, tt.want, seq.snapshot())
			assert.Equal(t, common.StateSuccess, d.GetStatus())
		})
	}
}

// misspelledListener looks like a progress listener but matches no callback.
type misspelledListener struct{}

func (*misspelledListener) OnProgress(downloader.Info, common.Progress) {}

func TestAddListenerRejectsValuesWithoutCallbacks(t *testing.T) {
	d, err := downloader.NewDownload("http://example.com/file", nil)
	require.NoError(t, err)

	require.ErrorIs(t, d.AddListener(&misspelledListener{}), downloader.ErrInvalidListener)
	require.ErrorIs(t, d.AddListener(nil), downloader.ErrInvalidListener)
	require.NoError(t, d.AddListener(newRecorder()))

	assert.True(t, downloader.IsListener(&gate{}))
	assert.True(t, downloader.IsListener(&sequence{}))
	assert.False(t, downloader.IsListener(struct{}{}))
}
