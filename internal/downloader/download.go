package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/NamanBalaji/gdl/internal/chunk"
	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/logger"
	"github.com/NamanBalaji/gdl/internal/scheduler"
	"github.com/NamanBalaji/gdl/internal/sink"
	httpproto "github.com/NamanBalaji/gdl/pkg/protocol/http"
)

var validate = validator.New()

// Download represents a file download task.
type Download struct {
	ID              uuid.UUID       `json:"id"`
	URL             string          `json:"url"`
	Filename        string          `json:"filename"`
	FilePath        string          `json:"file_path,omitempty"`
	Options         *common.Options `json:"options"`
	Status          common.State    `json:"status"`
	TotalSize       int64           `json:"total_size"`
	Downloaded      int64           `json:"downloaded"`
	Hash            string          `json:"hash,omitempty"`
	MultiConnection bool            `json:"multi_connection"`
	ChunkInfos      []chunk.Info    `json:"chunk_infos"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	StartTime       time.Time       `json:"start_time,omitempty"`
	EndTime         time.Time       `json:"end_time,omitempty"`

	// runtime fields
	mu         sync.Mutex
	rt         *Runtime
	negotiator *httpproto.Negotiator
	chunks     []*chunk.Chunk
	current    *run
	last       *run // most recent run, kept until its settle finishes
	listeners  listeners
	progress   *scheduler.Handle
	lastBytes  int64
	lastTick   time.Time
	speed      atomic.Int64
}

// NewDownload validates opts and creates a download in the ENQUEUED state.
// A nil opts uses DefaultOptions.
func NewDownload(rawURL string, opts *common.Options) (*Download, error) {
	if opts == nil {
		opts = common.DefaultOptions()
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	if opts.Directory == "" && opts.Bucket == "" {
		opts.Directory = "."
	}

	d := &Download{
		ID:         uuid.New(),
		URL:        rawURL,
		Filename:   opts.Filename,
		Options:    opts,
		Status:     common.StateEnqueued,
		TotalSize:  -1,
		ChunkInfos: make([]chunk.Info, 0),
	}
	logger.Infof("Created download %s for %s", d.ID, rawURL)

	return d, nil
}

// Bind attaches the shared runtime. It must be called before any command.
func (d *Download) Bind(rt *Runtime) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rt = rt
	d.negotiator = rt.Client.NewNegotiator(httpproto.NegotiatorOptions{
		Headers:            d.Options.Headers,
		Retries:            d.Options.MaxRetries,
		RetryDelay:         d.Options.RetryDelay,
		ExponentialBackoff: d.Options.ExponentialBackoff,
		NoFollowRedirects:  d.Options.NoFollowRedirects,
	})
}

// SetStatus sets the Status of a Download.
func (d *Download) SetStatus(status common.State) {
	atomic.StoreInt32((*int32)(&d.Status), int32(status))
}

// GetStatus returns the current Status of the Download.
func (d *Download) GetStatus() common.State {
	return common.State(atomic.LoadInt32((*int32)(&d.Status)))
}

// GetDownloaded returns the number of bytes written so far.
func (d *Download) GetDownloaded() int64 {
	return atomic.LoadInt64(&d.Downloaded)
}

// GetTotalSize returns the content length, -1 while unknown.
func (d *Download) GetTotalSize() int64 {
	return atomic.LoadInt64(&d.TotalSize)
}

func (d *Download) addDownloaded(n int64) {
	atomic.AddInt64(&d.Downloaded, n)
}

// Sequential reports whether the destination only accepts in-order writes.
func (d *Download) Sequential() bool {
	return d.Options.Bucket != ""
}

// AddListener registers l for this download's events.
func (d *Download) AddListener(l Listener) error {
	if !IsListener(l) {
		return fmt.Errorf("%w: %T", ErrInvalidListener, l)
	}
	d.listeners.add(l)
	return nil
}

func (d *Download) RemoveListener(l Listener) {
	d.listeners.remove(l)
}

// Info is an immutable snapshot handed to listeners.
type Info struct {
	ID              uuid.UUID
	URL             string
	Filename        string
	FilePath        string
	Status          common.State
	ContentLength   int64
	Downloaded      int64
	MultiConnection bool
	Hash            string
	Chunks          []chunk.Info
	Error           string
}

// Info returns a snapshot of the download.
func (d *Download) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.infoLocked()
}

func (d *Download) infoLocked() Info {
	chunks := make([]chunk.Info, len(d.chunks))
	for i, c := range d.chunks {
		chunks[i] = c.Snapshot()
	}

	return Info{
		ID:              d.ID,
		URL:             d.URL,
		Filename:        d.Filename,
		FilePath:        d.FilePath,
		Status:          d.GetStatus(),
		ContentLength:   d.GetTotalSize(),
		Downloaded:      d.GetDownloaded(),
		MultiConnection: d.MultiConnection,
		Hash:            d.Hash,
		Chunks:          chunks,
		Error:           d.ErrorMessage,
	}
}

// Progress returns the current transfer statistics.
func (d *Download) Progress() common.Progress {
	d.mu.Lock()
	start := d.StartTime
	d.mu.Unlock()

	downloaded := d.GetDownloaded()
	total := d.GetTotalSize()
	speed := d.speed.Load()

	p := common.Progress{
		Downloaded:     downloaded,
		TotalBytes:     total,
		Percent:        common.Percentage(downloaded, total),
		BytesPerSecond: speed,
		Timestamp:      time.Now(),
	}
	if !start.IsZero() {
		p.Elapsed = time.Since(start)
	}
	if speed > 0 && total > downloaded {
		p.Remaining = time.Duration(float64(total-downloaded) / float64(speed) * float64(time.Second))
	}

	return p
}

// PrepareForSerialization copies the runtime state into the persisted fields.
func (d *Download) PrepareForSerialization() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepareLocked()
}

func (d *Download) prepareLocked() {
	d.ChunkInfos = make([]chunk.Info, len(d.chunks))
	for i, c := range d.chunks {
		d.ChunkInfos[i] = c.Snapshot()
	}
}

type downloadJSON Download

// MarshalJSON serializes a consistent snapshot of the download.
func (d *Download) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	d.prepareLocked()
	record := struct {
		ID              uuid.UUID       `json:"id"`
		URL             string          `json:"url"`
		Filename        string          `json:"filename"`
		FilePath        string          `json:"file_path,omitempty"`
		Options         *common.Options `json:"options"`
		Status          common.State    `json:"status"`
		TotalSize       int64           `json:"total_size"`
		Downloaded      int64           `json:"downloaded"`
		Hash            string          `json:"hash,omitempty"`
		MultiConnection bool            `json:"multi_connection"`
		ChunkInfos      []chunk.Info    `json:"chunk_infos"`
		ErrorMessage    string          `json:"error_message,omitempty"`
		StartTime       time.Time       `json:"start_time,omitempty"`
		EndTime         time.Time       `json:"end_time,omitempty"`
	}{
		ID:              d.ID,
		URL:             d.URL,
		Filename:        d.Filename,
		FilePath:        d.FilePath,
		Options:         d.Options,
		Status:          d.GetStatus(),
		TotalSize:       d.GetTotalSize(),
		Downloaded:      d.GetDownloaded(),
		Hash:            d.Hash,
		MultiConnection: d.MultiConnection,
		ChunkInfos:      d.ChunkInfos,
		ErrorMessage:    d.ErrorMessage,
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
	}
	d.mu.Unlock()

	return json.Marshal(record)
}

func (d *Download) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, (*downloadJSON)(d))
}

// RestoreFromSerialization rebuilds runtime fields after loading from
// storage. A download stored as RUNNING comes back PAUSED.
func (d *Download) RestoreFromSerialization(rt *Runtime) error {
	logger.Debugf("Restoring download %s from serialization", d.ID)

	if d.Options == nil {
		d.Options = common.DefaultOptions()
	}
	d.Bind(rt)

	d.mu.Lock()
	d.chunks = make([]*chunk.Chunk, len(d.ChunkInfos))
	for i, info := range d.ChunkInfos {
		d.chunks[i] = chunk.FromInfo(info)
	}
	if len(d.chunks) > 0 {
		if err := chunk.Validate(d.chunks, d.GetTotalSize()); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("failed to restore chunks: %w", err)
		}
		atomic.StoreInt64(&d.Downloaded, chunk.TotalDownloaded(d.chunks))
	}
	d.mu.Unlock()

	switch d.GetStatus() {
	case common.StateRunning:
		d.SetStatus(common.StatePaused)
		d.save()
	case common.StateSuccess:
		if !d.Sequential() && d.FilePath != "" {
			if _, err := os.Stat(d.FilePath); errors.Is(err, os.ErrNotExist) {
				d.SetStatus(common.StateFailure)
				d.mu.Lock()
				d.ErrorMessage = ErrOutputMissing.Error()
				d.mu.Unlock()
				d.save()
			}
		}
	}

	logger.Debugf("Download %s restored with %d chunks in state %s", d.ID, len(d.ChunkInfos), d.GetStatus())

	return nil
}

// DeleteFile removes the destination of a download that is not running.
func (d *Download) DeleteFile(ctx context.Context) error {
	if st := d.GetStatus(); st == common.StateRunning {
		return &StateError{Op: "delete", State: st}
	}

	d.mu.Lock()
	path := d.FilePath
	d.mu.Unlock()

	if !d.Sequential() {
		return sink.Remove(path)
	}
	if path == "" {
		return nil
	}

	bucket, err := blob.OpenBucket(ctx, d.Options.Bucket)
	if err != nil {
		return &sink.SinkError{Op: "open bucket", Path: d.Options.Bucket, Err: err}
	}
	defer bucket.Close()

	if err := bucket.Delete(ctx, path); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return &sink.SinkError{Op: "remove", Path: path, Err: err}
	}

	return nil
}

func (d *Download) save() {
	d.mu.Lock()
	rt := d.rt
	d.mu.Unlock()

	if rt == nil || rt.Store == nil {
		return
	}
	if err := rt.Store.Save(d); err != nil {
		logger.Warnf("Failed to save download %s: %v", d.ID, err)
	}
}
