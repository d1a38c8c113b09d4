package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/config"
	"github.com/NamanBalaji/gdl/internal/downloader"
	"github.com/NamanBalaji/gdl/internal/logger"
	"github.com/NamanBalaji/gdl/internal/repository"
	"github.com/NamanBalaji/gdl/internal/scheduler"
	httpproto "github.com/NamanBalaji/gdl/pkg/protocol/http"
)

const defaultGroupName = "default"

// Repository is the persistence the engine needs.
type Repository interface {
	downloader.Store
	Source
	Find(id uuid.UUID) (*downloader.Download, error)
	FindByPath(path string) (*downloader.Download, error)
	Delete(id uuid.UUID) error
	Close() error
}

// Engine owns the runtime shared by every download (HTTP client, worker
// pool, callback scheduler, store) and the groups that schedule downloads.
type Engine struct {
	mu sync.RWMutex

	config *config.Config
	repo   Repository
	client *httpproto.Client
	pool   *ants.Pool
	sched  *scheduler.Scheduler
	rt     *downloader.Runtime

	groups       map[uuid.UUID]*Group
	defaultGroup *Group
	saveTask     *scheduler.Handle
	running      bool
}

// New creates an engine. A nil cfg uses the default configuration.
func New(cfg *config.Config, repo Repository) (*Engine, error) {
	logger.Infof("Creating new engine instance")

	if cfg == nil {
		logger.Debugf("No config provided, using default config")
		d := config.DefaultConfig()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := httpproto.DefaultConfig()
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.Burst = cfg.Burst
	client, err := httpproto.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	// Workers is the base capacity for scheduler ticks. Download tasks grow
	// the pool by one slot each while they run, whatever the group capacity
	// or per-download connection count.
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	sched := scheduler.New(pool)

	var store downloader.Store
	if repo != nil {
		store = repo
	}

	return &Engine{
		config: cfg,
		repo:   repo,
		client: client,
		pool:   pool,
		sched:  sched,
		rt: &downloader.Runtime{
			Client:    client,
			Pool:      pool,
			Scheduler: sched,
			Store:     store,
		},
		groups: make(map[uuid.UUID]*Group),
	}, nil
}

// Start creates the default group and the periodic save task.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		logger.Debugf("Engine already running, skipping initialization")
		return nil
	}

	g, err := newGroup(defaultGroupName, e.config.MaxConcurrentDownloads, e.config.GroupLoopInterval, e.rt, e.source())
	if err != nil {
		return err
	}
	e.groups[g.ID] = g
	e.defaultGroup = g

	h, err := e.sched.Schedule(e.saveAll, e.config.SaveInterval)
	if err != nil {
		return fmt.Errorf("failed to schedule periodic save: %w", err)
	}
	e.saveTask = h

	e.running = true
	logger.Infof("Engine started")

	return nil
}

func (e *Engine) source() Source {
	if e.repo == nil {
		return nil
	}
	return e.repo
}

// NewGroup creates a group with its own slot budget on the shared runtime.
func (e *Engine) NewGroup(name string, capacity int) (*Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, ErrEngineNotRunning
	}

	g, err := newGroup(name, capacity, e.config.GroupLoopInterval, e.rt, e.source())
	if err != nil {
		return nil, err
	}
	e.groups[g.ID] = g

	return g, nil
}

func (e *Engine) DefaultGroup() *Group {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaultGroup
}

// Groups returns every group, the default one included.
func (e *Engine) Groups() []*Group {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gs := make([]*Group, 0, len(e.groups))
	for _, g := range e.groups {
		gs = append(gs, g)
	}
	return gs
}

// Options returns per-download options seeded from the engine config.
func (e *Engine) Options() *common.Options {
	return e.config.Options()
}

// AddDownload creates a download for url in the default group and saves
// it. The download is not started. A nil opts uses the configured defaults.
func (e *Engine) AddDownload(url string, opts *common.Options, l downloader.Listener) (*downloader.Download, error) {
	logger.Infof("Adding download for URL: %s", url)

	g := e.DefaultGroup()
	if g == nil {
		return nil, ErrEngineNotRunning
	}

	if opts == nil {
		opts = e.config.Options()
	}

	d, err := downloader.NewDownload(url, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create download: %w", err)
	}

	if _, err := g.Add(d, l); err != nil {
		return nil, err
	}

	if e.repo != nil {
		if err := e.repo.Save(d); err != nil {
			_, _ = g.Remove(d.ID)
			return nil, fmt.Errorf("failed to save download to repository: %w", err)
		}
	}

	return d, nil
}

// Find returns a download and its group.
func (e *Engine) Find(id uuid.UUID) (*downloader.Download, *Group, error) {
	for _, g := range e.Groups() {
		if d, ok := g.Get(id); ok {
			return d, g, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
}

// List returns the downloads of every group.
func (e *Engine) List() []*downloader.Download {
	var ds []*downloader.Download
	for _, g := range e.Groups() {
		ds = append(ds, g.Downloads()...)
	}
	return ds
}

// Load fetches a stored download by id. An incomplete download is added
// to the default group and started; a finished one is added only. l, when
// not nil, is told the outcome, with a nil download when nothing is stored.
func (e *Engine) Load(id uuid.UUID, l downloader.LoadListener) (*downloader.Download, error) {
	return e.load(id.String(), l, func() (*downloader.Download, error) {
		if d, _, err := e.Find(id); err == nil {
			return d, nil
		}
		return e.repo.Find(id)
	})
}

// LoadByPath is Load keyed by destination path.
func (e *Engine) LoadByPath(path string, l downloader.LoadListener) (*downloader.Download, error) {
	return e.load(path, l, func() (*downloader.Download, error) {
		for _, d := range e.List() {
			if d.Info().FilePath == path {
				return d, nil
			}
		}
		return e.repo.FindByPath(path)
	})
}

func (e *Engine) load(key string, l downloader.LoadListener, find func() (*downloader.Download, error)) (*downloader.Download, error) {
	notify := func(d *downloader.Download) {
		if l != nil {
			l.OnDownloadLoaded(key, d)
		}
	}

	g := e.DefaultGroup()
	if g == nil || e.repo == nil {
		notify(nil)
		return nil, ErrEngineNotRunning
	}

	d, err := find()
	if err != nil {
		notify(nil)
		if errors.Is(err, repository.ErrDownloadNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDownloadNotFound, key)
		}
		return nil, err
	}

	if _, _, err := e.Find(d.ID); err == nil {
		notify(d)
		return d, nil
	}

	if err := d.RestoreFromSerialization(e.rt); err != nil {
		notify(nil)
		return nil, fmt.Errorf("failed to restore download %s: %w", d.ID, err)
	}
	if _, err := g.Add(d, nil); err != nil {
		notify(nil)
		return nil, err
	}

	if st := d.GetStatus(); st == common.StateEnqueued || st == common.StatePaused {
		if err := g.StartDownload(d.ID); err != nil {
			logger.Warnf("Failed to queue loaded download %s: %v", d.ID, err)
		}
	}

	logger.Infof("Loaded download %s in state %s", d.ID, d.GetStatus())
	notify(d)

	return d, nil
}

// Remove stops a download, drops it from its group and the store and,
// when deleteFile is set, removes its destination. A download that is only
// in the repository is removed from there.
func (e *Engine) Remove(ctx context.Context, id uuid.UUID, deleteFile bool) error {
	logger.Infof("Removing download %s (deleteFile: %v)", id, deleteFile)

	d, g, err := e.Find(id)
	switch {
	case err == nil:
		if _, err := g.Remove(id); err != nil {
			return err
		}
	case e.repo != nil:
		if d, err = e.stored(id); err != nil {
			return err
		}
	default:
		return err
	}

	if st := d.GetStatus(); st == common.StateRunning || st == common.StatePaused {
		if err := d.Stop(); err != nil {
			logger.Warnf("Failed to stop download %s: %v", id, err)
		}
	}
	if err := d.Wait(ctx); err != nil {
		return err
	}

	if e.repo != nil {
		if err := e.repo.Delete(id); err != nil && !errors.Is(err, repository.ErrDownloadNotFound) {
			return fmt.Errorf("failed to delete download from repository: %w", err)
		}
	}

	if deleteFile {
		if err := d.DeleteFile(ctx); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}

	return nil
}

// stored restores a download that is in the repository but in no group.
func (e *Engine) stored(id uuid.UUID) (*downloader.Download, error) {
	d, err := e.repo.Find(id)
	if errors.Is(err, repository.ErrDownloadNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := d.RestoreFromSerialization(e.rt); err != nil {
		return nil, fmt.Errorf("failed to restore download %s: %w", d.ID, err)
	}
	return d, nil
}

// History returns a snapshot of every known download: the ones held by a
// group and the ones only in the repository.
func (e *Engine) History() ([]downloader.Info, error) {
	loaded := e.List()
	seen := make(map[uuid.UUID]bool, len(loaded))
	infos := make([]downloader.Info, 0, len(loaded))
	for _, d := range loaded {
		seen[d.ID] = true
		infos = append(infos, d.Info())
	}

	if e.repo == nil {
		return infos, nil
	}

	stored, err := e.repo.FindAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list stored downloads: %w", err)
	}
	for _, d := range stored {
		if !seen[d.ID] {
			infos = append(infos, d.Info())
		}
	}

	return infos, nil
}

// Stats aggregates counts and throughput over every group.
func (e *Engine) Stats() common.Stats {
	stats := common.Stats{MaxConcurrent: e.config.MaxConcurrentDownloads}

	for _, d := range e.List() {
		switch d.GetStatus() {
		case common.StateEnqueued:
			stats.Enqueued++
		case common.StateRunning:
			stats.Running++
			stats.CurrentSpeed += d.Progress().BytesPerSecond
		case common.StatePaused:
			stats.Paused++
		case common.StateStopped:
			stats.Stopped++
		case common.StateFailure:
			stats.Failed++
		case common.StateSuccess:
			stats.Succeeded++
		}
		stats.TotalDownloaded += d.GetDownloaded()
	}

	return stats
}

// Shutdown pauses every running download so it can be resumed later,
// waits for workers to settle, stops what could not be paused and
// releases the runtime. The repository is closed last.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		logger.Debugf("Engine not running, skipping shutdown")
		return nil
	}
	e.running = false
	saveTask := e.saveTask
	e.mu.Unlock()

	logger.Infof("Starting engine shutdown...")

	groups := e.Groups()
	for _, g := range groups {
		g.FreezeAll()
	}
	err := e.waitAll(ctx)

	for _, g := range groups {
		g.ShutDown()
	}
	if werr := e.waitAll(ctx); err == nil {
		err = werr
	}
	if err != nil {
		logger.Warnf("Shutdown timed out, some downloads may not have settled: %v", err)
	}

	if saveTask != nil {
		saveTask.Stop()
	}
	e.saveAll()

	e.sched.Shutdown()
	e.pool.Release()
	if cerr := e.client.Cleanup(); cerr != nil {
		logger.Warnf("Failed to clean up http client: %v", cerr)
	}

	if e.repo != nil {
		if cerr := e.repo.Close(); cerr != nil {
			logger.Errorf("Error closing repository: %v", cerr)
			err = errors.Join(err, cerr)
		}
	}

	logger.Infof("Engine shutdown complete")

	return err
}

func (e *Engine) waitAll(ctx context.Context) error {
	for _, d := range e.List() {
		if err := d.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// saveAll persists every download.
func (e *Engine) saveAll() {
	if e.repo == nil {
		return
	}

	ds := e.List()
	saved := 0
	for _, d := range ds {
		if err := e.repo.Save(d); err != nil {
			logger.Errorf("Error saving download %s: %v", d.ID, err)
			continue
		}
		saved++
	}
	logger.Debugf("Saved %d of %d downloads", saved, len(ds))
}
