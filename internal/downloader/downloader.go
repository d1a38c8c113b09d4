package downloader

import (
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/NamanBalaji/gdl/internal/scheduler"
	httpproto "github.com/NamanBalaji/gdl/pkg/protocol/http"
)

// Store persists downloads. Save is called after state transitions and on
// progress ticks.
type Store interface {
	Save(d *Download) error
}

// Runtime holds the collaborators shared by every download of an engine.
type Runtime struct {
	Client    *httpproto.Client
	Pool      *ants.Pool
	Scheduler *scheduler.Scheduler
	Store     Store

	mu       sync.Mutex
	base     int
	reserved int
}

// submit runs task on the pool with a slot of its own: the pool grows by one
// until the task returns. The base capacity stays with the scheduler ticks,
// so a task submitting from inside the pool never waits on another task.
func (rt *Runtime) submit(task func()) error {
	if rt.Pool == nil {
		go task()
		return nil
	}

	rt.reserve(1)
	err := rt.Pool.Submit(func() {
		defer rt.reserve(-1)
		task()
	})
	if err != nil {
		rt.reserve(-1)
	}
	return err
}

func (rt *Runtime) reserve(n int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.base == 0 {
		rt.base = rt.Pool.Cap()
	}
	rt.reserved += n
	rt.Pool.Tune(rt.base + rt.reserved)
}

// Reserved reports how many pool slots download tasks currently hold.
func (rt *Runtime) Reserved() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.reserved
}
