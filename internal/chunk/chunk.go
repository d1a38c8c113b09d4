package chunk

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a chunk
type Status string

const (
	Pending   Status = "pending"   // Initial state
	Active    Status = "active"    // Currently downloading
	Paused    Status = "paused"    // Worker exited on freeze
	Completed Status = "completed" // Every byte of the range written
	Failed    Status = "failed"    // Retry budget exhausted
)

// Unbounded marks the end of a chunk whose content length is unknown.
const Unbounded int64 = -1

// Chunk is the half-open byte range [Start, End) fetched over one connection.
// Downloaded counts bytes already written for the range and is the resume cursor.
type Chunk struct {
	ID    uuid.UUID
	Index int
	Start int64
	End   int64

	downloaded atomic.Int64
	retries    atomic.Int32

	mu         sync.Mutex
	status     Status
	lastErr    error
	lastActive time.Time
}

// Info is an immutable snapshot of a chunk, also used for persistence.
type Info struct {
	ID         uuid.UUID `json:"id"`
	Index      int       `json:"index"`
	Start      int64     `json:"start"`
	End        int64     `json:"end"`
	Downloaded int64     `json:"downloaded"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastActive time.Time `json:"last_active,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewChunk creates a new chunk with specified parameters
func NewChunk(index int, start, end int64) *Chunk {
	return &Chunk{
		ID:     uuid.New(),
		Index:  index,
		Start:  start,
		End:    end,
		status: Pending,
	}
}

// FromInfo rebuilds a chunk from a persisted snapshot.
func FromInfo(info Info) *Chunk {
	c := &Chunk{
		ID:         info.ID,
		Index:      info.Index,
		Start:      info.Start,
		End:        info.End,
		status:     info.Status,
		lastActive: info.LastActive,
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.status == "" || c.status == Active {
		c.status = Pending
	}
	c.downloaded.Store(info.Downloaded)
	c.retries.Store(int32(info.RetryCount))

	return c
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk#%d[%d,%d) downloaded=%d", c.Index, c.Start, c.End, c.Downloaded())
}

// Bounded reports whether the chunk end is known.
func (c *Chunk) Bounded() bool {
	return c.End != Unbounded
}

// Size returns the total size of the chunk in bytes, or Unbounded.
func (c *Chunk) Size() int64 {
	if !c.Bounded() {
		return Unbounded
	}
	return c.End - c.Start
}

// Downloaded returns the resume cursor.
func (c *Chunk) Downloaded() int64 {
	return c.downloaded.Load()
}

// Offset is the absolute position of the next byte to write.
func (c *Chunk) Offset() int64 {
	return c.Start + c.Downloaded()
}

// BytesRemaining returns the number of bytes still to be downloaded, or
// Unbounded when the chunk end is unknown.
func (c *Chunk) BytesRemaining() int64 {
	if !c.Bounded() {
		return Unbounded
	}
	return c.Size() - c.Downloaded()
}

// Advance moves the cursor after n bytes were written. It fails without
// moving the cursor if that would pass the end of the range.
func (c *Chunk) Advance(n int64) (int64, error) {
	for {
		cur := c.downloaded.Load()
		next := cur + n
		if c.Bounded() && next > c.Size() {
			return cur, fmt.Errorf("%w: %s advancing by %d", ErrChunkOverflow, c, n)
		}
		if c.downloaded.CompareAndSwap(cur, next) {
			c.mu.Lock()
			c.lastActive = time.Now()
			c.mu.Unlock()
			return next, nil
		}
	}
}

// Rewind puts the cursor back to the start of the range.
func (c *Chunk) Rewind() {
	c.downloaded.Store(0)
}

// Progress returns the percentage of chunk that has been downloaded
func (c *Chunk) Progress() float64 {
	size := c.Size()
	if size <= 0 {
		return 0
	}
	return float64(c.Downloaded()) / float64(size) * 100
}

// IsComplete reports whether every byte of a bounded range was written.
// An unbounded chunk is complete only once marked Completed.
func (c *Chunk) IsComplete() bool {
	if !c.Bounded() {
		return c.Status() == Completed
	}
	return c.Downloaded() == c.Size()
}

func (c *Chunk) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Chunk) SetStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Fail records err and marks the chunk failed.
func (c *Chunk) Fail(err error) {
	c.mu.Lock()
	c.status = Failed
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Chunk) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Retry counts one more attempt for this chunk and returns the total.
func (c *Chunk) Retry() int {
	return int(c.retries.Add(1))
}

func (c *Chunk) RetryCount() int {
	return int(c.retries.Load())
}

// Reset prepares the chunk for a restart from offset zero.
func (c *Chunk) Reset() {
	c.downloaded.Store(0)
	c.retries.Store(0)
	c.mu.Lock()
	c.status = Pending
	c.lastErr = nil
	c.mu.Unlock()
}

// Snapshot copies the chunk into an Info value.
func (c *Chunk) Snapshot() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		ID:         c.ID,
		Index:      c.Index,
		Start:      c.Start,
		End:        c.End,
		Downloaded: c.downloaded.Load(),
		Status:     c.status,
		RetryCount: int(c.retries.Load()),
		LastActive: c.lastActive,
	}
	if c.lastErr != nil {
		info.Error = c.lastErr.Error()
	}

	return info
}
