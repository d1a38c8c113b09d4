package downloader

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NamanBalaji/gdl/internal/chunk"
	"github.com/NamanBalaji/gdl/internal/logger"
	httpproto "github.com/NamanBalaji/gdl/pkg/protocol/http"
)

const bufferSize = 32 * 1024

// work downloads one chunk until it completes, the run is cancelled, or the
// retry budget is exhausted.
func (d *Download) work(r *run, c *chunk.Chunk) {
	defer d.workerDone(r)
	c.SetStatus(chunk.Active)

	for {
		if r.ctx.Err() != nil {
			c.SetStatus(chunk.Paused)
			return
		}
		if c.Bounded() && c.IsComplete() {
			c.SetStatus(chunk.Completed)
			return
		}

		err := d.fetch(r, c)
		if err == nil {
			c.SetStatus(chunk.Completed)
			logger.Debugf("Chunk %s of download %s completed", c, d.ID)
			return
		}
		if r.ctx.Err() != nil {
			c.SetStatus(chunk.Paused)
			return
		}

		var transferErr *httpproto.TransferError
		if !errors.As(err, &transferErr) || c.Retry() > d.Options.MaxRetries {
			c.Fail(err)
			r.fail(err)
			return
		}

		delay := httpproto.Backoff(c.RetryCount(), d.Options.RetryDelay, d.Options.ExponentialBackoff)
		logger.Warnf("Chunk %s of download %s failed, retry %d/%d in %v: %v", c, d.ID, c.RetryCount(), d.Options.MaxRetries, delay, err)

		t := time.NewTimer(delay)
		select {
		case <-r.ctx.Done():
			t.Stop()
			c.SetStatus(chunk.Paused)
			return
		case <-t.C:
		}
	}
}

// fetch opens a connection for the rest of the chunk and streams it.
func (d *Download) fetch(r *run, c *chunk.Chunk) error {
	retries := max(0, d.Options.MaxRetries-c.RetryCount())
	conn, err := d.negotiator.ConnectRange(r.ctx, d.URL, retries, c.Start, c.End, c.Downloaded())
	if err != nil {
		return err
	}
	defer conn.Close()

	if !conn.RangeHonored && (c.Start > 0 || c.Downloaded() > 0) {
		if c.Start > 0 {
			return fmt.Errorf("%w: chunk %d got status %d", httpproto.ErrUnsupportedRange, c.Index, conn.StatusCode)
		}
		logger.Debugf("Server sent the whole resource for download %s, rewriting from offset 0", d.ID)
		d.addDownloaded(-c.Downloaded())
		c.Rewind()
	}

	d.listeners.connection(d.Info(), c.Snapshot())

	return d.transfer(r, c, conn)
}

// transfer copies the body into the sink one buffer at a time. Every buffer
// is written whole before the cursor moves, so cancellation between reads
// never leaves a gap behind the cursor.
func (d *Download) transfer(r *run, c *chunk.Chunk, conn *httpproto.RemoteConnection) error {
	var src io.Reader = conn.Body
	if c.Bounded() {
		src = io.LimitReader(conn.Body, c.BytesRemaining())
	}

	buf := make([]byte, bufferSize)
	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := r.sink.WriteAt(buf[:n], c.Offset()); err != nil {
				return err
			}
			if _, err := c.Advance(int64(n)); err != nil {
				return err
			}
			d.addDownloaded(int64(n))
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			if c.Bounded() && !c.IsComplete() {
				return &httpproto.TransferError{URL: d.URL, Offset: c.Offset(), Err: io.ErrUnexpectedEOF}
			}
			return nil
		default:
			if err := r.ctx.Err(); err != nil {
				return err
			}
			return &httpproto.TransferError{URL: d.URL, Offset: c.Offset(), Err: rerr}
		}
	}
}
