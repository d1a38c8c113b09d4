package chunk_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/gdl/internal/chunk"
)

type span struct{ Start, End int64 }

func spans(chunks []*chunk.Chunk) []span {
	out := make([]span, len(chunks))
	for i, c := range chunks {
		out[i] = span{c.Start, c.End}
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name   string
		length int64
		count  int
		want   []span
	}{
		{
			name:   "even split",
			length: 1_000_000,
			count:  4,
			want:   []span{{0, 250_000}, {250_000, 500_000}, {500_000, 750_000}, {750_000, 1_000_000}},
		},
		{
			name:   "remainder goes to last chunk",
			length: 10,
			count:  3,
			want:   []span{{0, 3}, {3, 6}, {6, 10}},
		},
		{
			name:   "unknown length",
			length: -1,
			count:  8,
			want:   []span{{0, chunk.Unbounded}},
		},
		{
			name:   "length not larger than count",
			length: 3,
			count:  4,
			want:   []span{{0, 3}},
		},
		{
			name:   "single connection",
			length: 1_000_000,
			count:  1,
			want:   []span{{0, 1_000_000}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := chunk.Split(tt.length, tt.count)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, spans(chunks)); diff != "" {
				t.Errorf("Split() mismatch (-want +got):\n%s", diff)
			}
			require.NoError(t, chunk.Validate(chunks, tt.length))

			if tt.length >= 0 {
				var sum int64
				for _, c := range chunks {
					sum += c.Size()
				}
				assert.Equal(t, tt.length, sum)
			}
		})
	}
}

func TestSplitInvalidCount(t *testing.T) {
	_, err := chunk.Split(100, 0)
	assert.ErrorIs(t, err, chunk.ErrInvalidChunkCount)
}

func TestValidateDetectsGapsAndOverlap(t *testing.T) {
	gap := []*chunk.Chunk{chunk.NewChunk(0, 0, 10), chunk.NewChunk(1, 11, 20)}
	assert.ErrorIs(t, chunk.Validate(gap, 20), chunk.ErrChunkLayout)

	overlap := []*chunk.Chunk{chunk.NewChunk(0, 0, 10), chunk.NewChunk(1, 9, 20)}
	assert.ErrorIs(t, chunk.Validate(overlap, 20), chunk.ErrChunkLayout)

	short := []*chunk.Chunk{chunk.NewChunk(0, 0, 10)}
	assert.ErrorIs(t, chunk.Validate(short, 20), chunk.ErrChunkLayout)

	assert.ErrorIs(t, chunk.Validate(nil, 20), chunk.ErrChunkLayout)
}

func TestAdvance(t *testing.T) {
	c := chunk.NewChunk(0, 100, 200)

	n, err := c.Advance(60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), n)
	assert.Equal(t, int64(160), c.Offset())
	assert.Equal(t, int64(40), c.BytesRemaining())
	assert.False(t, c.IsComplete())

	_, err = c.Advance(41)
	assert.True(t, errors.Is(err, chunk.ErrChunkOverflow))
	assert.Equal(t, int64(60), c.Downloaded(), "failed advance must not move the cursor")

	_, err = c.Advance(40)
	require.NoError(t, err)
	assert.True(t, c.IsComplete())
	assert.InDelta(t, 100.0, c.Progress(), 0.001)
}

func TestAdvanceConcurrent(t *testing.T) {
	c := chunk.NewChunk(0, 0, 10_000)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = c.Advance(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10_000), c.Downloaded())
	assert.True(t, c.IsComplete())
}

func TestUnboundedChunk(t *testing.T) {
	c := chunk.NewChunk(0, 0, chunk.Unbounded)

	_, err := c.Advance(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, chunk.Unbounded, c.BytesRemaining())
	assert.False(t, c.IsComplete())

	c.SetStatus(chunk.Completed)
	assert.True(t, c.IsComplete())
}

func TestSnapshotAndFromInfo(t *testing.T) {
	c := chunk.NewChunk(2, 50, 100)
	_, _ = c.Advance(20)
	c.Retry()
	c.SetStatus(chunk.Active)

	info := c.Snapshot()
	assert.Equal(t, int64(20), info.Downloaded)
	assert.Equal(t, 1, info.RetryCount)

	restored := chunk.FromInfo(info)
	assert.Equal(t, c.ID, restored.ID)
	assert.Equal(t, int64(70), restored.Offset())
	assert.Equal(t, chunk.Pending, restored.Status(), "active chunks restore as pending")
}

func TestReset(t *testing.T) {
	c := chunk.NewChunk(0, 0, 10)
	_, _ = c.Advance(10)
	c.Fail(errors.New("boom"))
	c.Retry()

	c.Reset()
	assert.Equal(t, int64(0), c.Downloaded())
	assert.Equal(t, 0, c.RetryCount())
	assert.Equal(t, chunk.Pending, c.Status())
	assert.NoError(t, c.Err())
}

func TestAllCompleteRequiresEveryChunk(t *testing.T) {
	chunks, err := chunk.Split(100, 4)
	require.NoError(t, err)

	_, _ = chunks[0].Advance(chunks[0].Size())
	assert.False(t, chunk.AllComplete(chunks))

	for _, c := range chunks[1:] {
		_, _ = c.Advance(c.Size())
	}
	assert.True(t, chunk.AllComplete(chunks))
	assert.Equal(t, int64(100), chunk.TotalDownloaded(chunks))
	assert.False(t, chunk.AllComplete(nil))
}
