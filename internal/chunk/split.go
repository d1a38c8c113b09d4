package chunk

import "fmt"

// Split partitions [0, contentLength) into count contiguous chunks of equal
// size, the last one taking the remainder. A single chunk is returned when the
// length is unknown (negative) or not larger than count.
func Split(contentLength int64, count int) ([]*Chunk, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkCount, count)
	}

	if contentLength < 0 {
		return []*Chunk{NewChunk(0, 0, Unbounded)}, nil
	}

	if contentLength <= int64(count) {
		return []*Chunk{NewChunk(0, 0, contentLength)}, nil
	}

	size := contentLength / int64(count)
	chunks := make([]*Chunk, count)
	var start int64
	for i := range count {
		end := start + size
		if i == count-1 {
			end = contentLength
		}
		chunks[i] = NewChunk(i, start, end)
		start = end
	}

	return chunks, nil
}

// Validate checks that chunks are ordered, non-overlapping and cover
// [0, contentLength) exactly. With an unknown length it expects a single
// unbounded chunk starting at zero.
func Validate(chunks []*Chunk, contentLength int64) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrChunkLayout)
	}

	if contentLength < 0 {
		if len(chunks) != 1 || chunks[0].Start != 0 || chunks[0].Bounded() {
			return fmt.Errorf("%w: unknown length needs one unbounded chunk", ErrChunkLayout)
		}
		return nil
	}

	var next int64
	for _, c := range chunks {
		if c.Start != next || c.End < c.Start {
			return fmt.Errorf("%w: %s does not start at %d", ErrChunkLayout, c, next)
		}
		if d := c.Downloaded(); d < 0 || d > c.Size() {
			return fmt.Errorf("%w: %s cursor out of range", ErrChunkLayout, c)
		}
		next = c.End
	}
	if next != contentLength {
		return fmt.Errorf("%w: chunks end at %d, want %d", ErrChunkLayout, next, contentLength)
	}

	return nil
}

// AllComplete reports whether every chunk wrote its whole range.
func AllComplete(chunks []*Chunk) bool {
	for _, c := range chunks {
		if !c.IsComplete() {
			return false
		}
	}
	return len(chunks) > 0
}

// TotalDownloaded sums the cursors of all chunks.
func TotalDownloaded(chunks []*Chunk) int64 {
	var total int64
	for _, c := range chunks {
		total += c.Downloaded()
	}
	return total
}
