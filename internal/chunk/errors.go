package chunk

import "errors"

var (
	ErrInvalidChunkCount = errors.New("invalid chunk count (must be greater than zero)")
	ErrChunkLayout       = errors.New("chunks do not tile the content range")
	ErrChunkOverflow     = errors.New("write exceeds chunk range")
	ErrChunkIncomplete   = errors.New("chunk is not completely downloaded")
)
