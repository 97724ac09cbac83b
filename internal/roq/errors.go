package roq

import (
	"errors"
	"fmt"
)

// Sentinel errors for RoQ decoding. Callers distinguish failure modes with
// errors.Is; a ChunkError wraps them with the chunk being processed.
var (
	ErrNotRoQ    = errors.New("roq: not a RoQ stream")
	ErrTruncated = errors.New("roq: truncated stream")
	ErrCorrupt   = errors.New("roq: corrupt stream")
)

// ChunkError records which chunk was being decoded when an error occurred
// and the byte offset of its header in the stream.
type ChunkError struct {
	ID     ChunkID
	Offset int64
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("roq: %s chunk at offset %d: %v", e.ID, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

func truncatedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTruncated, fmt.Sprintf(format, args...))
}
