package audio

import (
	"fmt"
	"sync"
)

// Buffer accumulates raw little-endian PCM-16 bytes for one recording and
// enforces a hard size cap. When an append would exceed maxBytes the oldest
// audio is discarded so that only the most recent retainBytes remain before
// the new payload is added. If retainBytes plus the payload would still not
// fit, less is retained; the cap is never exceeded.
type Buffer struct {
	data        []byte
	maxBytes    int
	retainBytes int

	// Accounting for the current recording
	appends     uint64
	truncations uint64
	discarded   uint64 // bytes dropped by truncation

	mu sync.Mutex
}

// AppendResult describes what a single append did to the buffer
type AppendResult struct {
	Size      int  // buffer size in bytes after the append
	Truncated bool // whether old audio was discarded
	Dropped   int  // bytes discarded by this append
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	SizeBytes      int    `json:"size_bytes"`
	MaxBytes       int    `json:"max_bytes"`
	RetainBytes    int    `json:"retain_bytes"`
	Appends        uint64 `json:"appends"`
	Truncations    uint64 `json:"truncations"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
}

// NewBuffer creates a buffer capped at maxBytes that keeps retainBytes on overflow.
func NewBuffer(maxBytes, retainBytes int) (*Buffer, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}
	if retainBytes < 0 || retainBytes >= maxBytes {
		return nil, fmt.Errorf("retain bytes must be in [0, %d), got %d", maxBytes, retainBytes)
	}
	if maxBytes%2 != 0 || retainBytes%2 != 0 {
		return nil, fmt.Errorf("buffer limits must be whole samples (max=%d, retain=%d)", maxBytes, retainBytes)
	}

	return &Buffer{
		data:        make([]byte, 0, min(maxBytes, 64*1024)),
		maxBytes:    maxBytes,
		retainBytes: retainBytes,
	}, nil
}

// Append adds a payload, applying the overflow policy first.
func (b *Buffer) Append(payload []byte) (AppendResult, error) {
	if len(payload)%2 != 0 {
		return AppendResult{}, fmt.Errorf("audio data length must be even (got %d bytes)", len(payload))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var result AppendResult

	switch {
	case len(payload) >= b.maxBytes:
		// A single payload at or above the cap only contributes its newest bytes
		result.Dropped = len(b.data) + len(payload) - b.maxBytes
		b.data = append(b.data[:0], payload[len(payload)-b.maxBytes:]...)
	case len(b.data)+len(payload) > b.maxBytes:
		keep := min(b.retainBytes, b.maxBytes-len(payload))
		result.Dropped = b.keepNewest(keep)
		b.data = append(b.data, payload...)
	default:
		b.data = append(b.data, payload...)
	}
	result.Truncated = result.Dropped > 0

	b.appends++
	if result.Truncated {
		b.truncations++
	}
	b.discarded += uint64(result.Dropped)
	result.Size = len(b.data)

	return result, nil
}

// keepNewest discards everything but the newest keep bytes and returns the
// number of bytes dropped. Caller must hold the lock.
func (b *Buffer) keepNewest(keep int) int {
	if len(b.data) <= keep {
		return 0
	}

	drop := len(b.data) - keep
	copy(b.data, b.data[drop:])
	b.data = b.data[:keep]
	return drop
}

// Detach hands the accumulated bytes to the caller and leaves the buffer
// empty with its counters reset.
func (b *Buffer) Detach() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.data
	b.data = make([]byte, 0, min(b.maxBytes, 64*1024))
	b.appends = 0
	b.truncations = 0
	b.discarded = 0
	return out
}

// Reset empties the buffer
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
	b.appends = 0
	b.truncations = 0
	b.discarded = 0
}

// Bytes returns a copy of the accumulated audio
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the current buffer size in bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Size returns the current number of samples in the buffer
func (b *Buffer) Size() int {
	return b.Len() / 2
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		SizeBytes:      len(b.data),
		MaxBytes:       b.maxBytes,
		RetainBytes:    b.retainBytes,
		Appends:        b.appends,
		Truncations:    b.truncations,
		DiscardedBytes: b.discarded,
	}
}
