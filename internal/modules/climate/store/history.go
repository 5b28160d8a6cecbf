package store

import "climatecloud/internal/modules/climate/types"

// history is a fixed-capacity ring of readings kept oldest-first. It is not
// safe for concurrent use; Store guards it.
type history struct {
	buf   []types.Reading
	start int
	size  int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]types.Reading, capacity)}
}

// push appends r, overwriting the oldest entry when full. It reports whether
// an entry was evicted.
func (h *history) push(r types.Reading) bool {
	capacity := len(h.buf)
	if h.size < capacity {
		h.buf[(h.start+h.size)%capacity] = r
		h.size++
		return false
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % capacity
	return true
}

func (h *history) len() int {
	return h.size
}

// lastN copies the most recent n entries, oldest-first.
func (h *history) lastN(n int) []types.Reading {
	if n <= 0 || h.size == 0 {
		return []types.Reading{}
	}
	if n > h.size {
		n = h.size
	}
	out := make([]types.Reading, n)
	capacity := len(h.buf)
	first := h.start + h.size - n
	for i := range out {
		out[i] = h.buf[(first+i)%capacity]
	}
	return out
}
