package audit

import "sync"

// Recorder captures recent raw requests for quick inspection. It is a
// debugging aid, not authoritative storage.
type Recorder interface {
	Record(entry Entry)
	Recent() []Entry
}

// RingBuffer is a fixed-capacity concurrent-safe Recorder that evicts the
// oldest entry first.
type RingBuffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewRingBuffer builds a buffer holding at most cap entries.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &RingBuffer{entries: make([]Entry, capacity)}
}

var _ Recorder = (*RingBuffer)(nil)

func (b *RingBuffer) Record(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns buffered entries newest-first.
func (b *RingBuffer) Recent() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = len(b.entries)
	}
	out := make([]Entry, 0, size)
	for i := 1; i <= size; i++ {
		idx := (b.next - i + len(b.entries)) % len(b.entries)
		out = append(out, b.entries[idx])
	}
	return out
}
