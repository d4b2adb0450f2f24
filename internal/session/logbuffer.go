package session

import (
	"fmt"
	"sync"
	"time"
)

// LogStore keeps a bounded, per-user buffer of diagnostic log lines. Lines
// are held in memory only and lost on process restart.
type LogStore struct {
	mu      sync.Mutex
	cap     int
	buffers map[string]*ringBuffer
}

// NewLogStore creates a log store; each user's buffer holds at most cap lines
func NewLogStore(cap int) *LogStore {
	if cap < 1 {
		cap = 1
	}
	return &LogStore{
		cap:     cap,
		buffers: make(map[string]*ringBuffer),
	}
}

// Append adds a timestamped line to a user's buffer, evicting the oldest
// line once the cap is exceeded.
func (ls *LogStore) Append(user, format string, args ...interface{}) {
	line := fmt.Sprintf("%s %s", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))

	ls.mu.Lock()
	defer ls.mu.Unlock()

	rb, exists := ls.buffers[user]
	if !exists {
		rb = newRingBuffer(ls.cap)
		ls.buffers[user] = rb
	}
	rb.push(line)
}

// Snapshot returns a user's current log lines, oldest first. Never nil.
func (ls *LogStore) Snapshot(user string) []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	rb, exists := ls.buffers[user]
	if !exists {
		return []string{}
	}
	return rb.snapshot()
}

// ringBuffer is a fixed-capacity circular buffer of log lines. Overwrites
// the oldest line when full instead of shifting the slice on every append.
// Callers must hold the LogStore lock.
type ringBuffer struct {
	buf   []string
	head  int // index of the oldest line
	count int // valid lines, 0..cap
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]string, capacity)}
}

func (rb *ringBuffer) push(line string) {
	size := len(rb.buf)
	if rb.count < size {
		rb.buf[(rb.head+rb.count)%size] = line
		rb.count++
		return
	}
	rb.buf[rb.head] = line
	rb.head = (rb.head + 1) % size
}

func (rb *ringBuffer) snapshot() []string {
	out := make([]string, rb.count)
	size := len(rb.buf)

	first := size - rb.head
	if first > rb.count {
		first = rb.count
	}
	copy(out, rb.buf[rb.head:rb.head+first])
	if rest := rb.count - first; rest > 0 {
		copy(out[first:], rb.buf[:rest])
	}
	return out
}
