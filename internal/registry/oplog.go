package registry

import (
	"log/slog"
	"sync"
	"time"
)

// defaultLogCapacity bounds the number of lines kept by an OpLog.
const defaultLogCapacity = 1000

// OpLog is the operator-facing event log: timestamped, human-readable lines
// kept in memory and pushed to subscribers. Every line is also written to
// the default slog logger.
type OpLog struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	subs     map[int]func(string)
	nextSub  int

	now func() time.Time
}

// NewOpLog creates an OpLog that keeps at most capacity lines, dropping the
// oldest first. A non-positive capacity selects the default.
func NewOpLog(capacity int) *OpLog {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &OpLog{
		capacity: capacity,
		subs:     make(map[int]func(string)),
		now:      time.Now,
	}
}

// Append records message as "[HH:MM:SS] message" and returns the line.
func (l *OpLog) Append(message string) string {
	slog.Info(message, "component", "oplog")

	l.mu.Lock()
	line := "[" + l.now().Format("15:04:05") + "] " + message
	l.lines = append(l.lines, line)
	if over := len(l.lines) - l.capacity; over > 0 {
		l.lines = append(l.lines[:0:0], l.lines[over:]...)
	}
	subs := make([]func(string), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(line)
	}
	return line
}

// Lines returns a copy of the retained lines, oldest first.
func (l *OpLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Subscribe registers fn to be called with every new line. Callbacks run on
// the appending goroutine and must not block. The returned function removes
// the subscription.
func (l *OpLog) Subscribe(fn func(line string)) (cancel func()) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}
