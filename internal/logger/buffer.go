package logger

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const recentCapacity = 200

// Entry is one captured warning or error.
type Entry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// RecentBuffer keeps the last warnings and errors in a ring so the status
// server can show why a load is struggling without tailing stderr.
type RecentBuffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	count   int
}

var (
	recent     *RecentBuffer
	recentOnce sync.Once
)

// Recent returns the process-wide buffer.
func Recent() *RecentBuffer {
	recentOnce.Do(func() {
		recent = NewRecentBuffer(recentCapacity)
	})
	return recent
}

// NewRecentBuffer creates a buffer holding up to size entries.
func NewRecentBuffer(size int) *RecentBuffer {
	return &RecentBuffer{entries: make([]Entry, size)}
}

// Write satisfies io.Writer; zerolog only calls WriteLevel through MultiLevelWriter.
func (b *RecentBuffer) Write(p []byte) (int, error) {
	return b.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel records JSON log lines at warn level or above.
func (b *RecentBuffer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel || level == zerolog.NoLevel {
		return len(p), nil
	}

	var line struct {
		Time      time.Time `json:"time"`
		Level     string    `json:"level"`
		Component string    `json:"component"`
		Message   string    `json:"message"`
		Error     string    `json:"error"`
	}
	if err := json.Unmarshal(p, &line); err != nil {
		return len(p), nil
	}
	if line.Time.IsZero() {
		line.Time = time.Now()
	}

	b.add(Entry{
		Time:      line.Time,
		Level:     line.Level,
		Component: line.Component,
		Message:   line.Message,
		Error:     line.Error,
	})
	return len(p), nil
}

func (b *RecentBuffer) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// Entries returns up to limit entries, newest first. limit <= 0 returns all.
func (b *RecentBuffer) Entries(limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > b.count {
		limit = b.count
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (b.next - 1 - i + len(b.entries)) % len(b.entries)
		out = append(out, b.entries[idx])
	}
	return out
}
