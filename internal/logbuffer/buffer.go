/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory for the admin API.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed-size ring of entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// All returns entries oldest first.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(start+i)%b.capacity]
	}
	return out
}

// Query filters captured entries.
type Query struct {
	Level     string
	Component string
	SessionID string
	Search    string
	Limit     int // newest N after filtering, 0 = all
}

// Find returns matching entries, newest first.
func (b *Buffer) Find(q Query) []Entry {
	all := b.All()
	search := strings.ToLower(q.Search)

	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if q.Level != "" && e.Level != q.Level {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if q.SessionID != "" && e.SessionID != q.SessionID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Message), search) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Writer captures zerolog JSON lines into a Buffer and forwards them.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter wraps buffer; fallback may be nil.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		entry := Entry{Timestamp: time.Now(), Fields: make(map[string]any)}
		entry.Level = popString(raw, "level")
		entry.Message = popString(raw, "message")
		entry.Component = popString(raw, "component")
		entry.SessionID = popString(raw, "session_id")
		if ts, ok := raw["time"].(float64); ok {
			entry.Timestamp = time.Unix(int64(ts), 0)
			delete(raw, "time")
		}
		for k, v := range raw {
			entry.Fields[k] = v
		}
		w.buffer.Add(entry)
	}

	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

func popString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	delete(m, key)
	return v
}
