package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// BreadcrumbType represents the type of breadcrumb event
type BreadcrumbType string

const (
	BreadcrumbKeyboard BreadcrumbType = "keyboard"
	BreadcrumbQuery    BreadcrumbType = "query"
	BreadcrumbEdit     BreadcrumbType = "edit"
	BreadcrumbDelete   BreadcrumbType = "delete"
	BreadcrumbExport   BreadcrumbType = "export"
)

// BreadcrumbEntry represents a single breadcrumb event
type BreadcrumbEntry struct {
	Type      BreadcrumbType
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
	Level     sentry.Level
}

// BreadcrumbBuffer is a thread-safe ring buffer of the most recent grid
// events. Consecutive identical events are collapsed when flushed.
type BreadcrumbBuffer struct {
	entries      []BreadcrumbEntry
	maxSize      int
	currentIndex int
	count        int
	mu           sync.Mutex
}

// NewBreadcrumbBuffer creates a new breadcrumb buffer with the given max size
func NewBreadcrumbBuffer(maxSize int) *BreadcrumbBuffer {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &BreadcrumbBuffer{
		entries: make([]BreadcrumbEntry, maxSize),
		maxSize: maxSize,
	}
}

func (b *BreadcrumbBuffer) addEntry(entry BreadcrumbEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.currentIndex] = entry
	b.currentIndex = (b.currentIndex + 1) % b.maxSize
	if b.count < b.maxSize {
		b.count++
	}
}

// RecordKeyboard records a key press in the grid.
func (b *BreadcrumbBuffer) RecordKeyboard(key string) {
	b.addEntry(BreadcrumbEntry{
		Type:      BreadcrumbKeyboard,
		Message:   fmt.Sprintf("Key: %s", key),
		Timestamp: time.Now(),
		Level:     sentry.LevelDebug,
		Data:      map[string]interface{}{"key": key},
	})
}

// RecordDatabase records a query, edit, delete or export. stmt is kept in
// the entry but scrubbed before an event leaves the process.
func (b *BreadcrumbBuffer) RecordDatabase(typ BreadcrumbType, table string, stmt string) {
	b.addEntry(BreadcrumbEntry{
		Type:      typ,
		Message:   fmt.Sprintf("%s: %s", typ, table),
		Timestamp: time.Now(),
		Level:     sentry.LevelInfo,
		Data:      map[string]interface{}{"table": table, "sql": stmt},
	})
}

// Entries returns the buffered events, oldest first.
func (b *BreadcrumbBuffer) Entries() []BreadcrumbEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entriesLocked()
}

func (b *BreadcrumbBuffer) entriesLocked() []BreadcrumbEntry {
	entries := make([]BreadcrumbEntry, 0, b.count)
	start := 0
	if b.count == b.maxSize {
		start = b.currentIndex
	}
	for i := 0; i < b.count; i++ {
		entries = append(entries, b.entries[(start+i)%b.maxSize])
	}
	return entries
}

// collapse merges runs of identical consecutive entries into one
// breadcrumb carrying a count.
func collapse(entries []BreadcrumbEntry) []*sentry.Breadcrumb {
	var out []*sentry.Breadcrumb
	for i := 0; i < len(entries); {
		current := entries[i]
		count := 1
		for i+count < len(entries) && entries[i+count].Type == current.Type &&
			entries[i+count].Message == current.Message {
			count++
		}

		message := current.Message
		data := current.Data
		if count > 1 {
			message = fmt.Sprintf("%s (x%d)", current.Message, count)
			data = make(map[string]interface{}, len(current.Data)+1)
			for k, v := range current.Data {
				data[k] = v
			}
			data["count"] = count
		}
		out = append(out, &sentry.Breadcrumb{
			Message:   message,
			Category:  string(current.Type),
			Data:      data,
			Timestamp: current.Timestamp,
			Level:     current.Level,
		})
		i += count
	}
	return out
}

// Flush sends breadcrumbs to Sentry and empties the buffer.
func (b *BreadcrumbBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return
	}
	crumbs := collapse(b.entriesLocked())
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		for _, bc := range crumbs {
			scope.AddBreadcrumb(bc, 100)
		}
	})

	b.currentIndex = 0
	b.count = 0
}

// Global breadcrumb buffer instance
var breadcrumbs *BreadcrumbBuffer

// InitBreadcrumbs initializes the global breadcrumb buffer
func InitBreadcrumbs(maxSize int) {
	breadcrumbs = NewBreadcrumbBuffer(maxSize)
}
