// Package history persists the conversation transcript. The backend is
// chosen by the storage_mode user setting: a local JSON file, a file in
// a Google Drive folder, or a file on a WebDAV server. All three hold
// the same document, a JSON array of [Entry].
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/jarvis-core/internal/events"
)

// ErrNotConfigured is returned when the selected backend lacks the
// settings it needs.
var ErrNotConfigured = errors.New("history storage not configured")

// Entry is one message in the transcript.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
}

// isoLayouts are accepted timestamp formats, most specific first. Files
// written by older builds carry local times without a zone.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON accepts zone-less timestamps as local time.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp string `json:"timestamp"`
		Sender    string `json:"sender"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Sender, e.Message = raw.Sender, raw.Message
	e.Timestamp = time.Time{}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, raw.Timestamp, time.Local); err == nil {
			e.Timestamp = t
			break
		}
	}
	return nil
}

// Store loads and saves the whole transcript.
type Store interface {
	// Load returns the stored entries. A transcript that does not exist
	// yet is empty, not an error.
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
	Clear(ctx context.Context) error
	// Backend names the storage mode, e.g. "local".
	Backend() string
}

// decode parses a stored document. Blank documents and documents that
// are not an array are treated as empty, with a warning for the latter.
func decode(data []byte, where string, logger *slog.Logger) []Entry {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("history file is unreadable, starting empty", "location", where, "error", err)
		return nil
	}
	return entries
}

func encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return append(data, '\n'), nil
}

// Recorder serializes appends to a store and publishes history events.
type Recorder struct {
	store  Store
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewRecorder wraps store.
func NewRecorder(store Store, bus *events.Bus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, bus: bus, logger: logger, now: time.Now}
}

// Store returns the underlying store.
func (r *Recorder) Store() Store { return r.store }

// Append adds one message to the transcript.
func (r *Recorder) Append(ctx context.Context, sender, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	entries = append(entries, Entry{Timestamp: r.now(), Sender: sender, Message: message})
	if err := r.store.Save(ctx, entries); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	r.bus.Emit(events.SourceHistory, events.KindHistorySaved, map[string]any{
		"backend": r.store.Backend(),
		"entries": len(entries),
	})
	r.logger.Debug("history saved", "backend", r.store.Backend(), "entries", len(entries))
	return nil
}

// Clear erases the transcript.
func (r *Recorder) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	r.bus.Emit(events.SourceHistory, events.KindHistoryCleared, map[string]any{"backend": r.store.Backend()})
	r.logger.Info("history cleared", "backend", r.store.Backend())
	return nil
}
