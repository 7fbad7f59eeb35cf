package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.msgs = append(r.msgs, p)
	return &paho.PublishResponse{}, nil
}

func TestTopics(t *testing.T) {
	tp := Topics{Prefix: "home/jarvis"}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"event", tp.Event(events.Event{Source: "resource", Kind: "acquire_done"}), "home/jarvis/events/resource/acquire_done"},
		{"wildcards escaped", tp.Event(events.Event{Source: "a/b", Kind: "c+#"}), "home/jarvis/events/a_b/c__"},
		{"empty kind", tp.Event(events.Event{Source: "skills"}), "home/jarvis/events/skills/_"},
		{"availability", tp.Availability(), "home/jarvis/availability"},
		{"model state", tp.ModelState(), "home/jarvis/model/state"},
		{"command", tp.Command(), "home/jarvis/command/+"},
		{"discovery", tp.Discovery("homeassistant", "jarvis-1"), "homeassistant/sensor/jarvis-1/model_status/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	tp := Topics{Prefix: "jarvis"}
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"jarvis/command/model_fetch", "model_fetch", true},
		{"jarvis/command/", "", false},
		{"jarvis/command/a/b", "", false},
		{"other/command/model_fetch", "", false},
	}
	for _, tt := range tests {
		got, ok := tp.CommandName(tt.topic)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CommandName(%q) = %q, %v", tt.topic, got, ok)
		}
	}
}

func TestForward(t *testing.T) {
	f := New(config.MQTTConfig{TopicPrefix: "jarvis/"}, "jarvis-test", nil, nil, quietLogger())
	pub := &recordingPublisher{}
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	progress := events.Event{Timestamp: ts, Source: events.SourceResource, Kind: events.KindAcquireProgress, Data: map[string]any{"bytes": 10}}
	if err := f.forward(t.Context(), pub, progress); err != nil {
		t.Fatal(err)
	}
	status := events.Event{Timestamp: ts, Source: events.SourceResource, Kind: events.KindStatus, Data: map[string]any{"status": "ready", "path": "/m.gguf"}}
	if err := f.forward(t.Context(), pub, status); err != nil {
		t.Fatal(err)
	}

	if len(pub.msgs) != 3 {
		t.Fatalf("published %d messages, want 3", len(pub.msgs))
	}
	if pub.msgs[0].Topic != "jarvis/events/resource/acquire_progress" || pub.msgs[0].Retain {
		t.Errorf("first message = %s retain=%v", pub.msgs[0].Topic, pub.msgs[0].Retain)
	}
	var decoded events.Event
	if err := json.Unmarshal(pub.msgs[0].Payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != events.KindAcquireProgress || !decoded.Timestamp.Equal(ts) {
		t.Errorf("payload = %+v", decoded)
	}

	state := pub.msgs[2]
	if state.Topic != "jarvis/model/state" || !state.Retain {
		t.Errorf("state message = %s retain=%v", state.Topic, state.Retain)
	}
	var doc map[string]any
	if err := json.Unmarshal(state.Payload, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["status"] != "ready" {
		t.Errorf("state doc = %v", doc)
	}
}

func TestForward_PublishError(t *testing.T) {
	f := New(config.MQTTConfig{}, "x", nil, nil, quietLogger())
	pub := &recordingPublisher{err: errors.New("down")}
	if err := f.forward(t.Context(), pub, events.Event{Source: "skills", Kind: "skill_call"}); err == nil {
		t.Error("expected error")
	}
}

func TestHandle(t *testing.T) {
	got := make(chan string, 1)
	f := New(config.MQTTConfig{}, "x", nil, func(_ context.Context, name string, payload []byte) {
		got <- name + ":" + string(payload)
	}, quietLogger())

	if f.handle(t.Context(), "jarvis/events/resource/status", nil) {
		t.Error("non-command topic handled")
	}
	if !f.handle(t.Context(), "jarvis/command/model_fetch", []byte("{}")) {
		t.Fatal("command not handled")
	}
	select {
	case s := <-got:
		if s != "model_fetch:{}" {
			t.Errorf("command = %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command func not called")
	}
}

func TestRateLimiter(t *testing.T) {
	r := newRateLimiter(2, time.Hour, quietLogger())
	if !r.allow() || !r.allow() {
		t.Fatal("first two should pass")
	}
	if r.allow() {
		t.Error("third should be dropped")
	}
	if r.dropped.Load() != 1 {
		t.Errorf("dropped = %d", r.dropped.Load())
	}
}

func TestClientID(t *testing.T) {
	if id, _ := ClientID(config.MQTTConfig{ClientID: "fixed"}, t.TempDir()); id != "fixed" {
		t.Errorf("configured id = %q", id)
	}

	dir := t.TempDir()
	first, err := ClientID(config.MQTTConfig{}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(first, "jarvis-") {
		t.Errorf("id = %q", first)
	}
	second, _ := ClientID(config.MQTTConfig{}, dir)
	if second != first {
		t.Errorf("id changed across calls: %q then %q", first, second)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "instance_id"))
	if "jarvis-"+strings.TrimSpace(string(data)) != first {
		t.Errorf("persisted id %q does not match %q", data, first)
	}
}

func TestModelSensor(t *testing.T) {
	s := Topics{Prefix: "jarvis"}.ModelSensor("jarvis-1")
	if s.UniqueID != "jarvis-1_model_status" || s.StateTopic != "jarvis/model/state" {
		t.Errorf("sensor = %+v", s)
	}
	if s.Device.Identifiers[0] != "jarvis-1" {
		t.Errorf("device = %+v", s.Device)
	}
}
