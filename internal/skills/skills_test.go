package skills

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nugget/jarvis-core/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoSkill() *Skill {
	return &Skill{
		Name:        "echo",
		Description: "Echo text back.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":  map[string]any{"type": "string", "minLength": 1},
				"times": map[string]any{"type": "integer", "minimum": 1},
			},
			"required":             []string{"text"},
			"additionalProperties": false,
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return strings.Repeat(stringArg(args, "text"), intArg(args, "times", 1)), nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(nil, quietLogger())
	if err := r.Register(echoSkill()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Execute(t.Context(), "echo", `{"text":"ab","times":3}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "ababab" {
		t.Errorf("got %q", got)
	}
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry(nil, quietLogger())
	r.Register(echoSkill())

	tests := []struct {
		name string
		args string
	}{
		{"missing required", `{}`},
		{"empty string", `{"text":""}`},
		{"wrong type", `{"text":5}`},
		{"not an integer", `{"text":"a","times":1.5}`},
		{"below minimum", `{"text":"a","times":0}`},
		{"extra property", `{"text":"a","loud":true}`},
		{"malformed json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(t.Context(), "echo", tt.args)
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("err = %v, want ArgumentError", err)
			}
			if argErr.Skill != "echo" {
				t.Errorf("Skill = %q", argErr.Skill)
			}
		})
	}
}

func TestRegistryUnavailable(t *testing.T) {
	r := NewRegistry(nil, quietLogger(), "echo")
	if err := r.Register(echoSkill()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if r.Get("echo") != nil {
		t.Fatal("disabled skill was registered")
	}

	_, err := r.Execute(t.Context(), "echo", `{"text":"a"}`)
	var unavailable *ErrSkillUnavailable
	if !errors.As(err, &unavailable) || unavailable.Name != "echo" {
		t.Fatalf("err = %v, want ErrSkillUnavailable", err)
	}
}

func TestRegistryRejectsBadSkills(t *testing.T) {
	r := NewRegistry(nil, quietLogger())
	if err := r.Register(&Skill{Name: "nohandler"}); err == nil {
		t.Error("skill without handler accepted")
	}
	bad := echoSkill()
	bad.Name = "bad"
	bad.Parameters = map[string]any{"type": "no-such-type"}
	if err := r.Register(bad); err == nil {
		t.Error("invalid schema accepted")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry(nil, quietLogger())
	for _, n := range []string{"zeta", "alpha", "mid"} {
		s := echoSkill()
		s.Name = n
		r.Register(s)
	}
	got := strings.Join(r.Names(), ",")
	if got != "alpha,mid,zeta" {
		t.Errorf("Names = %s", got)
	}
	if l := r.List(); len(l) != 3 || l[0].Name != "alpha" {
		t.Errorf("List = %v", l)
	}
}

func TestRegistryNoParamsAcceptsEmpty(t *testing.T) {
	r := NewRegistry(nil, quietLogger())
	r.Register(&Skill{Name: "ping", Handler: func(context.Context, map[string]any) (string, error) { return "pong", nil }})
	for _, args := range []string{"", "  ", "{}"} {
		if got, err := r.Execute(t.Context(), "ping", args); err != nil || got != "pong" {
			t.Errorf("Execute(%q) = %q, %v", args, got, err)
		}
	}
}

func TestRegistryPublishesEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	r := NewRegistry(bus, quietLogger())
	r.Register(&Skill{Name: "fail", Handler: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("boom")
	}})

	if _, err := r.Execute(t.Context(), "fail", ""); err == nil {
		t.Fatal("expected handler error")
	}

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
			if ev.Kind == events.KindSkillDone && ev.Data["ok"] != false {
				t.Errorf("skill_done ok = %v", ev.Data["ok"])
			}
		case <-timeout:
			t.Fatalf("got events %v", kinds)
		}
	}
	if kinds[0] != events.KindSkillCall || kinds[1] != events.KindSkillDone {
		t.Errorf("kinds = %v", kinds)
	}
}
