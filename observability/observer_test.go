package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mechlink/mechlink/observability"
)

type captureObserver struct {
	events *[]observability.Event
}

func (c *captureObserver) OnEvent(_ context.Context, event observability.Event) {
	*c.events = append(*c.events, event)
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  slog.Level
	}{
		{name: "verbose maps to Debug", level: observability.LevelVerbose, want: slog.LevelDebug},
		{name: "info maps to Info", level: observability.LevelInfo, want: slog.LevelInfo},
		{name: "warning maps to Warn", level: observability.LevelWarning, want: slog.LevelWarn},
		{name: "error maps to Error", level: observability.LevelError, want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.SlogLevel(); got != tt.want {
				t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestNoOpObserver(t *testing.T) {
	obs := observability.NoOpObserver{}
	obs.OnEvent(context.Background(), observability.Event{
		Type:      "test.event",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "test",
		Data:      map[string]any{"key": "value"},
	})
}

func TestMultiObserver_FanOutAndNilFiltering(t *testing.T) {
	var events1, events2 []observability.Event

	multi := observability.NewMultiObserver(
		nil,
		&captureObserver{events: &events1},
		&captureObserver{events: &events2},
		nil,
	)

	multi.OnEvent(context.Background(), observability.Event{
		Type:  "session.rebuild",
		Level: observability.LevelVerbose,
	})

	if len(events1) != 1 || len(events2) != 1 {
		t.Fatalf("received %d and %d events, want 1 and 1", len(events1), len(events2))
	}
	if events1[0].Type != "session.rebuild" {
		t.Errorf("event type = %q, want %q", events1[0].Type, "session.rebuild")
	}
}

func TestSlogObserver_EventTypeAsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	obs := observability.NewSlogObserver(logger)
	obs.OnEvent(context.Background(), observability.Event{
		Type:      "poster.task.failed",
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "poster.DrainAndExecute",
		Data: map[string]any{
			"seq": 7,
		},
	})

	output := buf.String()
	if !strings.Contains(output, "poster.task.failed") {
		t.Errorf("expected event type as log message, got: %s", output)
	}
	if !strings.Contains(output, "source=poster.DrainAndExecute") {
		t.Errorf("expected source attribute, got: %s", output)
	}
	if !strings.Contains(output, "seq=7") {
		t.Errorf("expected data attributes, got: %s", output)
	}
}

func TestSlogObserver_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	obs := observability.NewSlogObserver(logger)
	obs.OnEvent(context.Background(), observability.Event{
		Type:  "session.rebuild",
		Level: observability.LevelVerbose,
	})

	if buf.Len() != 0 {
		t.Errorf("verbose event should be filtered at info handler, got: %s", buf.String())
	}
}

func TestRegistry_GetObserver(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "noop exists", key: "noop", wantErr: false},
		{name: "slog exists", key: "slog", wantErr: false},
		{name: "unknown fails", key: "nonexistent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := observability.GetObserver(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetObserver(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if !tt.wantErr && obs == nil {
				t.Errorf("GetObserver(%q) returned nil observer", tt.key)
			}
		})
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	var events []observability.Event
	observability.RegisterObserver("capture", &captureObserver{events: &events})

	obs, err := observability.GetObserver("capture")
	if err != nil {
		t.Fatalf("GetObserver(capture) error = %v", err)
	}

	obs.OnEvent(context.Background(), observability.Event{Type: "test.event"})
	if len(events) != 1 {
		t.Errorf("received %d events, want 1", len(events))
	}
}
