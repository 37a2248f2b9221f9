package logging

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
	}{
		{"json logger", "info", "json"},
		{"text logger", "debug", "text"},
		{"invalid level falls back to info", "bogus", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("test-component", tt.level, tt.format)
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			if logger.component != "test-component" {
				t.Errorf("component = %v, want test-component", logger.component)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	logger := New("test", "info", "json")
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithUID(ctx, "CUST-1")

	entry := logger.WithContext(ctx)
	if entry.Data["component"] != "test" {
		t.Errorf("component field = %v, want test", entry.Data["component"])
	}
	if entry.Data["trace_id"] != "trace-123" {
		t.Errorf("trace_id field = %v, want trace-123", entry.Data["trace_id"])
	}
	if entry.Data["uid"] != "CUST-1" {
		t.Errorf("uid field = %v, want CUST-1", entry.Data["uid"])
	}
}

func TestGetTraceIDAbsent(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() = %v, want empty", got)
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == b {
		t.Error("NewTraceID() returned the same value twice")
	}
}
