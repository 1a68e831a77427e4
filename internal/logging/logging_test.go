package logging

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warn ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"disabled", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithRequestID(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "")
	if id == "" {
		t.Fatal("expected generated request ID")
	}
	if got := RequestIDFrom(ctx); got != id {
		t.Errorf("RequestIDFrom = %q, want %q", got, id)
	}

	ctx, id = WithRequestID(context.Background(), "  req-42  ")
	if id != "req-42" {
		t.Errorf("expected trimmed explicit ID, got %q", id)
	}
	if got := RequestIDFrom(ctx); got != "req-42" {
		t.Errorf("RequestIDFrom = %q, want req-42", got)
	}

	if got := RequestIDFrom(context.Background()); got != "" {
		t.Errorf("RequestIDFrom(empty ctx) = %q, want empty", got)
	}
}

func TestInitComponentField(t *testing.T) {
	logger := Init(Config{Format: "json", Level: "debug", Component: "test"})
	if logger.GetLevel() == zerolog.Disabled {
		t.Error("logger should not be disabled")
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("global level = %v, want debug", zerolog.GlobalLevel())
	}
}
