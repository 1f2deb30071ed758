package redact

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	r := New()
	r.AddLiteral("s3cr3t-value")
	return slog.New(NewHandler(slog.NewTextHandler(&buf, nil), r)), &buf
}

func TestHandler_RedactsEverywhere(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		log  func(*slog.Logger)
	}{
		{name: "message", log: func(l *slog.Logger) { l.Info("token s3cr3t-value") }},
		{name: "string attr", log: func(l *slog.Logger) { l.Info("x", "key", "s3cr3t-value") }},
		{name: "error attr", log: func(l *slog.Logger) { l.Info("x", "error", errors.New("bad s3cr3t-value")) }},
		{name: "group", log: func(l *slog.Logger) { l.Info("x", slog.Group("auth", "token", "s3cr3t-value")) }},
		{name: "with attrs", log: func(l *slog.Logger) { l.With("key", "s3cr3t-value").Info("x") }},
		{name: "with group", log: func(l *slog.Logger) { l.WithGroup("g").Info("x", "key", "s3cr3t-value") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, buf := newTestLogger(t)
			tt.log(logger)
			out := buf.String()
			if strings.Contains(out, "s3cr3t-value") {
				t.Errorf("secret leaked: %s", out)
			}
			if !strings.Contains(out, Placeholder) {
				t.Errorf("placeholder missing: %s", out)
			}
		})
	}
}

func TestHandler_Enabled(t *testing.T) {
	t.Parallel()

	inner := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewHandler(inner, New())
	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("Enabled(info) = true, want false")
	}
	if !h.Enabled(t.Context(), slog.LevelError) {
		t.Error("Enabled(error) = false, want true")
	}
}
