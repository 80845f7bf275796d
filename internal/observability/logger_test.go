package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "upper case warn", level: " WARN ", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("chatty")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestTraceID_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithTraceID(context.Background(), "tick-123")
	traceID, ok := TraceIDFromContext(ctx)
	if !ok || traceID != "tick-123" {
		t.Fatalf("TraceIDFromContext() = %q, %v, want %q, true", traceID, ok, "tick-123")
	}

	if _, ok := TraceIDFromContext(context.Background()); ok {
		t.Fatal("expected trace id to be missing")
	}
	if _, ok := TraceIDFromContext(WithTraceID(context.Background(), "")); ok {
		t.Fatal("expected empty trace id to be treated as missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	WithContextLogger(baseLogger, WithTraceID(context.Background(), "tick-789")).Info("with trace")
	WithContextLogger(baseLogger, context.Background()).Info("without trace")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if got := entries[0].ContextMap()["traceId"]; got != "tick-789" {
		t.Fatalf("traceId=%v, want=%q", got, "tick-789")
	}
	if _, ok := entries[1].ContextMap()["traceId"]; ok {
		t.Fatal("expected traceId field to be absent")
	}

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	app := fiber.New()
	app.Use(TraceMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		seen, _ = TraceIDFromContext(c.UserContext())
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceHeader, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if seen != "req-42" {
		t.Fatalf("trace id in handler = %q, want %q", seen, "req-42")
	}
	if got := resp.Header.Get(TraceHeader); got != "req-42" {
		t.Fatalf("response %s = %q, want %q", TraceHeader, got, "req-42")
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if seen == "" || seen == "req-42" {
		t.Fatalf("expected a generated trace id, got %q", seen)
	}
	if resp.Header.Get(TraceHeader) != seen {
		t.Fatalf("response trace id = %q, want %q", resp.Header.Get(TraceHeader), seen)
	}
}
