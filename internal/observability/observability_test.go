package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// --- ShutdownCoordinator ---

func TestShutdownCoordinatorLIFO(t *testing.T) {
	var order []string
	sc := &ShutdownCoordinator{}

	for _, name := range []string{"tracer", "metrics-server", "client"} {
		name := name
		sc.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	want := []string{"client", "metrics-server", "tracer"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("hook order %v, want %v", order, want)
		}
	}
}

func TestShutdownCoordinatorEmpty(t *testing.T) {
	sc := &ShutdownCoordinator{}
	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of empty coordinator: %v", err)
	}
}

func TestShutdownCoordinatorRunsOnce(t *testing.T) {
	sc := &ShutdownCoordinator{}
	calls := 0
	sc.Register("once", func(ctx context.Context) error {
		calls++
		return nil
	})

	_ = sc.Shutdown(context.Background())
	_ = sc.Shutdown(context.Background())

	if calls != 1 {
		t.Fatalf("expected hook to run once, ran %d times", calls)
	}
}

func TestShutdownCoordinatorCollectsErrors(t *testing.T) {
	sc := &ShutdownCoordinator{}
	ran := 0

	sc.Register("ok-first", func(ctx context.Context) error {
		ran++
		return nil
	})
	sc.Register("broken", func(ctx context.Context) error {
		ran++
		return errors.New("flush timeout")
	})
	sc.Register("ok-last", func(ctx context.Context) error {
		ran++
		return nil
	})

	err := sc.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected error from failing hook")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error should name the failing hook: %v", err)
	}
	if ran != 3 {
		t.Fatalf("a failing hook must not stop the rest, ran %d of 3", ran)
	}
}

// --- SetupLogger ---

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("info", "json", &buf)

	logger.Info("subscribed", "channel", "private-encrypted-orders")

	var entry map[string]any
	if err := json.NewDecoder(&buf).Decode(&entry); err != nil {
		t.Fatalf("output not valid JSON: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "subscribed" {
		t.Fatalf("msg = %v, want subscribed", entry["msg"])
	}
	if entry["channel"] != "private-encrypted-orders" {
		t.Fatalf("channel = %v", entry["channel"])
	}
}

func TestSetupLoggerText(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger("info", "text", &buf)

	slog.Info("connection established")

	out := buf.String()
	if !strings.Contains(out, "connection established") {
		t.Fatalf("missing message in output: %s", out)
	}
	if json.Valid([]byte(strings.TrimSpace(out))) {
		t.Fatalf("text format produced JSON: %s", out)
	}
}

func TestSetupLoggerLevelFilter(t *testing.T) {
	tests := []struct {
		level   string
		logAt   slog.Level
		visible bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelInfo, false},
		{"warn", slog.LevelError, true},
		{"error", slog.LevelWarn, false},
		{"error", slog.LevelError, true},
		{"bogus", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := SetupLogger(tt.level, "json", &buf)

		logger.Log(context.Background(), tt.logAt, "probe")

		if got := buf.Len() > 0; got != tt.visible {
			t.Fatalf("level=%s logAt=%s: visible=%v, want %v", tt.level, tt.logAt, got, tt.visible)
		}
	}
}

// --- PrettyHandler ---

func TestPrettyHandlerEnabled(t *testing.T) {
	h := NewPrettyHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})

	for lvl, want := range map[slog.Level]bool{
		slog.LevelInfo:  false,
		slog.LevelWarn:  true,
		slog.LevelError: true,
	} {
		if got := h.Enabled(context.Background(), lvl); got != want {
			t.Fatalf("Enabled(%v) = %v, want %v", lvl, got, want)
		}
	}
}

func TestPrettyHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("reconnecting", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, "reconnecting") {
		t.Fatalf("missing message in output: %s", out)
	}
	if !strings.Contains(out, "attempt=2") {
		t.Fatalf("missing attr in output: %s", out)
	}
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("socket_id", "42.17")}))
	logger.Info("ping")

	if !strings.Contains(buf.String(), "socket_id=42.17") {
		t.Fatalf("expected pre-set attr in output: %s", buf.String())
	}
}

func TestPrettyHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(h.WithGroup("conn"))
	logger.Info("test", "state", "connected")

	if !strings.Contains(buf.String(), "conn.state=connected") {
		t.Fatalf("expected group-prefixed attr in output: %s", buf.String())
	}
}

func TestPrettyHandlerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("test", "reason", "no pong within timeout")

	if !strings.Contains(buf.String(), `reason="no pong within timeout"`) {
		t.Fatalf("expected quoted value in output: %s", buf.String())
	}
}

func TestPrettyHandlerNilOpts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	logger.Info("nil opts ok")
	if !strings.Contains(buf.String(), "nil opts ok") {
		t.Fatalf("expected output: %s", buf.String())
	}

	// nil opts defaults the level to info
	logger.Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug should be filtered with nil opts: %s", buf.String())
	}
}

// --- TraceHandler ---

func TestTraceHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := NewTraceHandler(inner)

	h2 := h.WithAttrs([]slog.Attr{slog.String("a", "b")})
	if _, ok := h2.(*TraceHandler); !ok {
		t.Fatalf("WithAttrs returned %T, want *TraceHandler", h2)
	}

	slog.New(h2).Info("test")

	if !strings.Contains(buf.String(), `"a":"b"`) {
		t.Fatalf("expected attr in output: %s", buf.String())
	}
}

func TestTraceHandlerWithGroup(t *testing.T) {
	inner := slog.NewJSONHandler(io.Discard, nil)
	h2 := NewTraceHandler(inner).WithGroup("grp")
	if _, ok := h2.(*TraceHandler); !ok {
		t.Fatalf("WithGroup returned %T, want *TraceHandler", h2)
	}
}

func TestTraceHandlerAddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTraceHandler(inner))

	traceID, _ := trace.TraceIDFromHex("00000000000000000000000000000001")
	spanID, _ := trace.SpanIDFromHex("0000000000000001")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "traced message")

	out := buf.String()
	if !strings.Contains(out, "trace_id") || !strings.Contains(out, "span_id") {
		t.Fatalf("expected trace_id and span_id in output: %s", out)
	}
}

func TestTraceHandlerNoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTraceHandler(inner))

	logger.Info("plain message")

	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("trace_id must not appear without an active span: %s", buf.String())
	}
}

// --- Observability ---

func testObs(t *testing.T) *Observability {
	t.Helper()
	obs, err := New(context.Background(), ObsConfig{
		LogLevel:       "error",
		LogFormat:      "json",
		ServiceName:    "pusherkit-test",
		ServiceVersion: "0.0.1",
	}, io.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return obs
}

func TestNewObservabilityNoOTLP(t *testing.T) {
	obs := testObs(t)

	if obs.Logger == nil {
		t.Fatal("logger is nil")
	}
	if obs.Registry == nil {
		t.Fatal("registry is nil")
	}

	// Without an endpoint the tracer provider must be the noop one.
	switch obs.TracerProvider.(type) {
	case *tracenoop.TracerProvider, tracenoop.TracerProvider:
	default:
		t.Fatalf("expected noop tracer provider, got %T", obs.TracerProvider)
	}
}

func TestObservabilityCloseRunsHooks(t *testing.T) {
	obs := testObs(t)

	var called bool
	obs.Shutdown.Register("probe", func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := obs.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !called {
		t.Fatal("Close should run registered shutdown hooks")
	}
}

func TestObservabilityClosePropagatesError(t *testing.T) {
	obs := testObs(t)

	obs.Shutdown.Register("failing", func(ctx context.Context) error {
		return errors.New("exporter stuck")
	})

	if err := obs.Close(context.Background()); err == nil {
		t.Fatal("expected hook error from Close")
	}
}

// --- ServeMetrics ---

func TestServeMetricsEndpoints(t *testing.T) {
	obs := testObs(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := obs.ServeMetrics(context.Background(), addr)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Fatalf("health body = %q", body)
	}

	resp2, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp2.StatusCode)
	}
}

// --- colorLevel ---

func TestColorLevel(t *testing.T) {
	for lvl, label := range map[slog.Level]string{
		slog.LevelDebug: "DEBUG",
		slog.LevelInfo:  "INFO",
		slog.LevelWarn:  "WARN",
		slog.LevelError: "ERROR",
	} {
		got := colorLevel(lvl)
		if !strings.Contains(got, label) {
			t.Fatalf("colorLevel(%v) = %q, want label %q", lvl, got, label)
		}
		if !strings.Contains(got, "\033[") {
			t.Fatalf("expected ANSI escape in %q", got)
		}
	}
}
