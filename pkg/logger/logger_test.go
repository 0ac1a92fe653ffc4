package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithOrderID(ctx, "ORD202601010001")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"order_id\":\"ORD202601010001\"")) {
		t.Fatalf("expected order_id field; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}
}

func TestWalletFieldDoesNotLeakToParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := context.Background()
	_ = log.WithWalletID(parent, "wallet-1")
	log.Info(parent, "plain")

	if bytes.Contains(buf.Bytes(), []byte("wallet_id")) {
		t.Fatalf("wallet_id leaked into parent context; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestRequestIDFromContext(t *testing.T) {
	log := New(Options{ServiceName: "test", Output: &bytes.Buffer{}})
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
	ctx := log.WithRequestID(context.Background(), "req-9")
	ctx = log.WithOrderID(ctx, "ORD1")
	if got := RequestIDFromContext(ctx); got != "req-9" {
		t.Fatalf("expected req-9, got %q", got)
	}
}

func TestEnvironmentStampedAndDebugFiltered(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Environment: "staging", Format: FormatJSON, Output: buf})
	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "shown")

	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Fatalf("debug entry should be filtered at info level; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"env\":\"staging\"")) {
		t.Fatalf("expected env field; entry=%s", buf.String())
	}
}
