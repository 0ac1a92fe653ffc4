package env

import "testing"

func TestGetPrefersPrefixedKey(t *testing.T) {
	t.Setenv("LOG_FORMAT", "console")
	if got := Get("LOG_FORMAT", "json"); got != "console" {
		t.Fatalf("expected bare key value, got %q", got)
	}

	t.Setenv("GREENBASKET_LOG_FORMAT", "json")
	if got := Get("LOG_FORMAT", "text"); got != "json" {
		t.Fatalf("expected prefixed value, got %q", got)
	}
	if got := Get("GREENBASKET_LOG_FORMAT", "text"); got != "json" {
		t.Fatalf("expected prefixed lookup to accept full name, got %q", got)
	}
}

func TestGetFallsBack(t *testing.T) {
	t.Setenv("GREENBASKET_MISSING_KEY", "   ")
	if got := Get("MISSING_KEY", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if _, ok := Lookup("MISSING_KEY"); ok {
		t.Fatal("blank value should not count as set")
	}
}
