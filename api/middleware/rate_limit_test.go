package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (f *fakeRateStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func verifyRequest(ip, gatewayOrderID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(`{"gateway_order_id":"`+gatewayOrderID+`","gateway_payment_id":"pay_1"}`))
	req.RemoteAddr = ip + ":5678"
	return req
}

func TestRateLimitKeepsBodyForHandler(t *testing.T) {
	policy := NewRateLimitPolicy("verify", time.Minute, 5, "gateway_order_id")
	handler := RateLimit(policy, newFakeRateStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), `"gateway_order_id":"order_1"`) {
			t.Fatalf("unexpected body: %s", body)
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, verifyRequest("1.2.3.4", "order_1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitBlocksPerBodyField(t *testing.T) {
	policy := NewRateLimitPolicy("verify", time.Minute, 2, "gateway_order_id")
	handler := RateLimit(policy, newFakeRateStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	for i, ip := range ips {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, verifyRequest(ip, "order_9"))
		if i < 2 && rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, rec.Code)
		}
		if i == 2 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429 after limit, got %d", rec.Code)
		}
	}
}

func TestRateLimitBlocksPerIP(t *testing.T) {
	policy := NewRateLimitPolicy("verify", time.Minute, 1, "")
	handler := RateLimit(policy, newFakeRateStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, verifyRequest("9.9.9.9", "a"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, verifyRequest("9.9.9.9", "b"))

	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %d then %d", first.Code, second.Code)
	}
}

func TestRateLimitStoreFailure(t *testing.T) {
	store := newFakeRateStore()
	store.err = errors.New("redis down")
	policy := NewRateLimitPolicy("verify", time.Minute, 1, "")
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, verifyRequest("1.2.3.4", "x"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	policy := NewRateLimitPolicy("verify", 0, 0, "")
	called := false
	handler := RateLimit(policy, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), verifyRequest("1.2.3.4", "x"))
	if !called {
		t.Fatal("expected handler to run")
	}
}
