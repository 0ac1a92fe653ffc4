package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) ResponseKey(scope, id string) string {
	return "fake:" + scope + ":" + id
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func placeOrderRequest(key, body string) *http.Request {
	req := requestWithPattern(http.MethodPost, "/api/v1/orders", "/api/v1/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"place order", http.MethodPost, "/api/v1/orders", criticalIdempotencyTTL, true},
		{"wallet credit", http.MethodPost, "/api/admin/v1/wallets/{customerID}/credits", criticalIdempotencyTTL, true},
		{"ledger reverse", http.MethodPost, "/api/admin/v1/ledger/{entryID}/reverse", criticalIdempotencyTTL, true},
		{"order status", http.MethodPatch, "/api/v1/orders/{orderID}/status", defaultIdempotencyTTL, true},
		{"wallet status", http.MethodPatch, "/api/admin/v1/wallets/{customerID}/status", defaultIdempotencyTTL, true},
		{"resolve case", http.MethodPost, "/api/admin/v1/reconciliation/{caseID}/resolve", defaultIdempotencyTTL, true},
		{"quote", http.MethodPost, "/api/v1/quote", 0, false},
		{"orders list", http.MethodGet, "/api/v1/orders", 0, false},
		{"order detail post", http.MethodPost, "/api/v1/orders/{orderID}", 0, false},
		{"unrouted", http.MethodPost, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, ok := routeTTL(tt.method, tt.pattern)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ttl)
		})
	}
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	called := false
	handler := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, key := range []string{"", strings.Repeat("k", maxIdempotencyKey+1)} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, placeOrderRequest(key, `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.False(t, called)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	var calls int
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"cart":"a"}`, string(body), "handler sees the original body")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"ORD1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, placeOrderRequest("abc", `{"cart":"a"}`))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, placeOrderRequest("abc", `{"cart":"a"}`))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get(replayedHeader))
	assert.Equal(t, `{"order_id":"ORD1"}`, replay.Body.String())
	assert.Equal(t, 1, calls)

	for key, ttl := range store.ttls {
		assert.Equal(t, criticalIdempotencyTTL, ttl, key)
	}
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	handler := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), placeOrderRequest("xyz", `{"cart":"a"}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, placeOrderRequest("xyz", `{"cart":"b"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsRetryWhileInFlight(t *testing.T) {
	store := newFakeStore()
	var inner http.Handler
	var nested *httptest.ResponseRecorder
	mw := Idempotency(store, nil)
	inner = mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a duplicate arrives before the first request finishes
		nested = httptest.NewRecorder()
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("duplicate must not reach the handler")
		})).ServeHTTP(nested, placeOrderRequest("dup", `{"cart":"a"}`))
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	inner.ServeHTTP(rec, placeOrderRequest("dup", `{"cart":"a"}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, nested)
	assert.Equal(t, http.StatusConflict, nested.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, nested))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	status := http.StatusServiceUnavailable
	var calls int
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, placeOrderRequest("retry", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, store.data, "5xx must free the key")

	status = http.StatusCreated
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, placeOrderRequest("retry", `{}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyPassesThroughUnlistedRoutes(t *testing.T) {
	var calls int
	counter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	})
	req := requestWithPattern(http.MethodPost, "/api/v1/quote", "/api/v1/quote", strings.NewReader(`{}`))
	Idempotency(newFakeStore(), nil)(counter).ServeHTTP(httptest.NewRecorder(), req)

	// no store disables the check entirely
	Idempotency(nil, nil)(counter).ServeHTTP(httptest.NewRecorder(), placeOrderRequest("", `{}`))
	assert.Equal(t, 2, calls)
}
