package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/respondr-uk/respondr/internal/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{TTL: time.Hour, LockTTL: time.Minute}

func newTestHandler(store Store, status int, calls *atomic.Int32) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		httputil.Success(w, status, map[string]int32{"call": n})
	})
	return httputil.RequireActor(Middleware(store, testConfig)(h))
}

func doRequest(h http.Handler, method, path, actor, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	req.Header.Set(httputil.ActorHeader, actor)
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ReplaysResponse(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandler(NewMemoryStore(), http.StatusCreated, &calls)

	first := doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(HeaderReplayed))

	second := doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestMiddleware_KeyScope(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandler(NewMemoryStore(), http.StatusOK, &calls)

	doRequest(h, http.MethodPost, "/api/v1/incidents/INC-001/comments", "alice", "abc")
	doRequest(h, http.MethodPost, "/api/v1/incidents/INC-001/comments", "bob", "abc")
	doRequest(h, http.MethodPost, "/api/v1/incidents/INC-002/comments", "alice", "abc")
	doRequest(h, http.MethodPatch, "/api/v1/incidents/INC-001/comments", "alice", "abc")

	assert.Equal(t, int32(4), calls.Load())
}

func TestMiddleware_PassThrough(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandler(NewMemoryStore(), http.StatusOK, &calls)

	doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "")
	doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "")
	doRequest(h, http.MethodGet, "/api/v1/incidents", "alice", "abc")
	doRequest(h, http.MethodGet, "/api/v1/incidents", "alice", "abc")

	assert.Equal(t, int32(4), calls.Load())
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandler(NewMemoryStore(), http.StatusServiceUnavailable, &calls)

	doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	rec := doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "abc")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderReplayed))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Begin(context.Background(),
		scopedKey("alice", http.MethodPost, "/api/v1/incidents", "abc"), time.Minute)
	require.NoError(t, err)

	var calls atomic.Int32
	h := newTestHandler(store, http.StatusCreated, &calls)

	rec := doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, calls.Load())
}

func TestMiddleware_KeyTooLong(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandler(NewMemoryStore(), http.StatusCreated, &calls)

	rec := doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", strings.Repeat("k", 256))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, calls.Load())
}

func TestMiddleware_PanicReleasesKey(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			panic("handler crashed")
		}
		httputil.Success(w, http.StatusCreated, map[string]string{"id": "INC-001"})
	})
	store := NewMemoryStore()
	srv := middleware.Recoverer(httputil.RequireActor(Middleware(store, testConfig)(h)))

	rec := doRequest(srv, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderReplayed))
	assert.Equal(t, int32(2), calls.Load())

	rec = doRequest(srv, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(HeaderReplayed))
	assert.Equal(t, int32(2), calls.Load())
}

type failingStore struct{}

func (failingStore) Begin(context.Context, string, time.Duration) (*Response, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Complete(context.Context, string, Response, time.Duration) error { return nil }

func (failingStore) Release(context.Context, string) error { return nil }

func TestMiddleware_StoreUnavailable(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandler(failingStore{}, http.StatusCreated, &calls)

	rec := doRequest(h, http.MethodPost, "/api/v1/incidents", "alice", "abc")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, calls.Load())
}
