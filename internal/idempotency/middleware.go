package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/respondr-uk/respondr/internal/pkg/ctxlog"
	"github.com/respondr-uk/respondr/internal/pkg/httputil"
)

// Headers.
const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
)

const maxKeyLength = 255

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "respondr",
		Subsystem: "idempotency",
		Name:      "requests_total",
		Help:      "Requests carrying an Idempotency-Key by outcome",
	},
	[]string{"outcome"},
)

// Config configures the middleware.
type Config struct {
	// TTL is how long a completed response is replayed.
	TTL time.Duration
	// LockTTL bounds how long an unfinished request holds its key.
	LockTTL time.Duration
}

// Middleware replays responses of write requests that repeat an
// Idempotency-Key. Keys are scoped by actor, method and path, so it must run
// after httputil.RequireActor. Requests without the header pass through.
func Middleware(store Store, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isWrite(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := r.Header.Get(HeaderKey)
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxKeyLength {
				httputil.FieldError(w, HeaderKey, "must be at most 255 characters")
				return
			}

			ctx := r.Context()
			logger := ctxlog.FromContext(ctx)
			key := scopedKey(httputil.GetActor(ctx), r.Method, r.URL.Path, clientKey)

			stored, err := store.Begin(ctx, key, cfg.LockTTL)
			switch {
			case errors.Is(err, ErrInProgress):
				requestsTotal.WithLabelValues("conflict").Inc()
				httputil.Error(w, http.StatusConflict, err.Error())
				return
			case err != nil:
				logger.Error("idempotency store unavailable", "error", err)
				requestsTotal.WithLabelValues("error").Inc()
				httputil.Error(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			case stored != nil:
				requestsTotal.WithLabelValues("replayed").Inc()
				replay(w, stored)
				return
			}

			// The client may have gone away; the outcome must still be recorded.
			storeCtx := context.WithoutCancel(ctx)
			release := func() {
				if err := store.Release(storeCtx, key); err != nil {
					logger.Warn("failed to release idempotency key", "error", err)
				}
				requestsTotal.WithLabelValues("released").Inc()
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)

			returned := false
			defer func() {
				// A panicking handler never returns; free the key so the
				// retry after the recoverer's 500 is not locked out.
				if !returned {
					release()
				}
			}()
			next.ServeHTTP(ww, r)
			returned = true

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			if !shouldStore(status) {
				release()
				return
			}

			resp := Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			}
			if err := store.Complete(storeCtx, key, resp, cfg.TTL); err != nil {
				logger.Warn("failed to store idempotent response", "error", err)
			}
			requestsTotal.WithLabelValues("stored").Inc()
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func scopedKey(actor, method, path, key string) string {
	h := sha256.New()
	for _, part := range []string{actor, method, path, key} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, resp *Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
