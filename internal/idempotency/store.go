// Package idempotency replays stored responses for write requests retried
// with the same Idempotency-Key header.
package idempotency

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrInProgress is returned when another request holds the key.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
)

// Response is a recorded HTTP response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Store keeps idempotency keys and their responses.
type Store interface {
	// Begin reserves key for lockTTL. It returns (nil, nil) when the caller
	// now holds the key, the stored response when the key has completed, and
	// ErrInProgress while another request holds it.
	Begin(ctx context.Context, key string, lockTTL time.Duration) (*Response, error)
	// Complete stores the response for key and keeps it for ttl.
	Complete(ctx context.Context, key string, resp Response, ttl time.Duration) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}

func shouldStore(status int) bool {
	return status < http.StatusInternalServerError
}
