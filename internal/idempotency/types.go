// Package idempotency remembers the outcome of client requests by their
// Idempotency-Key so a retried POST replays the first response instead of
// placing a second order.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency table.
type Record struct {
	Key            string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	RequestHash    string    `dynamodbav:"request_hash"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// ErrNotFound is returned by MarkDone and MarkFailed for an unknown key.
var ErrNotFound = errors.New("idempotency record not found")

// Store claims keys and records their outcome.
//
// Begin claims key for a request whose body hashes to requestHash. It returns
// (nil, true, nil) when the caller now owns the key: the key was new, its
// previous attempt failed, or its record expired. Otherwise it returns the
// existing record and false.
type Store interface {
	Begin(ctx context.Context, key, requestHash string) (*Record, bool, error)
	MarkDone(ctx context.Context, key, orderID string, status int, body string) error
	MarkFailed(ctx context.Context, key, note string) error
}

func newRecord(key, requestHash string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Status:      StatusInProgress,
		RequestHash: requestHash,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl).Unix(),
	}
}

// claimable reports whether an existing record may be taken over.
func claimable(r Record, now time.Time) bool {
	return r.Status == StatusFailed || r.ExpiresAt < now.Unix()
}
