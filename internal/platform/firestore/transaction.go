package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is the body of a transaction. It may be invoked more than once when Firestore
// aborts on contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts how RunTransaction retries and bounds a transaction.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

func defaultTxSettings() txSettings {
	return txSettings{attempts: 5, timeout: 15 * time.Second}
}

func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout caps the whole transaction, retries included. A caller deadline that is
// already sooner wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// bound returns ctx narrowed to the settings timeout when that is tighter than its deadline.
func (s txSettings) bound(ctx context.Context, now time.Time) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && deadline.Sub(now) <= s.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// RunTransaction runs fn in a Firestore transaction on client. Errors come back wrapped the
// same way as repository errors so callers can use IsNotFound and friends.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	settings := defaultTxSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	ctx, cancel := settings.bound(ctx, time.Now())
	defer cancel()

	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts)))
}
