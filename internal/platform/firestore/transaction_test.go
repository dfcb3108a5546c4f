package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

func TestTxSettingsBound(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	settings := defaultTxSettings()
	WithTxTimeout(2 * time.Second)(&settings)
	WithTxAttempts(0)(&settings)

	if settings.attempts != 5 {
		t.Fatalf("expected non-positive attempts to be ignored, got %d", settings.attempts)
	}

	ctx, cancel := settings.bound(context.Background(), now)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatalf("expected a deadline on an unbounded context")
	}

	soon := now.Add(time.Second)
	parent, parentCancel := context.WithDeadline(context.Background(), soon)
	defer parentCancel()
	narrowed, cancel2 := settings.bound(parent, now)
	defer cancel2()
	if deadline, _ := narrowed.Deadline(); !deadline.Equal(soon) {
		t.Fatalf("expected caller deadline %s to win, got %s", soon, deadline)
	}
}

func TestRunTransactionRejectsMissingInputs(t *testing.T) {
	err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil })
	var repoErr *Error
	if !errors.As(err, &repoErr) || repoErr.Op != "transaction" {
		t.Fatalf("expected wrapped transaction error, got %v", err)
	}
}
