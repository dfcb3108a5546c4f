package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := map[codes.Code]Kind{
		codes.NotFound:           KindNotFound,
		codes.FailedPrecondition: KindConflict,
		codes.AlreadyExists:      KindConflict,
		codes.Aborted:            KindConflict,
		codes.Unavailable:        KindUnavailable,
		codes.ResourceExhausted:  KindUnavailable,
		codes.PermissionDenied:   KindUnknown,
	}
	for code, want := range cases {
		t.Run(code.String(), func(t *testing.T) {
			err := WrapError("carts.get", status.Error(code, "boom"))
			var repoErr *Error
			if !errors.As(err, &repoErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if repoErr.Kind != want {
				t.Fatalf("expected kind %d, got %d", want, repoErr.Kind)
			}
			if repoErr.IsNotFound() != (want == KindNotFound) || repoErr.IsConflict() != (want == KindConflict) || repoErr.IsUnavailable() != (want == KindUnavailable) {
				t.Fatalf("predicates disagree with kind %d", repoErr.Kind)
			}
		})
	}
}

func TestWrapErrorPassesContextErrorsThrough(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapErrorKeepsExistingClassification(t *testing.T) {
	err := WrapError("products.get", NewNotFoundError("", errors.New("hidden")))
	if !IsNotFound(err) {
		t.Fatalf("expected not found classification to survive")
	}
	if err.Error() != "products.get: hidden" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	err = WrapError("carts.save", NewConflictError("carts.update", errors.New("stale")))
	if err.Error() != "carts.update: stale" {
		t.Fatalf("expected original op to be kept, got %q", err.Error())
	}
}
