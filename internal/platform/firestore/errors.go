package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the repository-level class of a Firestore failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// kindOf maps gRPC status codes onto repository kinds. A failed LastUpdateTime
// precondition arrives as FailedPrecondition and counts as a conflict.
func kindOf(err error) Kind {
	switch status.Code(err) {
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// Error is returned by every helper in this package. Services classify it through the
// IsNotFound/IsConflict/IsUnavailable methods without importing the Firestore SDK.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NewNotFoundError reports a document that exists but must be treated as absent, such as an
// unpublished product.
func NewNotFoundError(op string, err error) error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewConflictError reports a write rejected by a repository-level precondition.
func NewConflictError(op string, err error) error {
	return &Error{Op: op, Kind: KindConflict, Err: err}
}

func IsNotFound(err error) bool {
	var repoErr *Error
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// WrapError classifies err under op. Cancellation and deadline errors, including their gRPC
// forms, come back as the plain context errors. An already classified error keeps its kind
// and gains op only if it had none.
func WrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if repoErr.Op == "" {
			repoErr.Op = op
		}
		return repoErr
	}
	return &Error{Op: op, Kind: kindOf(err), Err: err}
}
