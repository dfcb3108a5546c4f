package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document pairs a decoded value with the server timestamps needed for optimistic writes.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// MutationResult carries the server update time of a write. Feed it back as a
// LastUpdateTime precondition to detect concurrent writers.
type MutationResult struct {
	UpdateTime time.Time
}

// Decoder turns a snapshot into T.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// BaseRepository is a typed view over one collection. Errors are wrapped with WrapError
// and named "<collection>.<action>".
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	decode     Decoder[T]
}

// NewBaseRepository binds a repository to collection. A nil decode uses DataTo.
func NewBaseRepository[T any](provider *Provider, collection string, decode Decoder[T]) *BaseRepository[T] {
	if decode == nil {
		decode = func(snap *firestore.DocumentSnapshot) (T, error) {
			var value T
			err := snap.DataTo(&value)
			return value, err
		}
	}
	return &BaseRepository[T]{provider: provider, collection: strings.TrimSpace(collection), decode: decode}
}

// Create fails with a conflict when id already exists.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) (MutationResult, error) {
	return r.write(ctx, id, "create", func(ref *firestore.DocumentRef) (*firestore.WriteResult, error) {
		return ref.Create(ctx, value)
	})
}

// Update applies updates to id. A stale LastUpdateTime precondition surfaces as a conflict.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconditions ...firestore.Precondition) (MutationResult, error) {
	return r.write(ctx, id, "update", func(ref *firestore.DocumentRef) (*firestore.WriteResult, error) {
		return ref.Update(ctx, updates, preconditions...)
	})
}

func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := r.ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	value, err := r.decode(snap)
	if err != nil {
		return Document[T]{}, WrapError(r.op("decode"), fmt.Errorf("document %s: %w", id, err))
	}
	return Document[T]{ID: snap.Ref.ID, Data: value, CreateTime: snap.CreateTime, UpdateTime: snap.UpdateTime}, nil
}

func (r *BaseRepository[T]) write(ctx context.Context, id, action string, do func(*firestore.DocumentRef) (*firestore.WriteResult, error)) (MutationResult, error) {
	ref, err := r.ref(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}
	result, err := do(ref)
	if err != nil {
		return MutationResult{}, WrapError(r.op(action), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

func (r *BaseRepository[T]) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	var problem string
	switch {
	case r == nil || r.provider == nil:
		problem = "provider is nil"
	case r.collection == "":
		problem = "collection name is required"
	case strings.TrimSpace(id) == "":
		problem = "document id is required"
	}
	if problem != "" {
		return nil, WrapError(r.op("document"), errors.New(problem))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection).Doc(id), nil
}

func (r *BaseRepository[T]) op(action string) string {
	if r == nil || r.collection == "" {
		return "firestore." + action
	}
	return r.collection + "." + action
}
