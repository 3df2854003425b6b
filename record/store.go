package record

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by Store implementations when no record matches the identity.
var ErrRecordNotFound = errors.New("record not found")

// Store is the directory's native record channel.
//
// Field maps only carry native fields. Implementations decide how the values are
// encoded; values handed back by FetchByIdentity are stored on the entity as-is.
type Store interface {
	// Create inserts a record from the complete native snapshot and returns its identity.
	Create(ctx context.Context, fields map[string]any) (ID, error)
	// Update is the primary update write for native fields the store manages directly.
	Update(ctx context.Context, id ID, fields map[string]any) error
	// UpdateNativeExtra writes native fields the primary write ignores.
	UpdateNativeExtra(ctx context.Context, id ID, fields map[string]any) error
	// FetchByIdentity returns the full native snapshot or ErrRecordNotFound.
	FetchByIdentity(ctx context.Context, id ID) (map[string]any, error)
	// FindByNaturalKey returns the identity of the record owning value, if any.
	FindByNaturalKey(ctx context.Context, value any) (ID, bool, error)
}

// Meta is the per-record key/value side channel.
type Meta interface {
	Get(ctx context.Context, id ID) (map[string]string, error)
	Upsert(ctx context.Context, id ID, key, value string) error
	Delete(ctx context.Context, id ID, key string) error
}
