// Package store abstracts the document backend. The firestore driver
// delegates everything to the vendor SDK; the memory driver is a self
// contained stand-in for tests and offline development. Bindings only
// ever talk to the Store interface.
package store

import (
	"context"
	"errors"

	"github.com/aep/firebind/query"
)

// Source selects where a read is served from.
type Source int

const (
	// SourceDefault prefers cached data when available.
	SourceDefault Source = iota
	// SourceCache reads only cached data and fails on a miss.
	SourceCache
	// SourceServer always reads from the backend.
	SourceServer
)

// ErrNotCached is returned for SourceCache reads that miss.
var ErrNotCached = errors.New("store: not in cache")

// Document is one stored record. Data carries the raw field map; the
// document id travels separately and is merged into the reserved "id"
// field only when decoding into a consumer type.
type Document struct {
	ID   string
	Data map[string]any
}

// SnapshotFunc receives the full current result set of a listened query,
// or a listener error. Errors do not terminate the listener from our
// side; whether it recovers is the backend's business.
type SnapshotFunc func(docs []Document, err error)

// DocFunc receives the current state of a listened document. doc is nil
// while the document does not exist.
type DocFunc func(doc *Document, err error)

// Store is one backend instance. Implementations are safe for use by any
// number of bindings; bindings never mutate the store handle itself.
type Store interface {
	// ID identifies the backend instance, for binding identity keys.
	ID() string

	// Query executes a compiled query against a collection path.
	Query(ctx context.Context, path string, q query.Compiled, src Source) ([]Document, error)

	// Get is a point lookup. Returns (nil, nil) when the document does
	// not exist.
	Get(ctx context.Context, path string, id string, src Source) (*Document, error)

	// ListIDs returns every document id under the collection path,
	// without reading document contents.
	ListIDs(ctx context.Context, path string) ([]string, error)

	// AllocateID returns a fresh document id for the collection path.
	AllocateID(path string) string

	// Listen opens a live listener on the query. fn receives the full
	// result set on every remote change until cancel is called. Cancel
	// is idempotent; no callback fires after it returns.
	Listen(ctx context.Context, path string, q query.Compiled, fn SnapshotFunc) (cancel func(), err error)

	// ListenDoc is Listen for a single document.
	ListenDoc(ctx context.Context, path string, id string, fn DocFunc) (cancel func(), err error)

	// Batch starts an atomic multi operation write.
	Batch() Batch

	Close() error
}

// Batch stages deletes and merge-sets and commits them atomically:
// either all operations apply or none do.
type Batch interface {
	// Set upserts with merge semantics: fields present in data are
	// written, absent fields are left alone.
	Set(path string, id string, data map[string]any)

	Delete(path string, id string)

	Commit(ctx context.Context) error
}
