// Package bind keeps typed in-memory collections and documents in sync
// with a document backend. A binding owns one live listener (gated on
// sign-in state) and the last published value; writable bindings also
// reconcile a whole local collection back to the backend in one atomic
// batch.
package bind

import (
	"os"
	"strings"

	"github.com/aep/firebind/query"
	"github.com/aep/firebind/store"
)

// QueryConfig describes a read-only query binding. Two configurations
// are equal iff path and predicate list are equal.
type QueryConfig struct {
	Path       string
	Predicates []query.Predicate
	Source     store.Source
	// Fixture is returned by Load under a test run instead of touching
	// the network. Type must match the binding's value type.
	Fixture any
}

func (c QueryConfig) Equal(o QueryConfig) bool {
	return c.Path == o.Path && query.EqualList(c.Predicates, o.Predicates)
}

func (c QueryConfig) compile() query.Compiled {
	return query.Compile(c.Predicates)
}

// CollectionConfig describes a read-write collection sync binding with at
// most one order-by clause. Equality is by path only; the order-by clause
// is not part of identity (see Key).
type CollectionConfig struct {
	Path    string
	OrderBy *query.Order
	Source  store.Source
	Fixture any
}

func (c CollectionConfig) Equal(o CollectionConfig) bool {
	return c.Path == o.Path
}

func (c CollectionConfig) compile() query.Compiled {
	if c.OrderBy == nil {
		return query.Compiled{}
	}
	return query.Compile([]query.Predicate{query.OrderBy(c.OrderBy.Field, c.OrderBy.Desc)})
}

// DocumentConfig describes a read-write single document binding.
// Equality is by (path, document id).
type DocumentConfig struct {
	Path    string
	DocID   string
	Source  store.Source
	Fixture any
}

func (c DocumentConfig) Equal(o DocumentConfig) bool {
	return c.Path == o.Path && c.DocID == o.DocID
}

// underTest reports whether we are running inside a test binary, in which
// case Load never touches the network.
func underTest() bool {
	return strings.HasSuffix(os.Args[0], ".test") || strings.Contains(os.Args[0], "/_test/")
}

type options struct {
	testing    bool
	customPath string
	custom     func() query.Compiled
}

type Option func(*options)

func defaultOptions() options {
	return options{testing: underTest()}
}

// WithTesting overrides test run detection, mainly so tests can exercise
// the network path against the memory driver.
func WithTesting(on bool) Option {
	return func(o *options) { o.testing = on }
}

// WithCustomQuery replaces the configuration driven query of a
// QueryBinding with a caller supplied compile step. The binding identity
// is derived from the compiled form.
func WithCustomQuery(path string, fn func() query.Compiled) Option {
	return func(o *options) {
		o.customPath = path
		o.custom = fn
	}
}
