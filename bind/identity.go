package bind

import (
	"github.com/zeebo/xxh3"

	"github.com/aep/firebind/query"
	"github.com/aep/firebind/store"
)

// Key identifies a binding structurally: two consumers requesting
// semantically identical data resolve to the same key and can share one
// binding through a Registry instead of opening duplicate listeners.
type Key struct {
	Store string
	Kind  string
	Hash  uint64
}

const (
	kindQuery      = "query"
	kindCollection = "collection"
	kindDocument   = "document"
)

func (c QueryConfig) Key(s store.Store) Key {
	b := append([]byte(c.Path), 0xff)
	b = query.AppendHashList(b, c.Predicates)
	return Key{Store: s.ID(), Kind: kindQuery, Hash: xxh3.Hash(b)}
}

// Key for a collection sync hashes the path only. Two configurations
// differing just in order-by share a key, so consumers sorting the same
// collection differently share one subscription. Surprising but
// longstanding behavior; see the identity test pinning it.
func (c CollectionConfig) Key(s store.Store) Key {
	b := append([]byte(c.Path), 0xff)
	return Key{Store: s.ID(), Kind: kindCollection, Hash: xxh3.Hash(b)}
}

func (c DocumentConfig) Key(s store.Store) Key {
	b := append([]byte(c.Path), 0xff)
	b = append(b, c.DocID...)
	b = append(b, 0xff)
	return Key{Store: s.ID(), Kind: kindDocument, Hash: xxh3.Hash(b)}
}
