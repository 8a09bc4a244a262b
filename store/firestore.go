package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aep/firebind/query"
)

// Firestore delegates everything to the vendor SDK. The Go SDK carries no
// offline cache, so the driver keeps its own read-through result cache to
// give the Source preferences meaning: SourceCache is served purely from
// it, SourceDefault prefers it, SourceServer bypasses and refreshes it.
type Firestore struct {
	id    string
	c     *firestore.Client
	cache otter.Cache[string, []Document]
}

func NewFirestore(ctx context.Context, projectID string, opts ...option.ClientOption) (*Firestore, error) {
	c, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}

	cache, err := otter.MustBuilder[string, []Document](10_000).
		WithTTL(60 * time.Second).
		Build()
	if err != nil {
		c.Close()
		return nil, err
	}

	return &Firestore{
		id:    "firestore:" + projectID,
		c:     c,
		cache: cache,
	}, nil
}

func (s *Firestore) ID() string { return s.id }

func cacheKey(path string, q query.Compiled) string {
	b := append([]byte(path), 0xff)
	b = q.AppendHash(b)
	return strconv.FormatUint(xxh3.Hash(b), 16)
}

func (s *Firestore) Query(ctx context.Context, path string, q query.Compiled, src Source) ([]Document, error) {
	key := cacheKey(path, q)

	if src != SourceServer {
		if docs, ok := s.cache.Get(key); ok {
			return docs, nil
		}
		if src == SourceCache {
			return nil, ErrNotCached
		}
	}

	it := s.buildQuery(path, q).Documents(ctx)
	defer it.Stop()

	var docs []Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}

	s.cache.Set(key, docs)
	return docs, nil
}

func (s *Firestore) Get(ctx context.Context, path string, id string, src Source) (*Document, error) {
	key := "doc:" + path + "/" + id

	if src != SourceServer {
		if docs, ok := s.cache.Get(key); ok {
			if len(docs) == 0 {
				return nil, nil
			}
			return &docs[0], nil
		}
		if src == SourceCache {
			return nil, ErrNotCached
		}
	}

	snap, err := s.c.Collection(path).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.cache.Set(key, nil)
			return nil, nil
		}
		return nil, err
	}
	if !snap.Exists() {
		s.cache.Set(key, nil)
		return nil, nil
	}

	doc := Document{ID: snap.Ref.ID, Data: snap.Data()}
	s.cache.Set(key, []Document{doc})
	return &doc, nil
}

func (s *Firestore) ListIDs(ctx context.Context, path string) ([]string, error) {
	it := s.c.Collection(path).DocumentRefs(ctx)

	var ids []string
	for {
		ref, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

func (s *Firestore) AllocateID(path string) string {
	return s.c.Collection(path).NewDoc().ID
}

func (s *Firestore) Listen(ctx context.Context, path string, q query.Compiled, fn SnapshotFunc) (func(), error) {
	lctx, cancelCtx := context.WithCancel(ctx)
	it := s.buildQuery(path, q).Snapshots(lctx)
	guard := &listenGuard{}

	go func() {
		for {
			qs, err := it.Next()
			if err != nil {
				if lctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				// the SDK iterator does not survive a terminal error;
				// surface it and stop feeding this listener
				guard.deliver(func() { fn(nil, err) })
				return
			}

			var docs []Document
			var derr error
			dit := qs.Documents
			for {
				snap, err := dit.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					derr = err
					break
				}
				docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
			}

			if derr != nil {
				guard.deliver(func() { fn(nil, derr) })
				continue
			}
			guard.deliver(func() { fn(docs, nil) })
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			guard.stop()
			cancelCtx()
			it.Stop()
		})
	}
	return cancel, nil
}

func (s *Firestore) ListenDoc(ctx context.Context, path string, id string, fn DocFunc) (func(), error) {
	lctx, cancelCtx := context.WithCancel(ctx)
	it := s.c.Collection(path).Doc(id).Snapshots(lctx)
	guard := &listenGuard{}

	go func() {
		for {
			snap, err := it.Next()
			if err != nil {
				if lctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				guard.deliver(func() { fn(nil, err) })
				return
			}

			if !snap.Exists() {
				guard.deliver(func() { fn(nil, nil) })
				continue
			}
			doc := Document{ID: snap.Ref.ID, Data: snap.Data()}
			guard.deliver(func() { fn(&doc, nil) })
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			guard.stop()
			cancelCtx()
			it.Stop()
		})
	}
	return cancel, nil
}

func (s *Firestore) Batch() Batch {
	return &fsBatch{c: s.c, b: s.c.Batch()}
}

func (s *Firestore) Close() error {
	s.cache.Close()
	return s.c.Close()
}

func (s *Firestore) buildQuery(path string, q query.Compiled) firestore.Query {
	fq := s.c.Collection(path).Query

	if q.Filter != nil {
		fq = fq.WhereEntity(toEntityFilter(q.Filter))
	}
	for _, m := range q.Mods {
		switch m.Kind {
		case query.ModOrderBy:
			dir := firestore.Asc
			if m.Desc {
				dir = firestore.Desc
			}
			fq = fq.OrderByPath(firestore.FieldPath(m.Path), dir)
		case query.ModLimit:
			fq = fq.Limit(m.N)
		case query.ModLimitLast:
			fq = fq.LimitToLast(m.N)
		}
	}
	return fq
}

// toEntityFilter maps the neutral filter tree onto the SDK's filter
// types, preserving nesting.
func toEntityFilter(f query.Filter) firestore.EntityFilter {
	switch f := f.(type) {
	case query.Cond:
		return firestore.PropertyPathFilter{
			Path:     firestore.FieldPath(f.Path),
			Operator: opString(f.Op),
			Value:    condValue(f),
		}
	case query.AndFilter:
		kids := make([]firestore.EntityFilter, 0, len(f.Filters))
		for _, k := range f.Filters {
			kids = append(kids, toEntityFilter(k))
		}
		return firestore.AndFilter{Filters: kids}
	case query.OrFilter:
		kids := make([]firestore.EntityFilter, 0, len(f.Filters))
		for _, k := range f.Filters {
			kids = append(kids, toEntityFilter(k))
		}
		return firestore.OrFilter{Filters: kids}
	}
	return nil
}

func opString(op query.Op) string {
	switch op {
	case query.OpEq:
		return "=="
	case query.OpNe:
		return "!="
	case query.OpIn:
		return "in"
	case query.OpNotIn:
		return "not-in"
	case query.OpContains:
		return "array-contains"
	case query.OpContainsAny:
		return "array-contains-any"
	case query.OpLt:
		return "<"
	case query.OpGt:
		return ">"
	case query.OpLte:
		return "<="
	case query.OpGte:
		return ">="
	}
	return "=="
}

// condValue unwraps literals: set operators take a value list, everything
// else a single value.
func condValue(f query.Cond) any {
	switch f.Op {
	case query.OpIn, query.OpNotIn, query.OpContainsAny:
		vs := make([]any, 0, len(f.Values))
		for _, v := range f.Values {
			vs = append(vs, v.Value())
		}
		return vs
	}
	if len(f.Values) == 0 {
		return nil
	}
	return f.Values[0].Value()
}

type fsBatch struct {
	c *firestore.Client
	b *firestore.WriteBatch
	n int
}

func (b *fsBatch) Set(path string, id string, data map[string]any) {
	b.b.Set(b.c.Collection(path).Doc(id), data, firestore.MergeAll)
	b.n++
}

func (b *fsBatch) Delete(path string, id string) {
	b.b.Delete(b.c.Collection(path).Doc(id))
	b.n++
}

func (b *fsBatch) Commit(ctx context.Context) error {
	if b.n == 0 {
		return nil
	}
	_, err := b.b.Commit(ctx)
	return err
}
