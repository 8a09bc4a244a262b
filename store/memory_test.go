package store

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aep/firebind/bus"
	"github.com/aep/firebind/query"
)

func put(t *testing.T, s *Memory, path, id string, data map[string]any) {
	t.Helper()
	b := s.Batch()
	b.Set(path, id, data)
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

func TestMemoryQueryFilter(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "tasks", "t1", map[string]any{"state": "open", "prio": int64(1)})
	put(t, s, "tasks", "t2", map[string]any{"state": "open", "prio": int64(5)})
	put(t, s, "tasks", "t3", map[string]any{"state": "done", "prio": int64(9)})

	q := query.Compile([]query.Predicate{
		query.Eq("state", query.Str("open")),
		query.Gte("prio", query.Int(2)),
	})
	docs, err := s.Query(ctx, "tasks", q, SourceDefault)
	assert.NoError(t, err)
	if assert.Len(t, docs, 1) {
		assert.Equal(t, "t2", docs[0].ID)
	}
}

func TestMemoryQueryOrGroup(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "tasks", "a", map[string]any{"prio": int64(1)})
	put(t, s, "tasks", "b", map[string]any{"prio": int64(5)})
	put(t, s, "tasks", "c", map[string]any{"prio": int64(9)})

	q := query.Compile([]query.Predicate{
		query.Or(
			query.Lt("prio", query.Int(2)),
			query.Gt("prio", query.Int(8)),
		),
	})
	docs, err := s.Query(ctx, "tasks", q, SourceDefault)
	assert.NoError(t, err)

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestMemoryQueryNestedField(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "users", "u1", map[string]any{
		"address": map[string]any{"city": "berlin"},
	})
	put(t, s, "users", "u2", map[string]any{
		"address": map[string]any{"city": "oslo"},
	})

	q := query.Compile([]query.Predicate{query.Eq("address.city", query.Str("oslo"))})
	docs, err := s.Query(ctx, "users", q, SourceDefault)
	assert.NoError(t, err)
	if assert.Len(t, docs, 1) {
		assert.Equal(t, "u2", docs[0].ID)
	}
}

func TestMemoryQueryArrayContains(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "posts", "p1", map[string]any{"tags": []any{"go", "db"}})
	put(t, s, "posts", "p2", map[string]any{"tags": []any{"rust"}})

	q := query.Compile([]query.Predicate{query.Contains("tags", query.Str("go"))})
	docs, err := s.Query(ctx, "posts", q, SourceDefault)
	assert.NoError(t, err)
	if assert.Len(t, docs, 1) {
		assert.Equal(t, "p1", docs[0].ID)
	}
}

func TestMemoryQueryOrderAndLimit(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "n", "a", map[string]any{"v": int64(3)})
	put(t, s, "n", "b", map[string]any{"v": int64(1)})
	put(t, s, "n", "c", map[string]any{"v": int64(2)})

	q := query.Compile([]query.Predicate{
		query.OrderBy("v", false),
		query.Limit(2),
	})
	docs, err := s.Query(ctx, "n", q, SourceDefault)
	assert.NoError(t, err)
	if assert.Len(t, docs, 2) {
		assert.Equal(t, "b", docs[0].ID)
		assert.Equal(t, "c", docs[1].ID)
	}

	// a later limit of the same kind overrides the earlier one
	q = query.Compile([]query.Predicate{
		query.OrderBy("v", true),
		query.Limit(10),
		query.Limit(1),
	})
	docs, err = s.Query(ctx, "n", q, SourceDefault)
	assert.NoError(t, err)
	if assert.Len(t, docs, 1) {
		assert.Equal(t, "a", docs[0].ID)
	}

	q = query.Compile([]query.Predicate{
		query.OrderBy("v", false),
		query.LimitLast(1),
	})
	docs, err = s.Query(ctx, "n", q, SourceDefault)
	assert.NoError(t, err)
	if assert.Len(t, docs, 1) {
		assert.Equal(t, "a", docs[0].ID)
	}
}

func TestMemoryGetAndListIDs(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "c", "x", map[string]any{"n": int64(1)})
	put(t, s, "c", "y", map[string]any{"n": int64(2)})

	doc, err := s.Get(ctx, "c", "x", SourceDefault)
	assert.NoError(t, err)
	if assert.NotNil(t, doc) {
		assert.Equal(t, int64(1), doc.Data["n"])
	}

	doc, err = s.Get(ctx, "c", "missing", SourceDefault)
	assert.NoError(t, err)
	assert.Nil(t, doc)

	ids, err := s.ListIDs(ctx, "c")
	assert.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"x", "y"}, ids)
}

func TestMemoryBatchMergeAndDelete(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "c", "x", map[string]any{"a": int64(1), "b": int64(2)})

	b := s.Batch()
	b.Set("c", "x", map[string]any{"b": int64(3)})
	b.Set("c", "y", map[string]any{"fresh": true})
	b.Delete("c", "gone") // deleting a missing doc is a no-op
	assert.NoError(t, b.Commit(ctx))

	doc, _ := s.Get(ctx, "c", "x", SourceDefault)
	assert.Equal(t, int64(1), doc.Data["a"], "merge must keep absent fields")
	assert.Equal(t, int64(3), doc.Data["b"])

	doc, _ = s.Get(ctx, "c", "y", SourceDefault)
	assert.NotNil(t, doc)

	b = s.Batch()
	b.Delete("c", "y")
	assert.NoError(t, b.Commit(ctx))
	doc, _ = s.Get(ctx, "c", "y", SourceDefault)
	assert.Nil(t, doc)
}

func TestMemoryListenRepublishesFullSet(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	put(t, s, "c", "x", map[string]any{"n": int64(1)})

	snaps := make(chan []Document, 8)
	cancel, err := s.Listen(ctx, "c", query.Compiled{}, func(docs []Document, err error) {
		assert.NoError(t, err)
		snaps <- docs
	})
	assert.NoError(t, err)
	defer cancel()

	// initial snapshot
	select {
	case docs := <-snaps:
		assert.Len(t, docs, 1)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	put(t, s, "c", "y", map[string]any{"n": int64(2)})

	select {
	case docs := <-snaps:
		assert.Len(t, docs, 2, "listener must receive the full set, not a delta")
	case <-time.After(time.Second):
		t.Fatal("no snapshot after write")
	}
}

func TestMemoryListenCancelStopsDelivery(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	var n int
	done := make(chan struct{})
	cancel, err := s.Listen(ctx, "c", query.Compiled{}, func(docs []Document, err error) {
		n++
		select {
		case done <- struct{}{}:
		default:
		}
	})
	assert.NoError(t, err)

	<-done
	cancel()
	cancel() // idempotent

	got := n
	put(t, s, "c", "z", map[string]any{})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, got, n, "no delivery after cancel")
}

func TestMemoryListenDoc(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	snaps := make(chan *Document, 8)
	cancel, err := s.ListenDoc(ctx, "c", "x", func(doc *Document, err error) {
		assert.NoError(t, err)
		snaps <- doc
	})
	assert.NoError(t, err)
	defer cancel()

	// document does not exist yet
	select {
	case doc := <-snaps:
		assert.Nil(t, doc)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	put(t, s, "c", "x", map[string]any{"n": int64(7)})

	select {
	case doc := <-snaps:
		if assert.NotNil(t, doc) {
			assert.Equal(t, int64(7), doc.Data["n"])
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after write")
	}
}

// trackingBus reports how many subscriptions are still registered.
type trackingBus struct {
	bus.Bus
	m      sync.Mutex
	active int
}

func (b *trackingBus) Subscribe(topic string) (<-chan []byte, func()) {
	ch, cancel := b.Bus.Subscribe(topic)
	b.m.Lock()
	b.active++
	b.m.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.m.Lock()
			b.active--
			b.m.Unlock()
		})
		cancel()
	}
}

func (b *trackingBus) activeSubs() int {
	b.m.Lock()
	defer b.m.Unlock()
	return b.active
}

func TestMemoryListenContextCancelReleasesSubscription(t *testing.T) {
	tb := &trackingBus{Bus: bus.NewSolo()}
	s := NewMemoryWithBus(tb)
	defer tb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Listen(ctx, "tasks", query.Compile(nil), func([]Document, error) {})
	assert.NoError(t, err)
	_, err = s.ListenDoc(ctx, "tasks", "t1", func(*Document, error) {})
	assert.NoError(t, err)
	assert.Equal(t, 2, tb.activeSubs())

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for tb.activeSubs() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, tb.activeSubs(), "context cancellation must release the bus subscriptions")
}
