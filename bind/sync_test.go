package bind

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aep/firebind/auth"
	"github.com/aep/firebind/query"
	"github.com/aep/firebind/store"
)

// spyStore counts batch operations and can fail commits.
type spyStore struct {
	store.Store
	batches    []*spyBatch
	failCommit bool
}

type spyBatch struct {
	store.Batch
	spy     *spyStore
	sets    int
	deletes int
	commits int
}

func newSpyStore() *spyStore {
	return &spyStore{Store: store.NewMemory()}
}

func (s *spyStore) Batch() store.Batch {
	b := &spyBatch{Batch: s.Store.Batch(), spy: s}
	s.batches = append(s.batches, b)
	return b
}

func (b *spyBatch) Set(path, id string, data map[string]any) {
	b.sets++
	b.Batch.Set(path, id, data)
}

func (b *spyBatch) Delete(path, id string) {
	b.deletes++
	b.Batch.Delete(path, id)
}

func (b *spyBatch) Commit(ctx context.Context) error {
	b.commits++
	if b.spy.failCommit {
		return errors.New("commit denied")
	}
	return b.Batch.Commit(ctx)
}

func seedIDs(t *testing.T, s store.Store, path string, ids ...string) {
	t.Helper()
	b := s.Batch()
	for _, id := range ids {
		b.Set(path, id, map[string]any{"name": "seed-" + id})
	}
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestSaveReconciles(t *testing.T) {
	s := newSpyStore()
	defer s.Close()
	au := auth.NewMemory()
	au.SignIn("u")
	ctx := context.Background()

	seedIDs(t, s, "tasks", "a", "b", "c")
	s.batches = nil

	b := NewCollection[task](s, au, CollectionConfig{Path: "tasks"}, WithTesting(false))

	local := []*task{
		{Meta: Meta{ID: "b"}, Name: "bee"},
		{Meta: Meta{ID: "c"}, Name: "sea"},
		{Name: "fresh"}, // no remote id yet
	}
	assert.NoError(t, b.Save(ctx, local))

	// exactly one batch, one commit, exactly four operations:
	// delete a, upsert b, upsert c, insert fresh
	if assert.Len(t, s.batches, 1) {
		sb := s.batches[0]
		assert.Equal(t, 1, sb.commits)
		assert.Equal(t, 1, sb.deletes)
		assert.Equal(t, 3, sb.sets)
	}

	ids, _ := s.ListIDs(ctx, "tasks")
	assert.Len(t, ids, 3)
	sort.Strings(ids)
	assert.NotContains(t, ids, "a")
	assert.Contains(t, ids, "b")
	assert.Contains(t, ids, "c")

	// the inserted record learned its remote id in place
	assert.NotEmpty(t, local[2].ID)
	doc, _ := s.Get(ctx, "tasks", local[2].ID, store.SourceDefault)
	if assert.NotNil(t, doc) {
		assert.Equal(t, "fresh", doc.Data["name"])
	}
}

func TestSaveIdempotent(t *testing.T) {
	s := newSpyStore()
	defer s.Close()
	au := auth.NewMemory()
	au.SignIn("u")
	ctx := context.Background()

	b := NewCollection[task](s, au, CollectionConfig{Path: "tasks"}, WithTesting(false))

	local := []*task{{Name: "one"}, {Name: "two"}}
	assert.NoError(t, b.Save(ctx, local))

	ids1, _ := s.ListIDs(ctx, "tasks")
	s.batches = nil

	assert.NoError(t, b.Save(ctx, local))

	if assert.Len(t, s.batches, 1) {
		sb := s.batches[0]
		assert.Equal(t, 0, sb.deletes, "second save deletes nothing")
		assert.Equal(t, 2, sb.sets)
	}

	ids2, _ := s.ListIDs(ctx, "tasks")
	sort.Strings(ids1)
	sort.Strings(ids2)
	assert.Equal(t, ids1, ids2, "remote state unchanged by the second save")
}

func TestSaveUnauthenticatedNoOp(t *testing.T) {
	s := newSpyStore()
	defer s.Close()
	au := auth.NewMemory()
	ctx := context.Background()

	seedIDs(t, s, "tasks", "a")
	s.batches = nil

	b := NewCollection[task](s, au, CollectionConfig{Path: "tasks"}, WithTesting(false))
	assert.NoError(t, b.Save(ctx, []*task{{Name: "x"}}))

	assert.Empty(t, s.batches, "signed out save must not touch the store")
	ids, _ := s.ListIDs(ctx, "tasks")
	assert.Equal(t, []string{"a"}, ids)
}

func TestSaveFailureMutatesNothing(t *testing.T) {
	s := newSpyStore()
	defer s.Close()
	au := auth.NewMemory()
	au.SignIn("u")
	ctx := context.Background()

	b := NewCollection[task](s, au, CollectionConfig{Path: "tasks"}, WithTesting(false))

	s.failCommit = true
	local := []*task{{Name: "will fail"}}
	err := b.Save(ctx, local)
	assert.Error(t, err)

	assert.Empty(t, local[0].ID, "failed save must not assign remote ids")
	assert.Nil(t, b.Value(), "failed save must not republish")
}

func TestSaveStaleRemoteIDNotWritten(t *testing.T) {
	s := newSpyStore()
	defer s.Close()
	au := auth.NewMemory()
	au.SignIn("u")
	ctx := context.Background()

	seedIDs(t, s, "tasks", "a")
	s.batches = nil

	b := NewCollection[task](s, au, CollectionConfig{Path: "tasks"}, WithTesting(false))

	// "ghost" claims a remote id the backend no longer knows
	local := []*task{
		{Meta: Meta{ID: "a"}, Name: "kept"},
		{Meta: Meta{ID: "ghost"}, Name: "stale"},
	}
	assert.NoError(t, b.Save(ctx, local))

	if assert.Len(t, s.batches, 1) {
		assert.Equal(t, 1, s.batches[0].sets, "stale record is neither inserted nor updated")
		assert.Equal(t, 0, s.batches[0].deletes)
	}
	ids, _ := s.ListIDs(ctx, "tasks")
	assert.Equal(t, []string{"a"}, ids)
}

func TestCollectionLoadAppliesOrder(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	au := auth.NewMemory()
	au.SignIn("u")
	ctx := context.Background()

	b := s.Batch()
	b.Set("tasks", "x", map[string]any{"name": "x", "prio": int64(2)})
	b.Set("tasks", "y", map[string]any{"name": "y", "prio": int64(1)})
	assert.NoError(t, b.Commit(ctx))

	cs := NewCollection[task](s, au, CollectionConfig{
		Path:    "tasks",
		OrderBy: &query.Order{Field: "prio", Desc: true},
	}, WithTesting(false))

	vals, err := cs.Load(ctx)
	assert.NoError(t, err)
	if assert.Len(t, vals, 2) {
		assert.Equal(t, "x", vals[0].Name)
		assert.Equal(t, "y", vals[1].Name)
	}
}

func TestDocumentSyncSaveAndLoad(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	au := auth.NewMemory()
	au.SignIn("u")
	ctx := context.Background()

	cfg := DocumentConfig{Path: "profiles", DocID: "u1"}
	d := NewDocument[task](s, au, cfg, WithTesting(false))

	assert.NoError(t, d.Save(ctx, &task{Name: "ada"}))

	// merge semantics: a partial write elsewhere keeps our field
	b := s.Batch()
	b.Set("profiles", "u1", map[string]any{"prio": int64(9)})
	assert.NoError(t, b.Commit(ctx))

	v, err := d.Load(ctx)
	assert.NoError(t, err)
	if assert.NotNil(t, v) {
		assert.Equal(t, "ada", v.Name)
		assert.Equal(t, int64(9), v.Prio)
		assert.Equal(t, "u1", v.ID)
	}
}

func TestDocumentSyncUnauthenticatedSave(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	au := auth.NewMemory()
	ctx := context.Background()

	d := NewDocument[task](s, au, DocumentConfig{Path: "profiles", DocID: "u1"}, WithTesting(false))
	assert.NoError(t, d.Save(ctx, &task{Name: "nope"}))

	doc, _ := s.Get(ctx, "profiles", "u1", store.SourceDefault)
	assert.Nil(t, doc)
}

func TestDocumentSubscribe(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	au := auth.NewMemory()
	au.SignIn("u")
	ctx := context.Background()

	d := NewDocument[task](s, au, DocumentConfig{Path: "profiles", DocID: "u1"}, WithTesting(false))
	sub := d.Subscribe(ctx)
	defer sub.Cancel()

	b := s.Batch()
	b.Set("profiles", "u1", map[string]any{"name": "ada"})
	assert.NoError(t, b.Commit(ctx))

	v := waitVals(t, sub.C)
	if assert.NotNil(t, v) {
		assert.Equal(t, "ada", v.Name)
	}
}

func TestDocumentLoadFixtureUnderTest(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	au := auth.NewMemory()

	fixture := &task{Name: "fixture"}
	d := NewDocument[task](s, au, DocumentConfig{
		Path: "profiles", DocID: "u1", Fixture: fixture,
	}, WithTesting(true))

	v, err := d.Load(context.Background())
	assert.NoError(t, err)
	assert.Same(t, fixture, v)
}
