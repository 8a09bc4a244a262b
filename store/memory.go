package store

import (
	"context"
	"maps"
	"sync"

	"github.com/aep/firebind/bus"
	"github.com/aep/firebind/query"
	"github.com/google/uuid"
)

// Memory is the in-process driver: tests, the dev server and offline
// development run against it. All three Source preferences behave the
// same because the store is its own cache.
type Memory struct {
	id     string
	bs     bus.Bus
	ownBus bool

	m    sync.RWMutex
	cols map[string]map[string]map[string]any
}

func NewMemory() *Memory {
	m := NewMemoryWithBus(bus.NewSolo())
	m.ownBus = true
	return m
}

// NewMemoryWithBus shares change notifications over an external bus, so
// several processes can watch one logical store.
func NewMemoryWithBus(b bus.Bus) *Memory {
	return &Memory{
		id:   "memory:" + uuid.NewString(),
		bs:   b,
		cols: make(map[string]map[string]map[string]any),
	}
}

func (s *Memory) ID() string { return s.id }

func (s *Memory) Query(ctx context.Context, path string, q query.Compiled, src Source) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return evalQuery(s.snapshot(path), q), nil
}

func (s *Memory) Get(ctx context.Context, path string, id string, src Source) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.m.RLock()
	defer s.m.RUnlock()

	data, ok := s.cols[path][id]
	if !ok {
		return nil, nil
	}
	return &Document{ID: id, Data: maps.Clone(data)}, nil
}

func (s *Memory) ListIDs(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.m.RLock()
	defer s.m.RUnlock()

	ids := make([]string, 0, len(s.cols[path]))
	for id := range s.cols[path] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Memory) AllocateID(path string) string {
	return uuid.NewString()
}

func (s *Memory) snapshot(path string) []Document {
	s.m.RLock()
	defer s.m.RUnlock()

	docs := make([]Document, 0, len(s.cols[path]))
	for id, data := range s.cols[path] {
		docs = append(docs, Document{ID: id, Data: maps.Clone(data)})
	}
	return docs
}

// listenGuard serializes callback delivery and makes cancellation final:
// once cancel returns, no further callback fires.
type listenGuard struct {
	m       sync.Mutex
	stopped bool
}

func (g *listenGuard) deliver(fn func()) {
	g.m.Lock()
	defer g.m.Unlock()
	if g.stopped {
		return
	}
	fn()
}

func (g *listenGuard) stop() {
	g.m.Lock()
	g.stopped = true
	g.m.Unlock()
}

func (s *Memory) Listen(ctx context.Context, path string, q query.Compiled, fn SnapshotFunc) (func(), error) {
	ch, cancelSub := s.bs.Subscribe(path)
	guard := &listenGuard{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			guard.stop()
			cancelSub()
		})
	}

	emit := func() {
		docs := evalQuery(s.snapshot(path), q)
		guard.deliver(func() { fn(docs, nil) })
	}

	go func() {
		emit() // initial snapshot
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return cancel, nil
}

func (s *Memory) ListenDoc(ctx context.Context, path string, id string, fn DocFunc) (func(), error) {
	ch, cancelSub := s.bs.Subscribe(path)
	guard := &listenGuard{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			guard.stop()
			cancelSub()
		})
	}

	emit := func() {
		doc, _ := s.Get(context.Background(), path, id, SourceDefault)
		guard.deliver(func() { fn(doc, nil) })
	}

	go func() {
		emit()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return cancel, nil
}

func (s *Memory) Batch() Batch {
	return &memBatch{store: s}
}

func (s *Memory) Close() error {
	if s.ownBus {
		s.bs.Close()
	}
	return nil
}

type memOp struct {
	path string
	id   string
	data map[string]any // nil means delete
}

type memBatch struct {
	store *Memory
	ops   []memOp
}

func (b *memBatch) Set(path string, id string, data map[string]any) {
	b.ops = append(b.ops, memOp{path: path, id: id, data: maps.Clone(data)})
}

func (b *memBatch) Delete(path string, id string) {
	b.ops = append(b.ops, memOp{path: path, id: id})
}

func (b *memBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := b.store
	touched := make(map[string]bool)

	s.m.Lock()
	for _, op := range b.ops {
		touched[op.path] = true
		col := s.cols[op.path]
		if op.data == nil {
			delete(col, op.id)
			continue
		}
		if col == nil {
			col = make(map[string]map[string]any)
			s.cols[op.path] = col
		}
		cur := col[op.id]
		if cur == nil {
			col[op.id] = maps.Clone(op.data)
			continue
		}
		// merge semantics: absent fields stay
		for k, v := range op.data {
			cur[k] = v
		}
	}
	s.m.Unlock()

	for path := range touched {
		s.bs.Send(path, nil)
	}
	return nil
}
