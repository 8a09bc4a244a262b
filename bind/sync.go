package bind

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aep/firebind/auth"
	"github.com/aep/firebind/store"
)

// CollectionSync is the read-write collection binding: same load and
// subscribe contract as QueryBinding, plus Save, which reconciles the
// entire locally held collection against remote state by id-set
// difference in one atomic batch.
type CollectionSync[E any] struct {
	st   store.Store
	au   auth.Provider
	cfg  CollectionConfig
	opts options

	m     sync.Mutex
	value []*E
	sub   *Subscription[[]*E]
}

func NewCollection[E any](st store.Store, au auth.Provider, cfg CollectionConfig, opts ...Option) *CollectionSync[E] {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &CollectionSync[E]{st: st, au: au, cfg: cfg, opts: o}
}

func (b *CollectionSync[E]) Value() []*E {
	b.m.Lock()
	defer b.m.Unlock()
	return b.value
}

func (b *CollectionSync[E]) publish(v []*E) {
	b.m.Lock()
	b.value = v
	sub := b.sub
	b.m.Unlock()
	if sub != nil {
		sub.publish(v)
	}
}

func (b *CollectionSync[E]) Load(ctx context.Context) ([]*E, error) {
	ctx, span := tracer.Start(ctx, "bind.Collection.Load",
		trace.WithAttributes(attribute.String("path", b.cfg.Path)))
	defer span.End()

	if b.opts.testing {
		if b.cfg.Fixture != nil {
			if v, ok := b.cfg.Fixture.([]*E); ok {
				b.publish(v)
				return v, nil
			}
		}
		return b.Value(), nil
	}
	if b.au.Current() == nil {
		return b.Value(), nil
	}

	docs, err := b.st.Query(ctx, b.cfg.Path, b.cfg.compile(), b.cfg.Source)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		return nil, fmt.Errorf("load %s: %w", b.cfg.Path, err)
	}

	vals := decodeAll[E](b.cfg.Path, docs)
	b.publish(vals)
	return vals, nil
}

func (b *CollectionSync[E]) Subscribe(ctx context.Context) *Subscription[[]*E] {
	b.m.Lock()
	if b.sub != nil {
		s := b.sub
		b.m.Unlock()
		return s
	}
	sub := newSubscription[[]*E]()
	b.sub = sub
	b.m.Unlock()

	teardown := authGated(b.au, func() (func(), error) {
		return b.st.Listen(ctx, b.cfg.Path, b.cfg.compile(), func(docs []store.Document, err error) {
			if err != nil {
				sub.fail(err)
				return
			}
			b.publish(decodeAll[E](b.cfg.Path, docs))
		})
	}, sub.fail)

	sub.setTeardown(func() {
		teardown()
		b.m.Lock()
		if b.sub == sub {
			b.sub = nil
		}
		b.m.Unlock()
	})
	context.AfterFunc(ctx, sub.Cancel)
	return sub
}

// Save reconciles values against remote state. The locally held list is
// ground truth: remote ids absent from it are deleted, records without a
// remote id are inserted at freshly allocated ids, the rest are upserted
// with merge semantics. Everything commits in one atomic batch; a failed
// save leaves both sides untouched. Signed out, Save is a silent no-op.
// On success the collection is republished with the new ids filled in.
func (b *CollectionSync[E]) Save(ctx context.Context, values []*E) error {
	ctx, span := tracer.Start(ctx, "bind.Collection.Save",
		trace.WithAttributes(
			attribute.String("path", b.cfg.Path),
			attribute.Int("records", len(values)),
		))
	defer span.End()

	if b.au.Current() == nil {
		return nil
	}

	stored, err := b.st.ListIDs(ctx, b.cfg.Path)
	if err != nil {
		return fmt.Errorf("save %s: %w", b.cfg.Path, err)
	}
	storedSet := make(map[string]bool, len(stored))
	for _, id := range stored {
		storedSet[id] = true
	}

	type encoded struct {
		val  *E
		id   string
		data map[string]any
	}
	encs := make([]encoded, 0, len(values))
	current := make(map[string]bool, len(values))
	for _, v := range values {
		id, data, err := encodeDoc(v)
		if err != nil {
			return fmt.Errorf("save %s: encode: %w", b.cfg.Path, err)
		}
		if id != "" {
			current[id] = true
		}
		encs = append(encs, encoded{val: v, id: id, data: data})
	}

	batch := b.st.Batch()
	for _, id := range stored {
		if !current[id] {
			batch.Delete(b.cfg.Path, id)
		}
	}

	// fresh ids for inserts, in list order
	type insert struct {
		idx int
		id  string
	}
	var inserts []insert
	for i, e := range encs {
		switch {
		case e.id == "":
			id := b.st.AllocateID(b.cfg.Path)
			batch.Set(b.cfg.Path, id, e.data)
			inserts = append(inserts, insert{idx: i, id: id})
		case storedSet[e.id]:
			batch.Set(b.cfg.Path, e.id, e.data)
		default:
			// a remote id we no longer see remotely: not written; the
			// next snapshot republish drops it
		}
	}

	if err := batch.Commit(ctx); err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		return fmt.Errorf("save %s: %w", b.cfg.Path, err)
	}

	// only after the commit succeeded do inserted records learn their
	// remote id; a failed save mutates no local state
	saved := make([]*E, len(values))
	copy(saved, values)
	for _, in := range inserts {
		e := encs[in.idx]
		if setter, ok := any(e.val).(remoteIDSetter); ok {
			setter.SetRemoteID(in.id)
			continue
		}
		if v, err := decodeDoc[E](store.Document{ID: in.id, Data: e.data}); err == nil {
			saved[in.idx] = v
		}
	}

	b.publish(saved)
	return nil
}

// DocumentSync is the read-write single document binding.
type DocumentSync[E any] struct {
	st   store.Store
	au   auth.Provider
	cfg  DocumentConfig
	opts options

	m     sync.Mutex
	value *E
	sub   *Subscription[*E]
}

func NewDocument[E any](st store.Store, au auth.Provider, cfg DocumentConfig, opts ...Option) *DocumentSync[E] {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &DocumentSync[E]{st: st, au: au, cfg: cfg, opts: o}
}

func (b *DocumentSync[E]) Value() *E {
	b.m.Lock()
	defer b.m.Unlock()
	return b.value
}

func (b *DocumentSync[E]) publish(v *E) {
	b.m.Lock()
	b.value = v
	sub := b.sub
	b.m.Unlock()
	if sub != nil {
		sub.publish(v)
	}
}

func (b *DocumentSync[E]) Load(ctx context.Context) (*E, error) {
	ctx, span := tracer.Start(ctx, "bind.Document.Load",
		trace.WithAttributes(
			attribute.String("path", b.cfg.Path),
			attribute.String("id", b.cfg.DocID),
		))
	defer span.End()

	if b.opts.testing {
		if b.cfg.Fixture != nil {
			if v, ok := b.cfg.Fixture.(*E); ok {
				b.publish(v)
				return v, nil
			}
		}
		return b.Value(), nil
	}
	if b.au.Current() == nil {
		return b.Value(), nil
	}

	doc, err := b.st.Get(ctx, b.cfg.Path, b.cfg.DocID, b.cfg.Source)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		return nil, fmt.Errorf("load %s/%s: %w", b.cfg.Path, b.cfg.DocID, err)
	}
	if doc == nil {
		return b.Value(), nil
	}

	v, err := decodeDoc[E](*doc)
	if err != nil {
		log.Warn("skipping undecodable document", "path", b.cfg.Path, "id", doc.ID, "err", err)
		return b.Value(), nil
	}
	b.publish(v)
	return v, nil
}

func (b *DocumentSync[E]) Subscribe(ctx context.Context) *Subscription[*E] {
	b.m.Lock()
	if b.sub != nil {
		s := b.sub
		b.m.Unlock()
		return s
	}
	sub := newSubscription[*E]()
	b.sub = sub
	b.m.Unlock()

	teardown := authGated(b.au, func() (func(), error) {
		return b.st.ListenDoc(ctx, b.cfg.Path, b.cfg.DocID, func(doc *store.Document, err error) {
			if err != nil {
				sub.fail(err)
				return
			}
			if doc == nil {
				return
			}
			v, err := decodeDoc[E](*doc)
			if err != nil {
				log.Warn("skipping undecodable document", "path", b.cfg.Path, "id", doc.ID, "err", err)
				return
			}
			b.publish(v)
		})
	}, sub.fail)

	sub.setTeardown(func() {
		teardown()
		b.m.Lock()
		if b.sub == sub {
			b.sub = nil
		}
		b.m.Unlock()
	})
	context.AfterFunc(ctx, sub.Cancel)
	return sub
}

// Save writes the value to the fixed location with merge semantics.
// Signed out, it is a silent no-op.
func (b *DocumentSync[E]) Save(ctx context.Context, value *E) error {
	ctx, span := tracer.Start(ctx, "bind.Document.Save",
		trace.WithAttributes(
			attribute.String("path", b.cfg.Path),
			attribute.String("id", b.cfg.DocID),
		))
	defer span.End()

	if b.au.Current() == nil {
		return nil
	}

	_, data, err := encodeDoc(value)
	if err != nil {
		return fmt.Errorf("save %s/%s: encode: %w", b.cfg.Path, b.cfg.DocID, err)
	}

	batch := b.st.Batch()
	batch.Set(b.cfg.Path, b.cfg.DocID, data)
	if err := batch.Commit(ctx); err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		return fmt.Errorf("save %s/%s: %w", b.cfg.Path, b.cfg.DocID, err)
	}

	b.publish(value)
	return nil
}
