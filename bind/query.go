package bind

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aep/firebind/auth"
	"github.com/aep/firebind/query"
	"github.com/aep/firebind/store"
)

// authGated ties a live listener's existence to sign-in state: exactly
// one listener while authenticated, none while signed out, with the auth
// observer staying armed across sign-out so the next sign-in reopens the
// listener. The returned teardown removes both, exactly once per call
// path that reaches it.
func authGated(au auth.Provider, open func() (func(), error), fail func(error)) func() {
	var m sync.Mutex
	var stop func()
	var closed bool

	remove := au.Observe(func(u *auth.User) {
		m.Lock()
		defer m.Unlock()
		// a transition snapshotted by the provider before teardown may
		// still land here afterwards; it must not reopen a listener
		if closed {
			return
		}
		if u != nil {
			if stop != nil {
				return
			}
			cancel, err := open()
			if err != nil {
				fail(err)
				return
			}
			stop = cancel
		} else if stop != nil {
			stop()
			stop = nil
		}
	})

	return func() {
		m.Lock()
		closed = true
		if stop != nil {
			stop()
			stop = nil
		}
		m.Unlock()
		remove()
	}
}

// QueryBinding is the read-only binding: one-shot loads plus a live
// subscription that republishes the complete result set on every remote
// change. E is the consumer's record struct; values are decoded via JSON
// with the reserved "id" field carrying the document id.
type QueryBinding[E any] struct {
	st   store.Store
	au   auth.Provider
	cfg  *QueryConfig
	opts options

	m     sync.Mutex
	value []*E
	sub   *Subscription[[]*E]
}

// NewQuery constructs a binding. cfg may be nil when the request declines
// to describe a query; such a binding only ever yields its prior value.
func NewQuery[E any](st store.Store, au auth.Provider, cfg *QueryConfig, opts ...Option) *QueryBinding[E] {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &QueryBinding[E]{st: st, au: au, cfg: cfg, opts: o}
}

func (b *QueryBinding[E]) path() string {
	if b.opts.custom != nil {
		return b.opts.customPath
	}
	if b.cfg != nil {
		return b.cfg.Path
	}
	return ""
}

func (b *QueryBinding[E]) compiled() query.Compiled {
	if b.opts.custom != nil {
		return b.opts.custom()
	}
	if b.cfg != nil {
		return b.cfg.compile()
	}
	return query.Compiled{}
}

func (b *QueryBinding[E]) source() store.Source {
	if b.cfg != nil {
		return b.cfg.Source
	}
	return store.SourceDefault
}

// Value returns the last published result set.
func (b *QueryBinding[E]) Value() []*E {
	b.m.Lock()
	defer b.m.Unlock()
	return b.value
}

func (b *QueryBinding[E]) publish(v []*E) {
	b.m.Lock()
	b.value = v
	sub := b.sub
	b.m.Unlock()
	if sub != nil {
		sub.publish(v)
	}
}

// Load performs a one-shot fetch, republishes the full decoded collection
// and returns it. Without a configuration, under a test run, or while
// signed out it resolves with the prior value (a fixture under test if
// configured) and never touches the network.
func (b *QueryBinding[E]) Load(ctx context.Context) ([]*E, error) {
	ctx, span := tracer.Start(ctx, "bind.Query.Load",
		trace.WithAttributes(attribute.String("path", b.path())))
	defer span.End()

	if b.cfg == nil && b.opts.custom == nil {
		return b.Value(), nil
	}
	if b.opts.testing {
		if b.cfg != nil && b.cfg.Fixture != nil {
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

	docs, err := b.st.Query(ctx, b.path(), b.compiled(), b.source())
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		return nil, fmt.Errorf("load %s: %w", b.path(), err)
	}

	vals := decodeAll[E](b.path(), docs)
	b.publish(vals)
	return vals, nil
}

// Subscribe opens the live subscription. Calling it again while one is
// active returns the same subscription; a binding never holds more than
// one listener. Cancellation of ctx cancels the subscription.
func (b *QueryBinding[E]) Subscribe(ctx context.Context) *Subscription[[]*E] {
	b.m.Lock()
	if b.sub != nil {
		s := b.sub
		b.m.Unlock()
		return s
	}
	sub := newSubscription[[]*E]()
	b.sub = sub
	b.m.Unlock()

	drop := func() {
		b.m.Lock()
		if b.sub == sub {
			b.sub = nil
		}
		b.m.Unlock()
	}

	if b.cfg == nil && b.opts.custom == nil {
		sub.setTeardown(drop)
		return sub
	}

	teardown := authGated(b.au, func() (func(), error) {
		return b.st.Listen(ctx, b.path(), b.compiled(), func(docs []store.Document, err error) {
			if err != nil {
				sub.fail(err)
				return
			}
			b.publish(decodeAll[E](b.path(), docs))
		})
	}, sub.fail)

	sub.setTeardown(func() {
		teardown()
		drop()
	})
	context.AfterFunc(ctx, sub.Cancel)
	return sub
}
