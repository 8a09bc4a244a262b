package bind

import "sync"

// Subscription delivers value replacements and errors to one consumer.
// C is a latest-value channel: a consumer that lags sees the newest full
// result set, never a stale intermediate. Err drops when nobody drains
// it, matching the bus's at-most-once posture.
type Subscription[T any] struct {
	C   <-chan T
	Err <-chan error

	vals chan T
	errs chan error

	m        sync.Mutex
	stopped  bool
	teardown func()
	once     sync.Once
}

func newSubscription[T any]() *Subscription[T] {
	vals := make(chan T, 1)
	errs := make(chan error, 16)
	return &Subscription[T]{
		C:    vals,
		Err:  errs,
		vals: vals,
		errs: errs,
	}
}

func (s *Subscription[T]) publish(v T) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.vals <- v:
	default:
		select {
		case <-s.vals:
		default:
		}
		select {
		case s.vals <- v:
		default:
		}
	}
}

func (s *Subscription[T]) fail(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

// Cancel tears the subscription down exactly once: the live listener and
// the auth observer are removed and nothing is delivered afterwards.
// Idempotent and safe to call concurrently.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.m.Lock()
		s.stopped = true
		td := s.teardown
		s.m.Unlock()
		if td != nil {
			td()
		}
	})
}

func (s *Subscription[T]) setTeardown(td func()) {
	s.m.Lock()
	stopped := s.stopped
	s.teardown = td
	s.m.Unlock()
	// lost the race against an early Cancel
	if stopped && td != nil {
		td()
	}
}
