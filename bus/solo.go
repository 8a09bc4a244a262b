package bus

import "sync"

type soloSub struct {
	ch   chan []byte
	once sync.Once
}

// SoloBus is the single process implementation. Sends never block: a
// subscriber whose buffer is full loses the oldest pending message, which
// keeps publishers decoupled from slow consumers.
type SoloBus struct {
	m      sync.Mutex
	closed bool
	subs   map[string][]*soloSub
}

func NewSolo() *SoloBus {
	return &SoloBus{
		subs: make(map[string][]*soloSub),
	}
}

func (self *SoloBus) Send(topic string, v []byte) error {
	self.m.Lock()
	defer self.m.Unlock()

	for _, sub := range self.subs[topic] {
		select {
		case sub.ch <- v:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- v:
			default:
			}
		}
	}
	return nil
}

func (self *SoloBus) Subscribe(topic string) (<-chan []byte, func()) {
	self.m.Lock()
	defer self.m.Unlock()

	sub := &soloSub{ch: make(chan []byte, 1)}
	if self.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	self.subs[topic] = append(self.subs[topic], sub)

	cancel := func() {
		self.m.Lock()
		defer self.m.Unlock()
		sub.once.Do(func() {
			list := self.subs[topic]
			for i, s := range list {
				if s == sub {
					self.subs[topic] = append(list[:i], list[i+1:]...)
					break
				}
			}
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

func (self *SoloBus) Close() {
	self.m.Lock()
	defer self.m.Unlock()
	if self.closed {
		return
	}
	self.closed = true
	for _, list := range self.subs {
		for _, sub := range list {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	self.subs = make(map[string][]*soloSub)
}
