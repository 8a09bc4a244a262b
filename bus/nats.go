package bus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NatsBus carries change notifications over core NATS pub/sub, for a
// memory store that several processes share (for example the dev server
// plus a watching CLI).
type NatsBus struct {
	nc *nats.Conn

	m    sync.Mutex
	subs []*nats.Subscription
}

func ConnectNats(url string) (*NatsBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsBus{nc: nc}, nil
}

func subject(topic string) string {
	return "firebind.change." + strings.ReplaceAll(topic, "/", ".")
}

func (self *NatsBus) Send(topic string, v []byte) error {
	return self.nc.Publish(subject(topic), v)
}

func (self *NatsBus) Subscribe(topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	sub, err := self.nc.Subscribe(subject(topic), func(m *nats.Msg) {
		select {
		case ch <- m.Data:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- m.Data:
			default:
			}
		}
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	self.m.Lock()
	self.subs = append(self.subs, sub)
	self.m.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			sub.Unsubscribe()
			close(ch)
		})
	}
	return ch, cancel
}

func (self *NatsBus) Close() {
	self.m.Lock()
	subs := self.subs
	self.subs = nil
	self.m.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	self.nc.Close()
}
