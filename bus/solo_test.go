package bus

import (
	"testing"
	"time"
)

func recvWithin(t *testing.T, ch <-chan []byte, d time.Duration) []byte {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(d):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestSoloBusPubSub(t *testing.T) {
	b := NewSolo()
	defer b.Close()

	ch1, cancel1 := b.Subscribe("things")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("things")
	defer cancel2()

	if err := b.Send("things", []byte("hello")); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	if got := string(recvWithin(t, ch1, time.Second)); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if got := string(recvWithin(t, ch2, time.Second)); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestSoloBusTopicIsolation(t *testing.T) {
	b := NewSolo()
	defer b.Close()

	ch, cancel := b.Subscribe("a")
	defer cancel()

	b.Send("b", []byte("wrong topic"))

	select {
	case v := <-ch:
		t.Errorf("received %q on unrelated topic", string(v))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSoloBusLaggingSubscriberGetsLatest(t *testing.T) {
	b := NewSolo()
	defer b.Close()

	ch, cancel := b.Subscribe("t")
	defer cancel()

	// nobody draining; buffer is 1, older messages are displaced
	b.Send("t", []byte("one"))
	b.Send("t", []byte("two"))
	b.Send("t", []byte("three"))

	if got := string(recvWithin(t, ch, time.Second)); got != "three" {
		t.Errorf("got %q, want latest message %q", got, "three")
	}
}

func TestSoloBusCancelIdempotent(t *testing.T) {
	b := NewSolo()
	defer b.Close()

	ch, cancel := b.Subscribe("t")
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	// sending after cancel must not panic or deliver
	if err := b.Send("t", []byte("x")); err != nil {
		t.Errorf("Send() after cancel failed: %v", err)
	}
}

func TestSoloBusClose(t *testing.T) {
	b := NewSolo()

	ch, cancel := b.Subscribe("t")
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after bus Close")
	}
	cancel() // must not panic after Close
}
