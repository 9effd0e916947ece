package testlink

import (
	"testing"
	"time"
)

func TestConnPairEcho(t *testing.T) {
	a, b := NewConnPair()
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 5)
		n, err := b.Read(buf)
		if err != nil {
			t.Errorf("Read: %v", err)
			return
		}
		if string(buf[:n]) != "hello" {
			t.Errorf("got %q, want hello", buf[:n])
		}
	}()

	if _, err := a.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	s1 := bus.Subscribe()
	s2 := bus.Subscribe()
	defer s1.Close()
	defer s2.Close()

	bus.Publish([]byte("join"))

	for _, s := range []*Subscription{s1, s2} {
		select {
		case got := <-s.Recv():
			if string(got) != "join" {
				t.Fatalf("got %q", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out")
		}
	}
}
