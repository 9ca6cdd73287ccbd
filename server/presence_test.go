package server

import "testing"

func testClientWithBuffer(n int) *client {
	return &client{out: make(chan []byte, n)}
}

func TestPresencePushAndOffline(t *testing.T) {
	p := NewPresence()
	c := testClientWithBuffer(2)

	if p.Push(1, []byte("x")) {
		t.Error("push to absent id should fail")
	}

	p.SetOnline(1, c)
	if !p.Push(1, []byte("a")) {
		t.Error("push to online id should succeed")
	}
	if got := string(<-c.out); got != "a" {
		t.Errorf("unexpected frame: %q", got)
	}

	p.SetOffline(1, c)
	if p.Push(1, []byte("b")) {
		t.Error("push after offline should fail")
	}
	if _, ok := <-c.out; ok {
		t.Error("expected channel closed after offline")
	}
}

func TestPresencePushFullBufferIsOffline(t *testing.T) {
	p := NewPresence()
	c := testClientWithBuffer(1)
	p.SetOnline(1, c)

	if !p.Push(1, []byte("a")) {
		t.Fatal("first push should succeed")
	}
	// Nothing drains the queue: the peer counts as offline.
	if p.Push(1, []byte("b")) {
		t.Error("push to full buffer should fail")
	}
}

func TestPresenceDisplacementClosesOldChannel(t *testing.T) {
	p := NewPresence()
	first := testClientWithBuffer(2)
	second := testClientWithBuffer(2)

	p.SetOnline(1, first)
	p.SetOnline(1, second)

	if _, ok := <-first.out; ok {
		t.Error("expected displaced channel closed")
	}
	if !p.Push(1, []byte("x")) {
		t.Fatal("push should reach the newer client")
	}
	if got := string(<-second.out); got != "x" {
		t.Errorf("unexpected frame: %q", got)
	}

	// The displaced session's cleanup must not evict the newer entry.
	p.SetOffline(1, first)
	if !p.Push(1, []byte("y")) {
		t.Error("newer client should still be online")
	}
}

func TestPresenceBroadcastExceptsSender(t *testing.T) {
	p := NewPresence()
	a := testClientWithBuffer(2)
	b := testClientWithBuffer(2)
	c := testClientWithBuffer(2)
	p.SetOnline(1, a)
	p.SetOnline(2, b)
	p.SetOnline(3, c)

	p.Broadcast(1, []byte("hi"))

	select {
	case <-a.out:
		t.Error("sender should not receive its own broadcast")
	default:
	}
	if got := string(<-b.out); got != "hi" {
		t.Errorf("unexpected frame for b: %q", got)
	}
	if got := string(<-c.out); got != "hi" {
		t.Errorf("unexpected frame for c: %q", got)
	}
}
