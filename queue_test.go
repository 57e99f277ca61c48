package netmux

import (
	"testing"
	"time"
)

func TestEventQueueStartIsFirst(t *testing.T) {
	q := NewEventQueue[string, string]()
	q.PushSignal("late")
	ev := q.PopEvent()
	if ev.Kind != KindStart {
		t.Fatalf("first PopEvent() = %v, want KindStart", ev.Kind)
	}
	ev = q.PopEvent()
	if ev.Kind != KindSignal || ev.Signal != "late" {
		t.Fatalf("second PopEvent() = %+v, want the queued signal", ev)
	}
}

func TestEventQueueImmediateFIFO(t *testing.T) {
	q := NewEventQueue[string, int]()
	_ = q.PopEvent() // Start

	for i := 0; i < 5; i++ {
		q.PushSignal(i)
	}
	for i := 0; i < 5; i++ {
		ev := q.PopEvent()
		if ev.Kind != KindSignal || ev.Signal != i {
			t.Fatalf("PopEvent() #%d = %+v, want signal %d", i, ev, i)
		}
	}
}

func TestEventQueueTimedOrdering(t *testing.T) {
	q := NewEventQueue[string, string]()
	_ = q.PopEvent() // Start

	q.PushTimedSignal("late", 40*time.Millisecond)
	q.PushTimedSignal("early", 5*time.Millisecond)

	first := q.PopEvent()
	if first.Signal != "early" {
		t.Fatalf("first timed signal = %q, want %q", first.Signal, "early")
	}
	second := q.PopEvent()
	if second.Signal != "late" {
		t.Fatalf("second timed signal = %q, want %q", second.Signal, "late")
	}
}

func TestEventQueueIdleFiresWhenEmpty(t *testing.T) {
	q := NewEventQueue[string, string](WithSamplingWindow[string, string](10 * time.Millisecond))
	_ = q.PopEvent() // Start

	ev := q.PopEvent()
	if ev.Kind != KindIdle {
		t.Fatalf("PopEvent() = %v, want KindIdle", ev.Kind)
	}
}

func TestEventQueuePushNetworkWakesPop(t *testing.T) {
	q := NewEventQueue[string, string](WithSamplingWindow[string, string](200 * time.Millisecond))
	_ = q.PopEvent() // Start

	done := make(chan Event[string, string], 1)
	go func() { done <- q.PopEvent() }()

	time.Sleep(5 * time.Millisecond)
	ep := newEndpoint(newResourceID(0, Remote, 0), nil)
	q.PushNetwork(ep, NetEvent[string]{Kind: NetMessage, Message: "hi"})

	select {
	case ev := <-done:
		if ev.Kind != KindNetwork || ev.Net.Message != "hi" {
			t.Fatalf("got %+v, want a NetMessage \"hi\"", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("PushNetwork did not wake a blocked PopEvent within the sampling window")
	}
}

func TestInputEventHandleSharesQueue(t *testing.T) {
	q := NewEventQueue[string, int]()
	_ = q.PopEvent() // Start
	h := q.Handle()
	h.PushSignal(7)
	ev := q.PopEvent()
	if ev.Signal != 7 {
		t.Fatalf("PopEvent() via handle-pushed signal = %d, want 7", ev.Signal)
	}
}
