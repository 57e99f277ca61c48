package netmux

import (
	"container/heap"
	"sync"
	"time"
)

// EventKind discriminates the four things PopEvent can return (spec §3
// "EventQueue<Msg, Sig, Ep>").
type EventKind int

const (
	// KindStart is delivered exactly once, as the very first pop.
	KindStart EventKind = iota
	// KindNetwork wraps a decoded NetEvent pushed by the engine's
	// callback bridge.
	KindNetwork
	// KindSignal wraps an application-pushed Signal (immediate or
	// timed).
	KindSignal
	// KindIdle is synthesized when the sampling window elapses with
	// nothing else to pop.
	KindIdle
)

// NetEventKind discriminates the three network-level events.
type NetEventKind int

const (
	// NetConnected is delivered once per accepted or connected peer.
	NetConnected NetEventKind = iota
	// NetMessage wraps one decoded application message.
	NetMessage
	// NetDisconnected is delivered at most once per peer (never after
	// the engine is dropped first, and never before NetConnected).
	NetDisconnected
)

// NetEvent is the decoded, application-level counterpart of AdapterEvent.
// Decoding raw bytes into Msg is the application's job (no built-in
// codec, per spec §4.4); by the time a NetEvent reaches the EventQueue,
// decoding has already happened in the engine's callback bridge.
type NetEvent[Msg any] struct {
	Kind       NetEventKind
	ListenerID ResourceID // set on NetConnected for accepted peers; zero for outbound connects
	Message    Msg
}

// Event is one item popped from the EventQueue.
type Event[Msg, Sig any] struct {
	Kind     EventKind
	Endpoint Endpoint     // set on KindNetwork
	Net      NetEvent[Msg]
	Signal   Sig
}

type timedItem[Sig any] struct {
	deadline time.Time
	seq      uint64
	value    Sig
}

// timedHeap is a min-heap ordered by (deadline, seq): the earliest
// deadline wins; ties break FIFO by push order, matching spec §3's
// ordering guarantee.
type timedHeap[Sig any] []timedItem[Sig]

func (h timedHeap[Sig]) Len() int { return len(h) }
func (h timedHeap[Sig]) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timedHeap[Sig]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timedHeap[Sig]) Push(x interface{}) { *h = append(*h, x.(timedItem[Sig])) }
func (h *timedHeap[Sig]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EventQueue is the single-consumer, multi-producer queue merging
// network events, application signals (immediate or timed), Start and
// Idle (spec §3/§4.5). Every push method is safe to call from any
// goroutine; PopEvent is meant to be called by exactly one consumer.
type EventQueue[Msg, Sig any] struct {
	mu              sync.Mutex
	startPending    bool
	immediate       []Event[Msg, Sig]
	timed           timedHeap[Sig]
	seq             uint64
	notify          chan struct{}
	samplingTimeout time.Duration
}

// QueueOption configures an EventQueue at construction time.
type QueueOption[Msg, Sig any] func(*EventQueue[Msg, Sig])

// WithSamplingWindow overrides the default 50ms Idle sampling window.
func WithSamplingWindow[Msg, Sig any](d time.Duration) QueueOption[Msg, Sig] {
	return func(q *EventQueue[Msg, Sig]) { q.samplingTimeout = d }
}

// NewEventQueue creates a queue with the Start latch set.
func NewEventQueue[Msg, Sig any](opts ...QueueOption[Msg, Sig]) *EventQueue[Msg, Sig] {
	q := &EventQueue[Msg, Sig]{
		startPending:    true,
		notify:          make(chan struct{}, 1),
		samplingTimeout: defaultSamplingTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *EventQueue[Msg, Sig]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// PushSignal enqueues s for immediate (FIFO) delivery.
func (q *EventQueue[Msg, Sig]) PushSignal(s Sig) {
	q.mu.Lock()
	q.immediate = append(q.immediate, Event[Msg, Sig]{Kind: KindSignal, Signal: s})
	q.mu.Unlock()
	q.wake()
}

// PushTimedSignal schedules s to become eligible at now+d. Monotonic
// clock (time.Now()/time.Time arithmetic is already monotonic in Go).
func (q *EventQueue[Msg, Sig]) PushTimedSignal(s Sig, d time.Duration) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.timed, timedItem[Sig]{deadline: time.Now().Add(d), seq: q.seq, value: s})
	q.mu.Unlock()
	q.wake()
}

// PushNetwork enqueues a decoded network event. This is what the
// engine's AdapterEvent-to-NetEvent callback bridge calls.
func (q *EventQueue[Msg, Sig]) PushNetwork(ep Endpoint, ne NetEvent[Msg]) {
	q.mu.Lock()
	q.immediate = append(q.immediate, Event[Msg, Sig]{Kind: KindNetwork, Endpoint: ep, Net: ne})
	q.mu.Unlock()
	q.wake()
}

// PopEvent blocks until an event is available, following the ordering in
// spec §4.5: Start once, then ripe timed signals promoted in deadline
// order, then the immediate FIFO, then Idle once a full sampling window
// elapses with nothing else available.
func (q *EventQueue[Msg, Sig]) PopEvent() Event[Msg, Sig] {
	q.mu.Lock()
	if q.startPending {
		q.startPending = false
		q.mu.Unlock()
		return Event[Msg, Sig]{Kind: KindStart}
	}
	q.mu.Unlock()

	for {
		q.mu.Lock()
		now := time.Now()
		for q.timed.Len() > 0 && !q.timed[0].deadline.After(now) {
			item := heap.Pop(&q.timed).(timedItem[Sig])
			q.immediate = append(q.immediate, Event[Msg, Sig]{Kind: KindSignal, Signal: item.value})
		}
		if len(q.immediate) > 0 {
			ev := q.immediate[0]
			q.immediate = q.immediate[1:]
			q.mu.Unlock()
			return ev
		}
		wait := q.samplingTimeout
		if q.timed.Len() > 0 {
			if d := q.timed[0].deadline.Sub(now); d < wait {
				wait = d
			}
		}
		q.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			q.mu.Lock()
			nothingReady := len(q.immediate) == 0 &&
				(q.timed.Len() == 0 || q.timed[0].deadline.After(time.Now()))
			q.mu.Unlock()
			if nothingReady {
				return Event[Msg, Sig]{Kind: KindIdle}
			}
		}
	}
}

// InputEventHandle is a cheap, cloneable sender handle onto an
// EventQueue: copying it by value shares the underlying queue, matching
// spec §4.5's "cloneable sender half". It is the only capability the
// engine/callback bridge needs.
type InputEventHandle[Msg, Sig any] struct {
	q *EventQueue[Msg, Sig]
}

// Handle returns a sender handle for q.
func (q *EventQueue[Msg, Sig]) Handle() InputEventHandle[Msg, Sig] {
	return InputEventHandle[Msg, Sig]{q: q}
}

// PushSignal delegates to the underlying queue.
func (h InputEventHandle[Msg, Sig]) PushSignal(s Sig) { h.q.PushSignal(s) }

// PushTimedSignal delegates to the underlying queue.
func (h InputEventHandle[Msg, Sig]) PushTimedSignal(s Sig, d time.Duration) {
	h.q.PushTimedSignal(s, d)
}

// PushNetwork delegates to the underlying queue.
func (h InputEventHandle[Msg, Sig]) PushNetwork(ep Endpoint, ne NetEvent[Msg]) {
	h.q.PushNetwork(ep, ne)
}
