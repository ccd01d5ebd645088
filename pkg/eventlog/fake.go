package eventlog

import (
	"context"
	"sync"
)

// Fake is an in-memory stand-in for the Event Log used by component tests
// that need a real Producer/ConsumerGroup pair without a broker. It
// preserves the one invariant callers depend on: all Records sharing a key
// are delivered to a given consumer in publish order, on one goroutine at a
// time, modelling single-partition ownership (§4.C, §4.F).
type Fake struct {
	mu     sync.Mutex
	queues map[string][]Record // by topic
	notify chan struct{}
	closed bool
}

// NewFake returns a ready Fake. The same value implements both Producer and
// ConsumerGroup so tests can wire one object into both roles.
func NewFake() *Fake {
	return &Fake{
		queues: make(map[string][]Record),
		notify: make(chan struct{}, 1),
	}
}

func (f *Fake) Publish(ctx context.Context, rec Record) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errClosed
	}
	f.queues[rec.Topic] = append(f.queues[rec.Topic], rec)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

// Consume drains the requested topics in strict per-key order until ctx is
// cancelled. Ordering across distinct keys is not guaranteed, matching a
// real partitioned log where unrelated keys may land on different
// partitions.
func (f *Fake) Consume(ctx context.Context, topics []string, handler Handler) error {
	want := make(map[string]bool, len(topics))
	for _, t := range topics {
		want[t] = true
	}

	for {
		rec, ok := f.pop(want)
		if ok {
			if err := handler(ctx, rec); err != nil {
				// At-least-once: requeue at the head, same as a broker
				// redelivering an uncommitted offset before any later record.
				f.mu.Lock()
				f.queues[rec.Topic] = append([]Record{rec}, f.queues[rec.Topic]...)
				f.mu.Unlock()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.notify:
		}
	}
}

func (f *Fake) pop(want map[string]bool) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, q := range f.queues {
		if !want[topic] || len(q) == 0 {
			continue
		}
		rec := q[0]
		f.queues[topic] = q[1:]
		return rec, true
	}
	return Record{}, false
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Drain returns and clears every Record currently queued on topic, useful
// for assertions without spinning up a Consume goroutine.
func (f *Fake) Drain(topic string) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queues[topic]
	f.queues[topic] = nil
	return out
}

var errClosed = fakeClosedError{}

type fakeClosedError struct{}

func (fakeClosedError) Error() string { return "eventlog: fake producer closed" }
