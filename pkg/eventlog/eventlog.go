// Package eventlog is the client surface for the Event Log (spec.md §4.C):
// a partitioned, replicated, append-only log with per-partition total order,
// at-least-once delivery to a named consumer group, durable offsets, and
// configurable retention. The production implementation is Kafka via
// github.com/IBM/sarama; a Fake in-memory implementation backs unit tests
// for Ingress and Router without a live broker.
package eventlog

import "context"

// Record is one append in a topic, keyed for partitioning (§4.C: "the
// partitioner is a pure function of the key").
type Record struct {
	Topic string
	Key   string // conversation_id for chat-events and status-updates
	Value []byte
}

// Producer publishes Records to the log.
type Producer interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Handler processes one Record. Returning an error leaves the offset
// uncommitted so at-least-once redelivery can occur (§4.F crash semantics).
type Handler func(ctx context.Context, rec Record) error

// ConsumerGroup consumes topics as a member of a named group, handing each
// Record to handler sequentially per partition (§4.F, §5: "strictly serial
// within a single event-log partition"). Consume blocks until ctx is
// cancelled or an unrecoverable error occurs.
type ConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler Handler) error
	Close() error
}
