package eventlog

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"github.com/sipeed/gatewaybridge/pkg/logger"
)

// KafkaProducer publishes Records with a sync producer, keyed so that all
// events for one conversation_id land on the same partition and are
// therefore delivered in the order they were published (§4.C).
type KafkaProducer struct {
	producer sarama.SyncProducer
}

// NewKafkaProducer dials brokers and returns a ready producer.
func NewKafkaProducer(brokers []string) (*KafkaProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaProducer{producer: p}, nil
}

func (p *KafkaProducer) Publish(ctx context.Context, rec Record) error {
	msg := &sarama.ProducerMessage{
		Topic: rec.Topic,
		Value: sarama.ByteEncoder(rec.Value),
	}
	if rec.Key != "" {
		msg.Key = sarama.StringEncoder(rec.Key)
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

// KafkaConsumerGroup consumes topics as a named group member, committing an
// offset only once handler returns nil (§4.F: "the event-log offset for a
// partition is not advanced until the router has recorded a terminal
// outcome for every message up to that offset").
type KafkaConsumerGroup struct {
	group sarama.ConsumerGroup
}

// NewKafkaConsumerGroup dials brokers and joins groupID.
func NewKafkaConsumerGroup(brokers []string, groupID string) (*KafkaConsumerGroup, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRange()

	g, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaConsumerGroup{group: g}, nil
}

func (c *KafkaConsumerGroup) Consume(ctx context.Context, topics []string, handler Handler) error {
	h := &groupHandler{handler: handler}
	for {
		if err := c.group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WarnCF("eventlog", "consumer group session ended with error", map[string]any{"error": err.Error()})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *KafkaConsumerGroup) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			rec := Record{Topic: msg.Topic, Key: string(msg.Key), Value: msg.Value}
			if err := h.handler(sess.Context(), rec); err != nil {
				logger.ErrorCF("eventlog", "handler failed, offset withheld", map[string]any{
					"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset, "error": err.Error(),
				})
				// Ending the claim ends the session with this record unmarked,
				// so the next Consume round redelivers it before anything later.
				return err
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
