package repository

import (
	"context"
	"fmt"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	pkgkafka "TrendConfirm/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

// Publisher is the part of pkg/kafka.Producer the adapters need.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}, headers ...kafka.Header) error
	Close() error
}

var _ Publisher = (*pkgkafka.Producer)(nil)

// KafkaSignalPublisher writes order intents keyed by symbol so a consumer
// sees one symbol's intents in order.
type KafkaSignalPublisher struct {
	producer Publisher
	topic    string
}

func NewKafkaSignalPublisher(p Publisher, topic string) *KafkaSignalPublisher {
	return &KafkaSignalPublisher{producer: p, topic: topic}
}

var _ domrepo.SignalPublisher = (*KafkaSignalPublisher)(nil)

func (p *KafkaSignalPublisher) PublishIntent(ctx context.Context, in models.OrderIntent) error {
	sig := in.Signal
	err := p.producer.Publish(ctx, p.topic, []byte(sig.Symbol), in,
		kafka.Header{Key: "signal_id", Value: []byte(sig.ID)},
		kafka.Header{Key: "direction", Value: []byte(sig.Direction.String())},
	)
	if err != nil {
		return fmt.Errorf("publish intent %s: %w", sig.ID, err)
	}
	return nil
}

func (p *KafkaSignalPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaDegradedNotifier reports classifier bypasses to a monitoring topic.
type KafkaDegradedNotifier struct {
	producer Publisher
	topic    string
}

func NewKafkaDegradedNotifier(p Publisher, topic string) *KafkaDegradedNotifier {
	return &KafkaDegradedNotifier{producer: p, topic: topic}
}

var _ domrepo.DegradedNotifier = (*KafkaDegradedNotifier)(nil)

func (n *KafkaDegradedNotifier) NotifyDegraded(ctx context.Context, ev models.DegradedEvent) error {
	return n.producer.Publish(ctx, n.topic, []byte(ev.Symbol), ev,
		kafka.Header{Key: "reason", Value: []byte(ev.Reason)})
}
