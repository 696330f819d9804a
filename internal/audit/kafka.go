package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaStore publishes audit events to a Kafka topic for downstream
// consumers (compliance archive, notification fan-out). It satisfies Store
// as a write-only sink; reads stay on the in-process store.
type KafkaStore struct {
	client *kgo.Client
	topic  string
}

// NewKafkaStore connects a franz-go producer. Returns nil when no brokers
// are configured so wiring stays optional.
func NewKafkaStore(brokers []string, topic string) (*KafkaStore, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaStore{client: client, topic: topic}, nil
}

func (s *KafkaStore) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Key:   []byte(event.OwnerID),
		Value: value,
		Topic: s.topic,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// ListByOwner is unsupported on the Kafka sink; replays happen downstream.
func (s *KafkaStore) ListByOwner(context.Context, string) ([]Event, error) {
	return nil, fmt.Errorf("kafka audit sink is write-only")
}

func (s *KafkaStore) Close() {
	s.client.Close()
}
