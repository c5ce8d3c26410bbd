package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"frameworks/bosun/pkg/logging"
)

const produceTimeout = 5 * time.Second

// Producer is a thin synchronous wrapper over a franz-go client.
type Producer struct {
	client *kgo.Client
	logger logging.Logger
}

// NewProducer connects to the seed brokers. The client dials lazily, so an
// unreachable cluster surfaces on the first produce or Ping.
func NewProducer(brokers []string, clientID string, logger logging.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

func (p *Producer) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Close()
}

// Client returns the underlying kgo.Client for health checks.
func (p *Producer) Client() *kgo.Client {
	if p == nil {
		return nil
	}
	return p.client
}

// ProduceJSON marshals value and produces it synchronously.
func (p *Producer) ProduceJSON(ctx context.Context, topic string, key string, value any, headers map[string]string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	ctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}
