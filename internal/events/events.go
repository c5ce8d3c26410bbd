// Package events fans dispatch outcomes out to Kafka for downstream
// consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"frameworks/bosun/pkg/logging"
)

const (
	TypeContentPublished = "content.published"
	TypeReplyPublished   = "reply.published"

	DefaultTopic = "bosun_events"
)

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	ProduceJSON(ctx context.Context, topic string, key string, value any, headers map[string]string) error
}

type Envelope struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type ContentPublished struct {
	RunID        string   `json:"run_id"`
	SlotIndex    int      `json:"slot_index"`
	DryRun       bool     `json:"dry_run"`
	TopicName    string   `json:"topic_name"`
	TopicAddress string   `json:"topic_address,omitempty"`
	PrimaryID    string   `json:"primary_id"`
	ReplyIDs     []string `json:"reply_ids"`
	Posts        []string `json:"posts"`
}

type ReplyPublished struct {
	InReplyTo string `json:"in_reply_to"`
	ReplyID   string `json:"reply_id"`
	Text      string `json:"text"`
	DryRun    bool   `json:"dry_run"`
}

// Publisher emits best-effort events. A nil *Publisher drops everything.
type Publisher struct {
	producer Producer
	topic    string
	logger   logging.Logger
	now      func() time.Time
}

func NewPublisher(producer Producer, topic string, logger logging.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Publisher{producer: producer, topic: topic, logger: logger, now: time.Now}
}

func (p *Publisher) ContentPublished(ctx context.Context, evt ContentPublished) {
	p.emit(ctx, TypeContentPublished, evt.PrimaryID, evt)
}

func (p *Publisher) ReplyPublished(ctx context.Context, evt ReplyPublished) {
	p.emit(ctx, TypeReplyPublished, evt.InReplyTo, evt)
}

func (p *Publisher) emit(ctx context.Context, eventType, key string, data any) {
	if p == nil || p.producer == nil {
		return
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		Type:       eventType,
		Source:     "bosun",
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	headers := map[string]string{"event_type": eventType, "source": "bosun"}
	if err := p.producer.ProduceJSON(ctx, p.topic, key, env, headers); err != nil {
		emittedTotal.WithLabelValues(eventType, "error").Inc()
		p.logger.WithError(err).WithFields(logging.Fields{
			"event_type": eventType,
			"topic":      p.topic,
		}).Warn("Events: failed to publish event")
		return
	}
	emittedTotal.WithLabelValues(eventType, "ok").Inc()
}
