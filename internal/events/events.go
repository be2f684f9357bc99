package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/logging"
	"stockia/backend/internal/xid"
)

// Publisher announces inventory and catalog changes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event domain.InventoryEvent) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, domain.InventoryEvent) error { return nil }
func (Noop) Close() error { return nil }

// Envelope is the message body written to the topic.
type Envelope struct {
	EventID   string                `json:"event_id"`
	EventType domain.EventType      `json:"event_type"`
	Payload   domain.InventoryEvent `json:"payload"`
	Timestamp time.Time             `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultPublishTimeout bounds one Publish call. Callers publish while
// holding per-user state, so a dead broker must not stall them for long.
const DefaultPublishTimeout = 2 * time.Second

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaPublisher writes to topic keyed by owner so one owner's events stay
// ordered within a partition.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
			MaxAttempts:            3,
			WriteTimeout:           DefaultPublishTimeout,
		},
		timeout: DefaultPublishTimeout,
		logger:  logging.OrNop(logger).Named("events"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.InventoryEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	body, err := json.Marshal(Envelope{
		EventID:   xid.New("evt"),
		EventType: event.Type,
		Payload:   event,
		Timestamp: event.At,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.Owner), Value: body}); err != nil {
		p.logger.Error("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
