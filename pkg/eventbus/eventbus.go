package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedshop-rewards/pkg/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	RewardGranted = "reward.granted"
	LevelChanged  = "level.changed"
	BadgeAwarded  = "badge.awarded"
	PointsExpired = "points.expired"
)

type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

func NewEvent(eventType, userID string, payload any) Event {
	return Event{Type: eventType, UserID: userID, OccurredAt: time.Now().UTC(), Payload: payload}
}

// Publisher emits domain events for downstream consumers (notifications, analytics).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

var Module = fx.Module("eventbus",
	fx.Provide(NewPublisher),
)

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// NewPublisher returns a Kafka publisher when KAFKA.ADDRS is set and a no-op publisher otherwise.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config) (Publisher, error) {
	if cfg.Kafka.Addrs == "" {
		zap.L().Info("[Kafka] no brokers configured, domain events are dropped")
		return Nop{}, nil
	}

	p, err := NewKafkaPublisher(cfg.Kafka.Addrs, cfg.Kafka.Topic, cfg.AppName)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Close()
			return nil
		},
	})

	return p, nil
}

type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaPublisher(brokers, topic, clientID string) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"client.id":          clientID,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &KafkaPublisher{producer: producer, topic: topic}
	go p.drainDeliveryReports()

	zap.L().Info("[Kafka] producer ready", zap.String("brokers", brokers), zap.String("topic", topic))
	return p, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Type, err)
	}

	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.UserID),
		Value:          value,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(e.Type)}},
	}, nil)
}

func (p *KafkaPublisher) drainDeliveryReports() {
	for ev := range p.producer.Events() {
		msg, ok := ev.(*kafka.Message)
		if !ok {
			continue
		}
		if msg.TopicPartition.Error != nil {
			zap.L().Error("[Kafka] delivery failed",
				zap.String("key", string(msg.Key)),
				zap.Error(msg.TopicPartition.Error),
			)
		}
	}
}

func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		zap.L().Warn("[Kafka] unflushed messages on shutdown", zap.Int("remaining", remaining))
	}
	p.producer.Close()
}
