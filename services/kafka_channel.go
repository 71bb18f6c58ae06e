package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safewalk/models"

	"github.com/segmentio/kafka-go"
)

// kafkaWriter abstracts *kafka.Writer so tests can capture messages.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel forwards alerts onto the monitoring center's topic.
// The center consumes the topic and handles escalation on its side.
type KafkaChannel struct {
	writer kafkaWriter
	topic  string
}

type dispatchCenterEvent struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId"`
	UserID    string                 `json:"userId"`
	Severity  models.AlertSeverity   `json:"severity"`
	Message   string                 `json:"message"`
	Location  *models.LocationSample `json:"location,omitempty"`
	Tier      models.AccuracyTier    `json:"accuracyTier,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	SentAt    time.Time              `json:"sentAt"`
}

func NewKafkaChannel(brokers []string, topic string) *KafkaChannel {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaChannel{writer: writer, topic: topic}
}

func (c *KafkaChannel) Type() string { return models.ChannelTypeDispatchCenter }

func (c *KafkaChannel) Targets([]models.Contact) []string {
	if c.topic == "" {
		return nil
	}
	return []string{c.topic}
}

func (c *KafkaChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	event := dispatchCenterEvent{
		Type:      "sos_alert",
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		Severity:  msg.Severity,
		Message:   msg.Body,
		Location:  msg.Location,
		CreatedAt: msg.CreatedAt,
		SentAt:    time.Now().UTC(),
	}
	if msg.Location != nil {
		event.Tier = msg.Location.Tier()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode dispatch event: %w", err)
	}

	// Keyed by user so one user's alerts stay ordered on a partition.
	if err := c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "sessionId", Value: []byte(msg.SessionID)},
		},
	}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (c *KafkaChannel) Close() error {
	return c.writer.Close()
}
