// Package notify publishes recording lifecycle events to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/recordings"
)

// DefaultTopic receives recording lifecycle events.
const DefaultTopic = "recording.events"

const source = "classroom-api"

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RecordingEvent is the message value written for each lifecycle event.
type RecordingEvent struct {
	Type        string                 `json:"type"`
	RecordingID string                 `json:"recording_id"`
	CourseID    string                 `json:"course_id"`
	SessionID   string                 `json:"session_id,omitempty"`
	Status      models.RecordingStatus `json:"status"`
	Reason      string                 `json:"failure_reason,omitempty"`
	ArtifactKey string                 `json:"artifact_key,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Source      string                 `json:"source"`
}

// KafkaPublisher implements recordings.Notifier on a Kafka topic keyed by course id, so a
// course's events stay ordered within one partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter builds a synchronous writer for brokers (comma separated) and topic.
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaPublisher wraps writer.
func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish writes one lifecycle event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev recordings.LifecycleEvent) error {
	rec := ev.Recording
	body, err := json.Marshal(RecordingEvent{
		Type:        ev.Type,
		RecordingID: rec.ID,
		CourseID:    rec.CourseID,
		SessionID:   rec.SessionID,
		Status:      rec.Status,
		Reason:      rec.FailureReason,
		ArtifactKey: rec.ArtifactKey,
		Timestamp:   ev.At,
		Source:      source,
	})
	if err != nil {
		return fmt.Errorf("marshal recording event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.CourseID),
		Value: body,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	p.logger.Debug("recording event published", zap.String("type", ev.Type), zap.String("recording_id", rec.ID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
