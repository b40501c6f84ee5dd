package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/ml"
)

const (
	DefaultSnapshotTopic = "model-snapshots"
	DefaultConsumerGroup = "hybrec-snapshot-reloaders"
)

// SnapshotEvent announces that a new model snapshot is available at Path.
type SnapshotEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	Version     string    `json:"version"`
	Path        string    `json:"path"`
	PublishedAt time.Time `json:"published_at"`
}

func (e SnapshotEvent) validate() error {
	if e.EventID == uuid.Nil {
		return errors.New("event_id is required")
	}
	if e.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of *kafka.Reader used by the listener.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reloader swaps in the snapshot stored in a directory.
type Reloader interface {
	Reload(ctx context.Context, dir string) (*ml.ModelSnapshot, error)
}

type SnapshotPublisher struct {
	writer MessageWriter
	topic  string
	logger *logrus.Logger
}

func NewSnapshotPublisher(cfg config.KafkaConfig, logger *logrus.Logger) *SnapshotPublisher {
	topic := snapshotTopic(cfg)
	return NewSnapshotPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, topic, logger)
}

func NewSnapshotPublisherWithWriter(writer MessageWriter, topic string, logger *logrus.Logger) *SnapshotPublisher {
	return &SnapshotPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish announces the snapshot at path. Events are keyed by version so
// repeated announcements of one version land on the same partition.
func (p *SnapshotPublisher) Publish(ctx context.Context, version, path string) (SnapshotEvent, error) {
	event := SnapshotEvent{
		EventID:     uuid.New(),
		Version:     version,
		Path:        path,
		PublishedAt: time.Now().UTC(),
	}
	if err := event.validate(); err != nil {
		return SnapshotEvent{}, fmt.Errorf("invalid snapshot event: %w", err)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return SnapshotEvent{}, fmt.Errorf("failed to marshal snapshot event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(version),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "version", Value: []byte(version)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithError(err).WithField("version", version).Error("Failed to publish snapshot event")
		return SnapshotEvent{}, fmt.Errorf("failed to write snapshot event to Kafka: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"version":  version,
		"path":     path,
		"topic":    p.topic,
	}).Info("Snapshot event published")

	return event, nil
}

func (p *SnapshotPublisher) Close() error {
	return p.writer.Close()
}

// SnapshotListener reloads the serving snapshot whenever an event arrives.
type SnapshotListener struct {
	reader     MessageReader
	groupID    string
	reloader   Reloader
	logger     *logrus.Logger
	maxRetries int
	baseDelay  time.Duration
}

func NewSnapshotListener(cfg config.KafkaConfig, reloader Reloader, logger *logrus.Logger) *SnapshotListener {
	group := InstanceGroupID(cfg)
	listener := NewSnapshotListenerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          snapshotTopic(cfg),
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	}), reloader, logger)
	listener.groupID = group
	return listener
}

// InstanceGroupID derives a consumer group owned by this process alone.
// Every replica must see every snapshot event, so replicas never share a
// group; the configured consumer_group is only the prefix.
func InstanceGroupID(cfg config.KafkaConfig) string {
	prefix := cfg.ConsumerGroup
	if prefix == "" {
		prefix = DefaultConsumerGroup
	}

	instance := uuid.NewString()[:8]
	if host, err := os.Hostname(); err == nil && host != "" {
		instance = host + "-" + instance
	}

	return prefix + "-" + instance
}

func NewSnapshotListenerWithReader(reader MessageReader, reloader Reloader, logger *logrus.Logger) *SnapshotListener {
	return &SnapshotListener{
		reader:     reader,
		reloader:   reloader,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  time.Second,
	}
}

// GroupID is the consumer group the listener joined, empty for injected readers.
func (l *SnapshotListener) GroupID() string {
	return l.groupID
}

// Run consumes snapshot events until ctx is cancelled or the reader is
// closed. Every fetched message is committed, including ones that could
// not be applied: a later event supersedes them.
func (l *SnapshotListener) Run(ctx context.Context) error {
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			l.logger.WithError(err).Error("Failed to read snapshot event from Kafka")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.baseDelay):
			}
			continue
		}

		var event SnapshotEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			l.logger.WithError(err).WithField("offset", msg.Offset).Error("Failed to unmarshal snapshot event")
		} else if err := event.validate(); err != nil {
			l.logger.WithError(err).WithField("offset", msg.Offset).Error("Discarding invalid snapshot event")
		} else if err := l.processWithRetry(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to apply snapshot event after retries")
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			l.logger.WithError(err).WithField("offset", msg.Offset).Warn("Failed to commit snapshot event")
		}
	}
}

func (l *SnapshotListener) processWithRetry(ctx context.Context, event SnapshotEvent) error {
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			delay := l.baseDelay * time.Duration(1<<uint(attempt-1))
			l.logger.WithFields(logrus.Fields{
				"event_id": event.EventID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying snapshot reload")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		snapshot, err := l.reloader.Reload(ctx, event.Path)
		if err != nil {
			lastErr = err
			continue
		}

		if event.Version != "" && snapshot.Version() != event.Version {
			l.logger.WithFields(logrus.Fields{
				"announced": event.Version,
				"loaded":    snapshot.Version(),
			}).Warn("Loaded snapshot version differs from the announced one")
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (l *SnapshotListener) Close() error {
	return l.reader.Close()
}

func snapshotTopic(cfg config.KafkaConfig) string {
	if cfg.Topics.Snapshots != "" {
		return cfg.Topics.Snapshots
	}
	return DefaultSnapshotTopic
}
