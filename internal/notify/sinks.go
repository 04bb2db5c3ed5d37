package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/imrishuroy/go-order-payments/internal/aws"
)

// SQSSink enqueues notifications for the worker, which persists them.
type SQSSink struct {
	pub *aws.Publisher
}

func NewSQSSink(pub *aws.Publisher) *SQSSink {
	return &SQSSink{pub: pub}
}

func (s *SQSSink) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.pub.Send(ctx, aws.Message{
		Body:    string(body),
		GroupID: n.UserID,
		DedupID: n.ID,
		Attributes: map[string]string{
			"notification_id": n.ID,
			"role":            string(n.Role),
		},
	})
}

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications keyed by user id so one user's messages
// stay ordered within a partition.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

// NewKafkaWriter builds a writer for a comma separated broker list.
func NewKafkaWriter(brokersCSV, topic string) *kafka.Writer {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (s *KafkaSink) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.UserID),
		Value: data,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "notification_id", Value: []byte(n.ID)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }

// LogSink writes notifications to the log. Used when no transport is
// configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, n Notification) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("role", string(n.Role)),
		slog.String("message", n.Message),
		slog.String("link", n.Link))
	return nil
}
