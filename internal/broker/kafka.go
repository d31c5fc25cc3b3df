// Package broker ships records and abandoned tasks to kafka for downstream
// consumers.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/telemetry"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

func newWriter(cfg *config.ProducerConfig, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
}

// KafkaSink publishes each committed record to the write topic, keyed by the
// hashed profile reference so records for one profile land on one partition.
type KafkaSink struct {
	writer  *kafka.Writer
	metrics *telemetry.SinkMetrics
}

func NewKafkaSink(cfg *config.ProducerConfig, metrics *telemetry.SinkMetrics) *KafkaSink {
	slog.Info("starting kafka record sink.", slog.String("topic", cfg.WriteTopicName))
	return &KafkaSink{
		writer:  newWriter(cfg, cfg.WriteTopicName),
		metrics: metrics,
	}
}

func (s *KafkaSink) Write(rec *model.Record) error {
	body, err := jsoniter.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	err = s.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(internal.HashURL(string(rec.SourceReference))),
		Value: body,
	})
	if err != nil {
		s.metrics.FailedSentCnt(1)
		return fmt.Errorf("send record to kafka: %w", err)
	}
	s.metrics.SuccessfullySentCnt(1)
	return nil
}

func (s *KafkaSink) Close() error {
	slog.Info("stopping kafka record sink.")
	return s.writer.Close()
}

// DeadLetterClient publishes tasks that exhausted their retry budget so they
// can be inspected or replayed later. A nil client is valid and drops
// everything.
type DeadLetterClient struct {
	writer *kafka.Writer
	topic  string
}

func NewDeadLetterClient(cfg *config.ProducerConfig) *DeadLetterClient {
	if cfg == nil || cfg.DeadLetterTopicName == "" {
		return nil
	}
	slog.Info("starting dead-letter publisher.", slog.String("topic", cfg.DeadLetterTopicName))
	return &DeadLetterClient{
		writer: newWriter(cfg, cfg.DeadLetterTopicName),
		topic:  cfg.DeadLetterTopicName,
	}
}

// Publish sends the abandoned task. Failures are logged, not returned; the
// task is already lost to this run either way.
func (c *DeadLetterClient) Publish(task *model.Task) {
	if c == nil {
		return
	}
	body, err := jsoniter.Marshal(task)
	if err != nil {
		slog.Error("marshaling error.", slog.String("err", err.Error()), slog.Any("task", task))
		return
	}
	err = c.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(fmt.Sprintf("%s/%s", task.Category, task.Location)),
		Value: body,
	})
	if err != nil {
		slog.Error("failed to send task to dead-letter topic.",
			slog.String("topic", c.topic), slog.String("err", err.Error()))
	}
}

func (c *DeadLetterClient) Close() error {
	if c == nil {
		return nil
	}
	slog.Info("stopping dead-letter publisher.")
	return c.writer.Close()
}
