package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers         string
	Topic           string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
}

// KafkaSink publishes events as JSON records keyed by consent id, so all
// events for one consent land on the same partition in order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}

	var acks kgo.Acks
	switch cfg.Acks {
	case "0":
		acks = kgo.NoAck()
	case "1":
		acks = kgo.LeaderAck()
	default:
		acks = kgo.AllISRAcks()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(acks),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if acks != kgo.AllISRAcks() {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: cfg.Topic, logger: logger}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(e.ConsentID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

// Ping reports broker connectivity for health checks.
func (s *KafkaSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// EnsureTopic creates the sink topic with the broker's default replication
// when it does not exist yet.
func (s *KafkaSink) EnsureTopic(ctx context.Context, partitions int) error {
	if partitions <= 0 {
		partitions = 1
	}
	admin := kadm.NewClient(s.client)
	resp, err := admin.CreateTopic(ctx, int32(partitions), -1, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", s.topic, resp.Err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (s *KafkaSink) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Flush(ctx); err != nil && s.logger != nil {
		s.logger.Warn("kafka sink closed with unflushed records", "error", err)
	}
	s.client.Close()
}
