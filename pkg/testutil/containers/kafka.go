//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

const redpandaImage = "redpandadata/redpanda:latest"

// KafkaContainer is a single Redpanda broker speaking the Kafka protocol.
type KafkaContainer struct {
	Container testcontainers.Container
	Brokers   string
}

func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()
	ctx := context.Background()

	broker, err := kafka.Run(ctx, redpandaImage, kafka.WithClusterID("consentledger-test"))
	if err != nil {
		t.Fatalf("start redpanda: %v", err)
	}
	seeds, err := broker.Brokers(ctx)
	if err != nil || len(seeds) == 0 {
		_ = broker.Terminate(ctx)
		t.Fatalf("redpanda seed brokers %v: %v", seeds, err)
	}
	return &KafkaContainer{Container: broker, Brokers: seeds[0]}
}

// NewConsumer reads topics from the start without committing offsets.
func (k *KafkaContainer) NewConsumer(groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(k.Brokers),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
}

// Partitions reports how many partitions topic has, or zero when it does not
// exist.
func (k *KafkaContainer) Partitions(ctx context.Context, topic string) (int, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers))
	if err != nil {
		return 0, err
	}
	defer client.Close()

	details, err := kadm.NewClient(client).ListTopics(ctx, topic)
	if err != nil {
		return 0, err
	}
	d, ok := details[topic]
	if !ok || d.Err != nil {
		return 0, nil
	}
	return len(d.Partitions), nil
}

// WaitForRecord polls until match accepts a record or timeout elapses.
func (k *KafkaContainer) WaitForRecord(ctx context.Context, client *kgo.Client, timeout time.Duration, match func(*kgo.Record) bool) *kgo.Record {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for ctx.Err() == nil {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			if r := iter.Next(); match(r) {
				return r
			}
		}
	}
	return nil
}
