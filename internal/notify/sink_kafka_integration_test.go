//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "consentledger/pkg/domain"
	"consentledger/pkg/testutil"
	"consentledger/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	kafka *containers.KafkaContainer
	sink  *KafkaSink
	topic string
}

func TestKafkaSinkSuite(t *testing.T) {
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())
	s.topic = "consent.lifecycle.test"

	sink, err := NewKafkaSink(KafkaConfig{
		Brokers:         s.kafka.Brokers,
		Topic:           s.topic,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, slog.New(slog.DiscardHandler))
	s.Require().NoError(err)
	s.sink = sink
}

func (s *KafkaSinkSuite) TearDownSuite() {
	if s.sink != nil {
		s.sink.Close()
	}
}

func (s *KafkaSinkSuite) TestPing() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.NoError(s.sink.Ping(ctx))
}

func (s *KafkaSinkSuite) TestEnsureTopicIsIdempotent() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	s.Require().NoError(s.sink.EnsureTopic(ctx, 2))
	s.NoError(s.sink.EnsureTopic(ctx, 2), "existing topic is not an error")

	n, err := s.kafka.Partitions(ctx, s.topic)
	s.Require().NoError(err)
	s.Positive(n)
}

func (s *KafkaSinkSuite) TestDeliverKeysByConsent() {
	ctx := context.Background()
	consentID := id.NewConsentID().String()
	event := Event{
		Kind:       KindConsentGranted,
		ConsentID:  consentID,
		Actor:      testutil.TestIDs.Bob.String(),
		TxID:       "TXK",
		Round:      12,
		OccurredAt: time.Now().UTC(),
	}

	s.Require().NoError(s.sink.Deliver(ctx, event))

	consumer, err := s.kafka.NewConsumer("notify-sink-test", s.topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForRecord(ctx, consumer, 30*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == consentID
	})
	s.Require().NotNil(record, "record for consent %s not consumed", consentID)

	var got Event
	s.Require().NoError(json.Unmarshal(record.Value, &got))
	s.Equal(KindConsentGranted, got.Kind)
	s.Equal("TXK", got.TxID)
	s.Require().Len(record.Headers, 1)
	s.Equal("kind", record.Headers[0].Key)
	s.Equal(string(KindConsentGranted), string(record.Headers[0].Value))
}
