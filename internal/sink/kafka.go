package sink

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/milkywaybrain/cryptorelay/internal/fanout"
	"github.com/milkywaybrain/cryptorelay/internal/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Kafka publishes records to one kafka topic per channel, keyed by exchange and market.
// Writes are asynchronous, delivery failures are logged from the completion callback.
type Kafka struct {
	writer *kafka.Writer
	topics map[fanout.Channel]string
}

// NewKafka creates a kafka producer with configured values.
func NewKafka(cfg *config.Kafka) *Kafka {
	batchTimeout := 10 * time.Millisecond
	if cfg.BatchTimeoutMs > 0 {
		batchTimeout = time.Duration(cfg.BatchTimeoutMs) * time.Millisecond
	}
	k := &Kafka{
		topics: map[fanout.Channel]string{
			fanout.OrderBooks: cfg.OrderBooksTopic,
			fanout.Quotes:     cfg.QuotesTopic,
			fanout.Trades:     cfg.TradesTopic,
		},
	}
	k.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
		Completion:             k.completion,
	}
	if cfg.WriteTimeoutSec > 0 {
		k.writer.WriteTimeout = time.Duration(cfg.WriteTimeoutSec) * time.Second
	}
	return k
}

// Name implements fanout.Sink.
func (k *Kafka) Name() string { return "kafka" }

// Publish implements fanout.Sink.
func (k *Kafka) Publish(ctx context.Context, ch fanout.Channel, record interface{}) error {
	topic := k.topics[ch]
	if topic == "" {
		return errors.Wrapf(ErrUnsupportedChannel, "kafka has no topic for %v", ch)
	}
	value, err := jsoniter.Marshal(record)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(recordKey(record)),
		Value: value,
	})
}

func (k *Kafka) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		for ch, topic := range k.topics {
			if topic == m.Topic {
				metrics.SinkErrorCount.WithLabelValues(k.Name(), ch.String()).Inc()
			}
		}
	}
	log.Warn().Err(err).Str("sink", k.Name()).Int("messages", len(messages)).Msg("sink unavailable")
}

// Close flushes pending messages and closes the producer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
