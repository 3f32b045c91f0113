// Package broadcaster relays engine events to Kafka.
package broadcaster

import (
	"context"
	"time"

	"perpx/events"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Broadcaster publishes every event of a bus subscription to one Kafka
// topic, keyed by market so a market's events stay in one partition.
type Broadcaster struct {
	producer sarama.SyncProducer
	topic    string
	enc      events.Encoder
	log      *zap.Logger
}

// NewProducer builds a synchronous producer that waits for all in-sync
// replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	return sarama.NewSyncProducer(brokers, cfg)
}

func New(producer sarama.SyncProducer, topic string, enc events.Encoder, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		producer: producer,
		topic:    topic,
		enc:      enc,
		log:      log.Named("broadcaster"),
	}
}

// Run forwards events until ctx is done or the subscription closes.
// An event the broker refuses is logged and skipped; the engine never waits
// on Kafka.
func (b *Broadcaster) Run(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()

	b.log.Info("broadcaster started", zap.String("topic", b.topic))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := b.Send(ev); err != nil {
				b.log.Warn("event not delivered",
					zap.String("market", ev.Market),
					zap.String("kind", string(ev.Kind)),
					zap.Uint64("seq", ev.Seq),
					zap.Error(err),
				)
			}
		}
	}
}

func (b *Broadcaster) Send(ev events.Event) error {
	payload, err := b.enc.Encode(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(ev.Market),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
			{Key: []byte("content-type"), Value: []byte(b.enc.ContentType())},
		},
		Timestamp: ev.Timestamp,
	}
	_, _, err = b.producer.SendMessage(msg)
	return err
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
