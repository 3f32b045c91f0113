package feed

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka reads ticks from a topic as part of a consumer group.
type Kafka struct {
	reader *kafka.Reader
	sink   Sink
	log    *zap.Logger
}

func NewKafka(brokers []string, topic, group string, sink Sink, log *zap.Logger) *Kafka {
	return &Kafka{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        group,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			MaxWait:        250 * time.Millisecond,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		}),
		sink: sink,
		log:  log.Named("feed.kafka"),
	}
}

func (k *Kafka) Run(ctx context.Context) error {
	defer k.reader.Close()

	retry := 0
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			delay := Backoff(retry)
			retry++
			k.log.Warn("feed read failed", zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		retry = 0
		handle(k.sink, msg.Value, k.log)
	}
}
