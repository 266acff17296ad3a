package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka is the broker-backed replication transport: one Kafka topic per
// market ticker, JSON-encoded full-state records, consumers positioned at
// the latest offset. Writers are created lazily per topic and reused.
type Kafka struct {
	brokers []string
	log     *zap.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

// NewKafka creates a transport publishing to the given brokers.
func NewKafka(brokers []string, log *zap.Logger) *Kafka {
	return &Kafka{
		brokers: brokers,
		log:     log,
		writers: make(map[string]*kafka.Writer),
	}
}

// Publish writes rec to its market's topic, keyed by ticker so all records
// for one market land on one partition in order.
func (k *Kafka) Publish(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("replication: encode record: %w", err)
	}

	w, err := k.writer(TopicName(rec.MarketTicker))
	if err != nil {
		return err
	}

	if err := w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.MarketTicker),
		Value: body,
	}); err != nil {
		return fmt.Errorf("replication: publish %s: %w", rec.MarketTicker, err)
	}
	return nil
}

// Subscribe attaches a latest-positioned reader to ticker's topic. Each
// call starts a fresh read position: no historical replay, only records
// published after the attach. The underlying reader is closed and C closed
// on every exit path (cancellation, Close, or transport error).
func (k *Kafka) Subscribe(ctx context.Context, ticker string) (*Subscription, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       TopicName(ticker),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Record, subscriberBuffer)

	go func() {
		defer close(ch)
		defer r.Close()
		for {
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					k.log.Warn("replication read failed",
						zap.String("ticker", ticker), zap.Error(err))
				}
				return
			}
			var rec Record
			if err := json.Unmarshal(m.Value, &rec); err != nil {
				k.log.Warn("discarding undecodable record",
					zap.String("ticker", ticker), zap.Error(err))
				continue
			}
			select {
			case ch <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{C: ch, stop: cancel}, nil
}

// Close flushes and closes every topic writer, collecting errors.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true

	var errs []error
	for topic, w := range k.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

func (k *Kafka) writer(topic string) (*kafka.Writer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, errors.New("replication: transport closed")
	}

	w, ok := k.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(k.brokers...),
			Topic:                  topic,
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		}
		k.writers[topic] = w
	}
	return w, nil
}
