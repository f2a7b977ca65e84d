package bus

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/noteduco342/OMChat-backend/internal/metrics"
)

// Kafka publishes envelopes to a topic. Each node reads with its own
// consumer group so every node sees every envelope.
type Kafka struct {
	brokers []string
	topic   string
	nodeID  string
	writer  *kafka.Writer
	reader  *kafka.Reader
}

func NewKafka(brokers []string, topic, nodeID string) *Kafka {
	return &Kafka{
		brokers: brokers,
		topic:   topic,
		nodeID:  nodeID,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			// WriteMessages only enqueues; delivery results land in
			// Completion.
			Async:      true,
			Completion: writeCompleted,
		},
	}
}

func writeCompleted(messages []kafka.Message, err error) {
	if err != nil {
		metrics.BusEvents.WithLabelValues("error").Add(float64(len(messages)))
		log.Printf("[bus] kafka write of %d envelopes failed: %v", len(messages), err)
		return
	}
	metrics.BusEvents.WithLabelValues("published").Add(float64(len(messages)))
}

func (k *Kafka) Publish(ctx context.Context, env Envelope) error {
	env.Origin = k.nodeID
	data, err := Encode(env)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		metrics.BusEvents.WithLabelValues("error").Inc()
		return err
	}
	return nil
}

func (k *Kafka) Subscribe(ctx context.Context, h Handler) error {
	k.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       k.topic,
		GroupID:     "omchat-node-" + k.nodeID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
	})

	go func() {
		for {
			m, err := k.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				metrics.BusEvents.WithLabelValues("error").Inc()
				log.Printf("[bus] kafka consumer error: %v", err)
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}
			env, err := Decode(m.Value)
			if err != nil {
				metrics.BusEvents.WithLabelValues("error").Inc()
				log.Printf("[bus] failed to decode kafka envelope: %v", err)
				continue
			}
			metrics.BusEvents.WithLabelValues("received").Inc()
			h(env)
		}
	}()
	log.Printf("[bus] consuming kafka topic %s as node %s", k.topic, k.nodeID)
	return nil
}

func (k *Kafka) Close() error {
	var errs []error
	if k.reader != nil {
		errs = append(errs, k.reader.Close())
	}
	errs = append(errs, k.writer.Close())
	return errors.Join(errs...)
}
