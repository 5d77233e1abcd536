package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/segmentio/kafka-go"
)

// Publisher emits domain events to kafka, one writer per topic. Topics are
// created lazily on first publish.
type Publisher struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewPublisher creates a kafka publisher for the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// Publish marshals the event as JSON and writes it to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer(topic).WriteMessages(ctx, kafka.Message{Value: data})
}

func (p *Publisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:     kafka.TCP(p.brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		}
		p.writers[topic] = w
	}
	return w
}

// Close closes all topic writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
