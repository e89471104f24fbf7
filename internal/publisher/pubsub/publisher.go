// Package pubsub publishes snapshot notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
	Stop()
}

type clientTopic struct {
	topic *pubsub.Topic
}

func (t clientTopic) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.topic.Publish(ctx, msg).Get(ctx)
}

func (t clientTopic) Stop() { t.topic.Stop() }

// Publisher sends JSON payloads to Pub/Sub topics, reusing one topic handle per name.
type Publisher struct {
	mu       sync.Mutex
	topics   map[string]topicPublisher
	newTopic func(name string) topicPublisher
}

// New creates a Publisher backed by the given client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return newWithTopics(func(name string) topicPublisher {
		return clientTopic{topic: client.Topic(name)}
	}), nil
}

func newWithTopics(fn func(name string) topicPublisher) *Publisher {
	return &Publisher{topics: make(map[string]topicPublisher), newTopic: fn}
}

// Publish marshals the payload to JSON, injects trace context into the
// message attributes, and waits for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{"content_type": "application/json"}
	otel.GetTextMapPropagator().Inject(ctx, attrs)

	id, err := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes and stops every topic handle.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

func (p *Publisher) topic(name string) topicPublisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.newTopic(name)
		p.topics[name] = t
	}
	return t
}
