// Package pubsub publishes research completion events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

// Publisher publishes JSON payloads to Pub/Sub topics. Topic handles are
// created lazily and reused.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	ownsClient   bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New wraps an existing client. defaultTopic is used when Publish receives an
// empty topic.
func New(client *pubsub.Client, defaultTopic string) *Publisher {
	return &Publisher{client: client, defaultTopic: defaultTopic, topics: make(map[string]*pubsub.Topic)}
}

// Open creates a client for projectID and verifies that defaultTopic exists.
func Open(ctx context.Context, projectID, defaultTopic string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	exists, err := client.Topic(defaultTopic).Exists(ctx)
	if err != nil || !exists {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic does not exist")
		}
		return nil, fmt.Errorf("failed to get pubsub topic %q: %w", defaultTopic, err)
	}
	p := New(client, defaultTopic)
	p.ownsClient = true
	return p, nil
}

// Publish marshals the payload to JSON, injects trace context into the
// message attributes, and waits for the server-assigned id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := p.topic(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client if Open created it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	if p.ownsClient {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	if name == "" {
		name = p.defaultTopic
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
