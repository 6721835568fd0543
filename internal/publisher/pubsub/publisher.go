// Package pubsub publishes pipeline events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	attrs  map[string]string
}

// Connect creates a client for projectID and verifies that topicID exists.
func Connect(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	p := New(topic, map[string]string{"source": "aipolicy"})
	p.client = client
	return p, nil
}

// New creates a Publisher for an existing topic handle. attrs are attached
// to every message.
func New(topic *pubsub.Topic, attrs map[string]string) *Publisher {
	return &Publisher{topic: topic, attrs: attrs}
}

// Publish marshals the payload to JSON, publishes it and waits for the
// server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(p.attrs))}
	for k, v := range p.attrs {
		msg.Attributes[k] = v
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client when this publisher owns it.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
