// Package pubsub publishes job completion notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a client for projectID and binds it to topicID.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithTopic(client, client.Topic(topicID)), nil
}

// NewWithTopic wraps an existing client and topic. client may be nil when
// its lifetime is managed elsewhere.
func NewWithTopic(client *pubsub.Client, topic *pubsub.Topic) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Publish marshals the payload to JSON and publishes it to the bound topic.
// The topic argument is recorded as a message attribute.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	if topic != "" {
		msg.Attributes["stream"] = topic
	}
	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending publishes and releases the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
