// Package notify publishes job completion notices to Google Cloud Pub/Sub so
// downstream systems can pick up finished artifacts.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/sitepdf/internal/pipeline"
)

// Topic publishes raw messages.
type Topic interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Publisher implements pipeline.Notifier over a Topic.
type Publisher struct {
	topic Topic
}

// New wraps topic.
func New(topic Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Notify marshals the completion to JSON and publishes it. Attributes carry
// the job id, mode and result so subscriptions can filter without decoding.
func (p *Publisher) Notify(ctx context.Context, c pipeline.Completion) error {
	if p == nil || p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	result := "success"
	if c.Error != "" {
		result = "error"
	}
	attrs := map[string]string{
		"job_id": c.JobID,
		"mode":   c.Mode.String(),
		"result": result,
	}
	if _, err := p.topic.Publish(ctx, data, attrs); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

// GCPTopic adapts a Pub/Sub topic handle to Topic.
type GCPTopic struct {
	topic *pubsub.Topic
}

// NewGCPTopic returns the topic id of client as a Topic. Call Stop before
// closing the client to flush pending messages.
func NewGCPTopic(client *pubsub.Client, topicID string) (*GCPTopic, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	return &GCPTopic{topic: client.Topic(topicID)}, nil
}

// Publish sends one message and waits for the server id.
func (t *GCPTopic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	res := t.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes outstanding messages and stops the publisher goroutines.
func (t *GCPTopic) Stop() {
	t.topic.Stop()
}
