// Package pubsub publishes outbound messages to a Google Cloud Pub/Sub topic
// for a transport adapter to deliver.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/pinsave/internal/media"
)

// Notifier publishes each message as JSON.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Send marshals msg and blocks until the publish is acknowledged.
func (n *Notifier) Send(ctx context.Context, msg media.Message) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	kind := "text"
	if msg.MediaURI != "" {
		kind = "media"
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"chat_id": strconv.FormatInt(msg.ChatID, 10),
			"kind":    kind,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Stop flushes pending publishes.
func (n *Notifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}
