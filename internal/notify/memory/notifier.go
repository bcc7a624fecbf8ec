// Package memory records outbound messages in memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/pinsave/internal/media"
)

// Notifier stores sent messages for inspection.
type Notifier struct {
	mu       sync.RWMutex
	messages []media.Message
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Send records the message.
func (n *Notifier) Send(_ context.Context, msg media.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

// Messages returns every recorded message.
func (n *Notifier) Messages() []media.Message {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]media.Message, len(n.messages))
	copy(out, n.messages)
	return out
}

// ListByChat returns the messages sent to chatID in send order.
func (n *Notifier) ListByChat(chatID int64) []media.Message {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]media.Message, 0)
	for _, m := range n.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}
