// Package log writes outbound messages to the structured log.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/media"
)

// Notifier logs each message instead of delivering it.
type Notifier struct {
	logger *zap.Logger
}

// New returns a log Notifier.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger.Named("notify")}
}

// Send logs the message.
func (n *Notifier) Send(_ context.Context, msg media.Message) error {
	fields := []zap.Field{zap.Int64("chat_id", msg.ChatID)}
	if msg.ReplyTo != 0 {
		fields = append(fields, zap.Int64("reply_to", msg.ReplyTo))
	}
	if msg.MediaURI != "" {
		fields = append(fields, zap.String("media_uri", msg.MediaURI))
	}
	if msg.Text != "" {
		fields = append(fields, zap.String("text", msg.Text))
	}
	n.logger.Info("outbound message", fields...)
	return nil
}
