package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pinsave/internal/media"
)

func TestSendLogsFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	n := New(zap.New(core))

	require.NoError(t, n.Send(context.Background(), media.Message{ChatID: 7, ReplyTo: 3, Text: "hi"}))
	require.NoError(t, n.Send(context.Background(), media.Message{ChatID: 7, MediaURI: "memory://a.mp4"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "notify", entries[0].LoggerName)
	assert.Equal(t, map[string]any{"chat_id": int64(7), "reply_to": int64(3), "text": "hi"}, entries[0].ContextMap())
	assert.Equal(t, map[string]any{"chat_id": int64(7), "media_uri": "memory://a.mp4"}, entries[1].ContextMap())
}
