package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/storage/memory"
)

var _ media.Deliverer = (*BlobDeliverer)(nil)

func TestUploadStoresAndSends(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/dl_j1.mp4", []byte("video"), 0o644))
	store := memory.NewBlobStore()
	notifier := &recordingNotifier{}
	d := NewBlobDeliverer(fs, store, notifier, Config{Prefix: "/artifacts/"}, nil)

	target := media.Target{ChatID: 70, ReplyTo: 5}
	handle, err := d.Upload(context.Background(), target, "/work/dl_j1.mp4")
	require.NoError(t, err)
	assert.Equal(t, "memory://artifacts/70/dl_j1.mp4", handle)

	data, ok := store.Object("artifacts/70/dl_j1.mp4")
	require.True(t, ok)
	assert.Equal(t, "video", string(data))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, media.Message{ChatID: 70, ReplyTo: 5, MediaURI: handle}, notifier.sent[0])
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	d := NewBlobDeliverer(afero.NewMemMapFs(), memory.NewBlobStore(), &recordingNotifier{}, Config{}, nil)
	_, err := d.Upload(context.Background(), media.Target{ChatID: 1}, "/work/nope.mp4")
	require.Error(t, err)
	assert.False(t, errors.Is(err, media.ErrReplayFailed))
}

func TestReplay(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/dl_j1.mp4", []byte("video"), 0o644))
	store := memory.NewBlobStore()
	notifier := &recordingNotifier{}
	d := NewBlobDeliverer(fs, store, notifier, Config{}, nil)

	handle, err := d.Upload(context.Background(), media.Target{ChatID: 70}, "/work/dl_j1.mp4")
	require.NoError(t, err)

	require.NoError(t, d.Replay(context.Background(), media.Target{ChatID: 71, ReplyTo: 9}, handle))
	assert.Equal(t, media.Message{ChatID: 71, ReplyTo: 9, MediaURI: handle}, notifier.sent[1])

	store.Delete(handle)
	err = d.Replay(context.Background(), media.Target{ChatID: 71}, handle)
	require.ErrorIs(t, err, media.ErrReplayFailed)

	err = d.Replay(context.Background(), media.Target{ChatID: 71}, "gs://elsewhere/x")
	require.ErrorIs(t, err, media.ErrReplayFailed)

	notifier.err = errors.New("chat gone")
	uri, err := store.PutObject(context.Background(), "x.mp4", "video/mp4", strings.NewReader("x"))
	require.NoError(t, err)
	err = d.Replay(context.Background(), media.Target{ChatID: 71}, uri)
	require.ErrorIs(t, err, media.ErrReplayFailed)
}

func TestContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "video/mp4", contentType("/work/dl_a.mp4"))
	assert.Equal(t, "video/webm", contentType("/work/dl_a.WEBM"))
	assert.Equal(t, "application/octet-stream", contentType("/work/dl_a"))
}

// --- fakes ---

type recordingNotifier struct {
	mu   sync.Mutex
	err  error
	sent []media.Message
}

func (r *recordingNotifier) Send(_ context.Context, msg media.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}
