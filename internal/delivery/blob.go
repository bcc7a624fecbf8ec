// Package delivery uploads fetched artifacts and replays cached handles.
package delivery

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/media"
)

// BlobStore persists artifacts and answers whether a stored URI is still live.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, uri string) (bool, error)
}

// Config controls object naming.
type Config struct {
	Prefix string
}

// BlobDeliverer stores artifacts in a BlobStore and announces them to the
// chat through a Notifier. The object URI is the handle.
type BlobDeliverer struct {
	fs       afero.Fs
	store    BlobStore
	notifier media.Notifier
	cfg      Config
	logger   *zap.Logger
}

// NewBlobDeliverer constructs a BlobDeliverer that reads local files from fs.
func NewBlobDeliverer(fs afero.Fs, store BlobStore, notifier media.Notifier, cfg Config, logger *zap.Logger) *BlobDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobDeliverer{
		fs:       fs,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("delivery"),
	}
}

// Upload stores the file at localPath and sends it to target.
func (d *BlobDeliverer) Upload(ctx context.Context, target media.Target, localPath string) (string, error) {
	f, err := d.fs.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	uri, err := d.store.PutObject(ctx, d.objectPath(target, localPath), contentType(localPath), f)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	if err := d.send(ctx, target, uri); err != nil {
		return "", fmt.Errorf("send artifact: %w", err)
	}
	d.logger.Debug("artifact uploaded", zap.Int64("chat_id", target.ChatID), zap.String("uri", uri))
	return uri, nil
}

// Replay re-sends a previously stored handle. Any failure is reported as
// media.ErrReplayFailed so callers can evict the handle.
func (d *BlobDeliverer) Replay(ctx context.Context, target media.Target, handle string) error {
	ok, err := d.store.Exists(ctx, handle)
	if err != nil {
		return fmt.Errorf("%w: %w", media.ErrReplayFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s no longer exists", media.ErrReplayFailed, handle)
	}
	if err := d.send(ctx, target, handle); err != nil {
		return fmt.Errorf("%w: %w", media.ErrReplayFailed, err)
	}
	return nil
}

func (d *BlobDeliverer) send(ctx context.Context, target media.Target, uri string) error {
	err := d.notifier.Send(ctx, media.Message{
		ChatID:   target.ChatID,
		ReplyTo:  target.ReplyTo,
		MediaURI: uri,
	})
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (d *BlobDeliverer) objectPath(target media.Target, localPath string) string {
	name := path.Join(strconv.FormatInt(target.ChatID, 10), filepath.Base(localPath))
	prefix := strings.Trim(d.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
}

func contentType(localPath string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
