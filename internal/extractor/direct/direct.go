// Package direct implements media.Extractor for locators that point straight
// at a media file, using a Colly collector.
package direct

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/media"
)

const defaultExt = ".mp4"

// Waiter paces calls per locator host.
type Waiter interface {
	Wait(ctx context.Context, locator string) error
}

// Config controls collector behavior. MaxBytes bounds the downloaded body;
// zero leaves it unbounded.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

// Extractor downloads media with a single HTTP GET.
type Extractor struct {
	cfg           Config
	fs            afero.Fs
	waiter        Waiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds an Extractor that writes artifacts to fs. A nil waiter disables
// pacing.
func New(cfg Config, fs afero.Fs, waiter Waiter, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Extractor{
		cfg:           cfg,
		fs:            fs,
		waiter:        waiter,
		baseCollector: c,
		logger:        logger.Named("direct"),
	}
}

// Probe issues a HEAD request and reports Content-Length when the server
// advertises one.
func (e *Extractor) Probe(ctx context.Context, locator string) (media.ProbeInfo, error) {
	var (
		info     media.ProbeInfo
		fetchErr error
	)
	collector := e.buildCollector(&fetchErr)
	collector.OnResponse(func(r *colly.Response) {
		if n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64); err == nil && n > 0 {
			info.EstimatedBytes = n
		}
	})
	if err := e.run(ctx, locator, func() error { return collector.Head(locator) }, &fetchErr); err != nil {
		return media.ProbeInfo{}, fmt.Errorf("probe: %w", err)
	}
	return info, nil
}

// Fetch downloads req.Locator into req.OutputPrefix plus an extension derived
// from the URL path or the response content type.
func (e *Extractor) Fetch(ctx context.Context, req media.FetchRequest) (string, error) {
	var (
		out      string
		fetchErr error
	)
	collector := e.buildCollector(&fetchErr)
	collector.OnResponse(func(r *colly.Response) {
		if e.cfg.MaxBytes > 0 && int64(len(r.Body)) > e.cfg.MaxBytes {
			size := int64(len(r.Body))
			if n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64); err == nil && n > size {
				size = n
			}
			fetchErr = &media.SizeError{Bytes: size}
			return
		}
		target := req.OutputPrefix + extension(r.Request.URL, r.Headers.Get("Content-Type"))
		if err := afero.WriteFile(e.fs, target, r.Body, 0o644); err != nil {
			fetchErr = fmt.Errorf("write artifact: %w", err)
			return
		}
		out = target
	})
	if err := e.run(ctx, req.Locator, func() error { return collector.Visit(req.Locator) }, &fetchErr); err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	if out == "" {
		return "", fmt.Errorf("download: no response body")
	}
	e.logger.Debug("download finished", zap.String("job_id", req.JobID), zap.String("path", out))
	return out, nil
}

func (e *Extractor) buildCollector(fetchErr *error) *colly.Collector {
	collector := e.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	if e.cfg.MaxBytes > 0 {
		// One byte over the limit is enough to tell an oversize body apart.
		collector.MaxBodySize = int(e.cfg.MaxBytes + 1)
	} else {
		collector.MaxBodySize = 0
	}
	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
	return collector
}

func (e *Extractor) run(ctx context.Context, locator string, visit func() error, fetchErr *error) error {
	if e.waiter != nil {
		if err := e.waiter.Wait(ctx, locator); err != nil {
			return err
		}
	}
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

var knownExts = map[string]bool{
	".mp4": true, ".m4v": true, ".webm": true, ".mkv": true, ".mov": true,
	".gif": true, ".jpg": true, ".jpeg": true, ".png": true,
}

func extension(u *url.URL, contentType string) string {
	if u != nil {
		if ext := strings.ToLower(path.Ext(u.Path)); knownExts[ext] {
			return ext
		}
	}
	if ct, _, err := mime.ParseMediaType(contentType); err == nil {
		switch ct {
		case "video/mp4":
			return ".mp4"
		case "video/webm":
			return ".webm"
		}
		if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return defaultExt
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
