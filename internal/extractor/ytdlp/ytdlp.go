// Package ytdlp probes and downloads media by shelling out to yt-dlp.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/media"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Waiter paces calls per locator host.
type Waiter interface {
	Wait(ctx context.Context, locator string) error
}

// Config controls the yt-dlp invocation.
type Config struct {
	Binary    string
	Timeout   time.Duration
	UserAgent string
}

// Extractor implements media.Extractor on top of the yt-dlp CLI.
type Extractor struct {
	cfg    Config
	run    Runner
	waiter Waiter
	logger *zap.Logger
}

// New constructs an Extractor. A nil runner executes the real binary; a nil
// waiter disables pacing.
func New(cfg Config, run Runner, waiter Waiter, logger *zap.Logger) *Extractor {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, run: run, waiter: waiter, logger: logger.Named("ytdlp")}
}

type probeDoc struct {
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	Formats        []struct {
		Ext      string  `json:"ext"`
		Filesize float64 `json:"filesize"`
	} `json:"formats"`
}

// Probe reads metadata for locator without downloading it.
func (e *Extractor) Probe(ctx context.Context, locator string) (media.ProbeInfo, error) {
	args := e.baseArgs("--dump-json", "--skip-download")
	out, err := e.exec(ctx, locator, args)
	if err != nil {
		return media.ProbeInfo{}, fmt.Errorf("probe: %w", err)
	}
	var doc probeDoc
	if err := json.Unmarshal(lastJSONLine(out), &doc); err != nil {
		return media.ProbeInfo{}, fmt.Errorf("decode probe output: %w", err)
	}
	info := media.ProbeInfo{}
	switch {
	case doc.Filesize > 0:
		info.EstimatedBytes = int64(doc.Filesize)
	case doc.FilesizeApprox > 0:
		info.EstimatedBytes = int64(doc.FilesizeApprox)
	}
	for _, f := range doc.Formats {
		info.Formats = append(info.Formats, media.Format{Ext: f.Ext, Filesize: int64(f.Filesize)})
	}
	return info, nil
}

// Fetch downloads locator into files named after req.OutputPrefix and returns
// the final path.
func (e *Extractor) Fetch(ctx context.Context, req media.FetchRequest) (string, error) {
	args := e.baseArgs(
		"-o", req.OutputPrefix+".%(ext)s",
		"-f", "mp4/best",
		"--merge-output-format", "mp4",
		"--no-part",
		"--force-overwrites",
		"--no-continue",
		"--print", "after_move:filepath",
	)
	out, err := e.exec(ctx, req.Locator, args)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	path := lastLine(out)
	if path == "" {
		return "", fmt.Errorf("download: yt-dlp reported no output file")
	}
	if !strings.HasPrefix(path, req.OutputPrefix+".") {
		return "", fmt.Errorf("download: unexpected output path %q", path)
	}
	e.logger.Debug("download finished", zap.String("job_id", req.JobID), zap.String("path", path))
	return path, nil
}

func (e *Extractor) baseArgs(extra ...string) []string {
	args := []string{"--no-playlist", "--no-warnings"}
	if e.cfg.UserAgent != "" {
		args = append(args, "--user-agent", e.cfg.UserAgent)
	}
	return append(args, extra...)
}

func (e *Extractor) exec(ctx context.Context, locator string, args []string) ([]byte, error) {
	if e.waiter != nil {
		if err := e.waiter.Wait(ctx, locator); err != nil {
			return nil, err
		}
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	args = append(args, "--", locator)
	return e.run(ctx, e.cfg.Binary, args...)
}

// ExecRunner runs name with args and returns stdout. Stderr is folded into the
// error on failure.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %s: %w", name, err)
		}
		return nil, fmt.Errorf("run %s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func lastJSONLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if l := bytes.TrimSpace(lines[i]); len(l) > 0 && l[0] == '{' {
			return l
		}
	}
	return out
}
