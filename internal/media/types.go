// Package media defines the core types shared across the fetch pipeline.
package media

import (
	"errors"
	"sync/atomic"
	"time"
)

// Sentinel errors shared by pipeline components.
var (
	// ErrNotFound is returned when a cache key or stored object is absent.
	ErrNotFound = errors.New("not found")
	// ErrTooLarge marks an artifact that exceeds the configured size limit.
	ErrTooLarge = errors.New("artifact too large")
	// ErrReplayFailed signals that a cached handle could not be delivered again.
	ErrReplayFailed = errors.New("cached artifact replay failed")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when a queue cannot accept another job.
	ErrQueueFull = errors.New("queue full")
)

// Job is one queued request to fetch and deliver the media behind a locator.
type Job struct {
	ID              string    `json:"id"`
	RequesterID     int64     `json:"requester_id"`
	ChatID          int64     `json:"chat_id"`
	Locator         string    `json:"locator"`
	OriginMessageID int64     `json:"origin_message_id"`
	Submitted       time.Time `json:"submitted_at"`
}

// Target returns where artifacts and replies for the job are delivered.
func (j Job) Target() Target {
	return Target{ChatID: j.ChatID, ReplyTo: j.OriginMessageID}
}

// Target identifies a delivery destination.
type Target struct {
	ChatID  int64 `json:"chat_id"`
	ReplyTo int64 `json:"reply_to,omitempty"`
}

// Message is one outbound reply. MediaURI is set for artifact deliveries.
type Message struct {
	ChatID   int64  `json:"chat_id"`
	ReplyTo  int64  `json:"reply_to,omitempty"`
	Text     string `json:"text,omitempty"`
	MediaURI string `json:"media_uri,omitempty"`
}

// Format describes one downloadable rendition reported by a probe.
// Filesize is zero when the extractor does not know it.
type Format struct {
	Ext      string `json:"ext"`
	Filesize int64  `json:"filesize,omitempty"`
}

// ProbeInfo is the metadata returned by a probe.
type ProbeInfo struct {
	EstimatedBytes int64    `json:"estimated_bytes,omitempty"`
	Formats        []Format `json:"formats,omitempty"`
}

// FetchRequest asks an extractor to download a locator. Every file the
// extractor creates must start with OutputPrefix followed by a dot.
type FetchRequest struct {
	JobID        string
	Locator      string
	OutputPrefix string
}

// Outcome is the terminal state of a processed job.
type Outcome string

// Terminal job outcomes.
const (
	OutcomeDelivered       Outcome = "delivered"
	OutcomeRejectedForSize Outcome = "rejected_for_size"
	OutcomeFailed          Outcome = "failed"
)

// JobRecord summarises a finished job for history and metrics.
type JobRecord struct {
	Job        Job
	Outcome    Outcome
	Bytes      int64
	Handle     string
	ErrorText  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Promo holds the optional promotional line appended after deliveries.
// It is safe for concurrent use.
type Promo struct {
	text atomic.Pointer[string]
}

// NewPromo returns a Promo initialised with text.
func NewPromo(text string) *Promo {
	p := &Promo{}
	p.Set(text)
	return p
}

// Text returns the current promo line, or "" when unset.
func (p *Promo) Text() string {
	if p == nil {
		return ""
	}
	if v := p.text.Load(); v != nil {
		return *v
	}
	return ""
}

// Set replaces the promo line.
func (p *Promo) Set(text string) {
	p.text.Store(&text)
}
