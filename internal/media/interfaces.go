package media

import (
	"context"
	"time"
)

// Prober inspects a locator without downloading it.
type Prober interface {
	Probe(ctx context.Context, locator string) (ProbeInfo, error)
}

// Fetcher downloads a locator and returns the local file path.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (string, error)
}

// Extractor combines probing and fetching.
type Extractor interface {
	Prober
	Fetcher
}

// Deliverer hands artifacts to the messaging transport. Upload and Replay are
// separate so callers can tell a stale handle from a failed fresh upload.
type Deliverer interface {
	Upload(ctx context.Context, target Target, localPath string) (string, error)
	Replay(ctx context.Context, target Target, handle string) error
}

// Notifier sends outbound messages to a chat.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// ArtifactCache maps cache keys to artifact handles.
type ArtifactCache interface {
	Lookup(key string) (string, bool)
	Put(key, handle string) error
	Invalidate(key string) error
}

// Queue provides FIFO semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Done()
	Len() int
}

// HistoryStore persists finished job records.
type HistoryStore interface {
	RecordJob(ctx context.Context, rec JobRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
