package support

import (
	"context"
	"io"
	"time"
)

// JobStore persists job state. Every transition is atomic per job.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ClaimJob marks the job started, bumps its attempt count and holds a lease
	// until leaseUntil. Terminal jobs return ErrInvalidTransition.
	ClaimJob(ctx context.Context, jobID string, leaseUntil time.Time) (Job, error)
	FinishJob(ctx context.Context, jobID string, answer Answer) error
	FailJob(ctx context.Context, jobID string, reason string) error
	// ExpiredLeases lists started jobs whose lease ended before now.
	ExpiredLeases(ctx context.Context, now time.Time) ([]string, error)
	// ExpireLease drops the lease and either requeues or fails the job.
	ExpireLease(ctx context.Context, jobID string, maxAttempts int, reason string) (LeaseOutcome, error)
	Ping(ctx context.Context) error
}

// Queue hands job ids to workers. A dequeued id belongs to one consumer until
// it is acknowledged.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Ack(ctx context.Context, jobID string) error
}

// Deduplicator remembers webhook event ids.
type Deduplicator interface {
	// Reserve claims eventID for jobID. When the event was already seen it
	// returns the original job id and false.
	Reserve(ctx context.Context, eventID, jobID string) (string, bool, error)
	Release(ctx context.Context, eventID string) error
}

// Pipeline answers a support request.
type Pipeline interface {
	Process(ctx context.Context, req Request) (Answer, error)
}

// Publisher pushes job events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// TranscriptStore archives terminal jobs.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, t Transcript) error
	Close() error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
