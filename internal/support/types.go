package support

import (
	"strings"
	"time"
)

// JobStatus captures the lifecycle state of a support job.
type JobStatus string

// Job statuses move strictly forward: queued → started → finished|failed.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// forward-only. started → started is allowed so a requeued job can be claimed
// again without its visible status going backwards.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusStarted
	case JobStatusStarted:
		return next == JobStatusStarted || next.Terminal()
	default:
		return false
	}
}

// Source records where a support request entered the system.
type Source string

// Request sources.
const (
	SourceAPI     Source = "api"
	SourceWebhook Source = "webhook"
)

// DefaultLanguage is used when a submission does not name one.
const DefaultLanguage = "en"

// Request is the immutable support request attached to a job.
type Request struct {
	Query       string `json:"query"`
	Language    string `json:"language,omitempty"`
	Source      Source `json:"source"`
	EventID     string `json:"event_id,omitempty"`
	EventType   string `json:"event_type,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// Normalize trims the query and fills the default language.
func (r Request) Normalize() Request {
	r.Query = strings.TrimSpace(r.Query)
	r.Language = strings.TrimSpace(r.Language)
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.Source == "" {
		r.Source = SourceAPI
	}
	return r
}

// Validate rejects requests the pipeline cannot act on.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return Errorf(ErrValidation, "query is required")
	}
	return nil
}

// Category selects which specialist answers a request.
type Category string

// Supported categories.
const (
	CategoryBusiness  Category = "business"
	CategoryUser      Category = "user"
	CategoryTechnical Category = "technical"
)

// Categories lists every category in routing priority order.
var Categories = []Category{CategoryBusiness, CategoryTechnical, CategoryUser}

// ParseCategory maps free text onto a Category.
func ParseCategory(raw string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryBusiness:
		return CategoryBusiness, true
	case CategoryUser:
		return CategoryUser, true
	case CategoryTechnical:
		return CategoryTechnical, true
	default:
		return "", false
	}
}

// Answer is the structured output of the agent pipeline. It is stored on the
// job verbatim.
type Answer struct {
	Category Category `json:"category"`
	Answer   string   `json:"answer"`
	Links    []string `json:"links,omitempty"`
}

// Job tracks one support request through the pipeline.
type Job struct {
	ID         string     `json:"id"`
	Status     JobStatus  `json:"status"`
	Request    Request    `json:"request"`
	Result     *Answer    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// QueueItem is the unit handed from the queue to a worker.
type QueueItem struct {
	JobID     string `json:"job_id"`
	Submitted int64  `json:"submitted"`
}

// LeaseOutcome describes what happened to a job whose lease expired.
type LeaseOutcome int

// Lease outcomes.
const (
	// LeaseCleared means the job was no longer started; only the lease was dropped.
	LeaseCleared LeaseOutcome = iota
	// LeaseRequeued means the job should be dispatched again.
	LeaseRequeued
	// LeaseFailed means the job ran out of attempts and is now failed.
	LeaseFailed
)

func (o LeaseOutcome) String() string {
	switch o {
	case LeaseRequeued:
		return "requeued"
	case LeaseFailed:
		return "failed"
	default:
		return "cleared"
	}
}

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Category Category  `json:"category,omitempty"`
	Source   Source    `json:"source"`
	EventID  string    `json:"event_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	Attempts int       `json:"attempts"`
	EndedAt  time.Time `json:"ended_at"`
}

// Transcript is the archived record of a terminal job.
type Transcript struct {
	JobID      string
	Request    Request
	Status     JobStatus
	Category   Category
	Answer     string
	Links      []string
	Error      string
	Attempts   int
	EnqueuedAt time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
}

// TranscriptFromJob flattens a terminal job into an archive row.
func TranscriptFromJob(job Job) Transcript {
	t := Transcript{
		JobID:      job.ID,
		Request:    job.Request,
		Status:     job.Status,
		Error:      job.Error,
		Attempts:   job.Attempts,
		EnqueuedAt: job.EnqueuedAt,
		StartedAt:  job.StartedAt,
		EndedAt:    job.EndedAt,
	}
	if job.Result != nil {
		t.Category = job.Result.Category
		t.Answer = job.Result.Answer
		t.Links = append([]string(nil), job.Result.Links...)
	}
	return t
}
