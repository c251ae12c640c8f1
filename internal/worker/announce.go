package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// Announcer publishes and archives jobs that reached a terminal state.
type Announcer struct {
	publisher   support.Publisher
	transcripts support.TranscriptStore
	topic       string
	logger      *zap.Logger
}

// NewAnnouncer builds an Announcer. publisher and transcripts may be nil.
func NewAnnouncer(
	publisher support.Publisher,
	transcripts support.TranscriptStore,
	topic string,
	logger *zap.Logger,
) *Announcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{
		publisher:   publisher,
		transcripts: transcripts,
		topic:       topic,
		logger:      logger,
	}
}

// Announce is best effort: failures are logged and never undo the stored
// terminal state.
func (a *Announcer) Announce(ctx context.Context, job support.Job) {
	if a == nil || !job.Status.Terminal() {
		return
	}
	if a.transcripts != nil {
		if err := a.transcripts.SaveTranscript(ctx, support.TranscriptFromJob(job)); err != nil {
			a.logger.Error("archive transcript failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if a.publisher == nil {
		return
	}
	evt := support.JobEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Source:   job.Request.Source,
		EventID:  job.Request.EventID,
		Error:    job.Error,
		Attempts: job.Attempts,
	}
	if job.Result != nil {
		evt.Category = job.Result.Category
	}
	if job.EndedAt != nil {
		evt.EndedAt = *job.EndedAt
	}
	msgID, err := a.publisher.Publish(ctx, a.topic, evt)
	if err != nil {
		a.logger.Error("publish job event failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	a.logger.Debug("job event published", zap.String("job_id", job.ID), zap.String("message_id", msgID))
}
