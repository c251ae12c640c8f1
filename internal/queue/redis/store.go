// Package redis implements the job store, work queue and webhook deduplicator
// on a single Redis instance.
//
// Key layout, all under the configured prefix:
//
//	{prefix}:job:{id}          hash with the job fields
//	{prefix}:queue             pending job ids (LPUSH / BLMOVE from the right)
//	{prefix}:processing        ids handed to a worker and not yet acknowledged
//	{prefix}:leases            sorted set of started jobs scored by lease deadline
//	{prefix}:webhook:{event}   job id reserved for a webhook event id
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/nmkr-support-router/internal/clock/system"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

var (
	_ support.JobStore     = (*Store)(nil)
	_ support.Queue        = (*Store)(nil)
	_ support.Deduplicator = (*Store)(nil)
)

const (
	fieldQuery       = "query"
	fieldLanguage    = "language"
	fieldSource      = "source"
	fieldEventID     = "event_id"
	fieldEventType   = "event_type"
	fieldWorkspaceID = "workspace_id"
	fieldStatus      = "status"
	fieldAttempts    = "attempts"
	fieldEnqueuedAt  = "enqueued_at"
	fieldStartedAt   = "started_at"
	fieldEndedAt     = "ended_at"
	fieldResult      = "result"
	fieldError       = "error"
)

// createScript writes a fresh job hash. Returns 0 when the key already exists.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'status', 'queued',
  'query', ARGV[1],
  'language', ARGV[2],
  'source', ARGV[3],
  'event_id', ARGV[4],
  'event_type', ARGV[5],
  'workspace_id', ARGV[6],
  'attempts', '0',
  'enqueued_at', ARGV[7])
return 1
`)

// claimScript moves a queued or started job to started, bumps attempts and
// records the lease. Returns the new attempt count, -1 for a missing job and 0
// when the job is terminal.
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'queued' and status ~= 'started' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'started')
redis.call('HSETNX', KEYS[1], 'started_at', ARGV[1])
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return attempts
`)

// completeScript moves a started job to a terminal status. ARGV: status,
// field, value, ended_at, ttl seconds, job id. Returns 1 on success, -1 for a
// missing job and 0 when the job was not started.
var completeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'started' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], ARGV[2], ARGV[3], 'ended_at', ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[6])
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

// expireScript drops a lease. ARGV: job id, max attempts, reason, ended_at,
// ttl seconds. Returns -1 missing, 0 cleared, 1 requeue, 2 failed.
var expireScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'started' then
  return 0
end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0')
if attempts >= tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], 'status', 'failed', 'error', ARGV[3], 'ended_at', ARGV[4])
  local ttl = tonumber(ARGV[5])
  if ttl > 0 then
    redis.call('EXPIRE', KEYS[1], ttl)
  end
  return 2
end
return 1
`)

// Options configures a Store.
type Options struct {
	// Prefix namespaces every key; it doubles as the queue name.
	Prefix string
	// ResultTTL bounds how long terminal jobs are retained. Zero keeps them.
	ResultTTL time.Duration
	// DedupTTL bounds how long webhook event ids are remembered.
	DedupTTL time.Duration
	// BlockTimeout is the BLMOVE timeout per poll while dequeuing.
	BlockTimeout time.Duration
	Clock        support.Clock
}

// Store is a Redis-backed support.JobStore, support.Queue and
// support.Deduplicator.
type Store struct {
	client       redis.UniversalClient
	prefix       string
	resultTTL    time.Duration
	dedupTTL     time.Duration
	blockTimeout time.Duration
	clock        support.Clock
}

// NewClient parses a redis:// URL and applies connection timeouts.
func NewClient(rawURL string, dialTimeout, readTimeout, writeTimeout time.Duration, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}
	if readTimeout > 0 {
		opts.ReadTimeout = readTimeout
	}
	if writeTimeout > 0 {
		opts.WriteTimeout = writeTimeout
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return redis.NewClient(opts), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts Options) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "nmkr_support"
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = time.Second
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	return &Store{
		client:       client,
		prefix:       opts.Prefix,
		resultTTL:    opts.ResultTTL,
		dedupTTL:     opts.DedupTTL,
		blockTimeout: opts.BlockTimeout,
		clock:        opts.Clock,
	}, nil
}

func (s *Store) jobKey(id string) string     { return s.prefix + ":job:" + id }
func (s *Store) queueKey() string            { return s.prefix + ":queue" }
func (s *Store) processingKey() string       { return s.prefix + ":processing" }
func (s *Store) leasesKey() string           { return s.prefix + ":leases" }
func (s *Store) webhookKey(id string) string { return s.prefix + ":webhook:" + id }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func ttlSeconds(d time.Duration) int64 { return int64(d / time.Second) }

// CreateJob writes the job hash in queued status.
func (s *Store) CreateJob(ctx context.Context, job support.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = s.clock.Now()
	}
	req := job.Request
	res, err := createScript.Run(ctx, s.client,
		[]string{s.jobKey(job.ID)},
		req.Query, req.Language, string(req.Source), req.EventID, req.EventType, req.WorkspaceID,
		formatTime(job.EnqueuedAt),
	).Int64()
	if err != nil {
		return support.Unavailable("create job", err)
	}
	if res == 0 {
		return support.ErrJobExists
	}
	return nil
}

// GetJob loads a job hash.
func (s *Store) GetJob(ctx context.Context, jobID string) (support.Job, error) {
	values, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return support.Job{}, support.Unavailable("get job", err)
	}
	if len(values) == 0 || values[fieldStatus] == "" {
		return support.Job{}, support.ErrNotFound
	}
	return decodeJob(jobID, values)
}

// ClaimJob marks the job started and records its lease deadline.
func (s *Store) ClaimJob(ctx context.Context, jobID string, leaseUntil time.Time) (support.Job, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID), s.leasesKey()},
		formatTime(s.clock.Now()), leaseUntil.UnixMilli(), jobID,
	).Int64()
	if err != nil {
		return support.Job{}, support.Unavailable("claim job", err)
	}
	switch res {
	case -1:
		return support.Job{}, support.ErrNotFound
	case 0:
		return support.Job{}, support.Errorf(support.ErrInvalidTransition, "%s is terminal", jobID)
	}
	return s.GetJob(ctx, jobID)
}

// FinishJob stores the answer as JSON and marks the job finished.
func (s *Store) FinishJob(ctx context.Context, jobID string, answer support.Answer) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	return s.complete(ctx, jobID, support.JobStatusFinished, fieldResult, string(payload))
}

// FailJob records the failure reason and marks the job failed.
func (s *Store) FailJob(ctx context.Context, jobID string, reason string) error {
	return s.complete(ctx, jobID, support.JobStatusFailed, fieldError, reason)
}

func (s *Store) complete(ctx context.Context, jobID string, status support.JobStatus, field, value string) error {
	res, err := completeScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID), s.leasesKey()},
		string(status), field, value, formatTime(s.clock.Now()), ttlSeconds(s.resultTTL), jobID,
	).Int64()
	if err != nil {
		return support.Unavailable("complete job", err)
	}
	switch res {
	case -1:
		return support.ErrNotFound
	case 0:
		return support.Errorf(support.ErrInvalidTransition, "%s is not started", jobID)
	}
	return nil
}

// ExpiredLeases lists jobs whose lease deadline is before now.
func (s *Store) ExpiredLeases(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.leasesKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, support.Unavailable("expired leases", err)
	}
	return ids, nil
}

// ExpireLease drops the lease and requeues or fails the job.
func (s *Store) ExpireLease(
	ctx context.Context,
	jobID string,
	maxAttempts int,
	reason string,
) (support.LeaseOutcome, error) {
	res, err := expireScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID), s.leasesKey()},
		jobID, maxAttempts, reason, formatTime(s.clock.Now()), ttlSeconds(s.resultTTL),
	).Int64()
	if err != nil {
		return support.LeaseCleared, support.Unavailable("expire lease", err)
	}
	switch res {
	case -1:
		return support.LeaseCleared, support.ErrNotFound
	case 1:
		return support.LeaseRequeued, nil
	case 2:
		return support.LeaseFailed, nil
	default:
		return support.LeaseCleared, nil
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return support.Unavailable("ping", s.client.Ping(ctx).Err())
}

// Enqueue pushes the job id onto the pending list.
func (s *Store) Enqueue(ctx context.Context, item support.QueueItem) error {
	return support.Unavailable("enqueue", s.client.LPush(ctx, s.queueKey(), item.JobID).Err())
}

// Dequeue blocks until a job id is available, moving it to the processing
// list, or ctx ends.
func (s *Store) Dequeue(ctx context.Context) (support.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return support.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		id, err := s.client.BLMove(ctx, s.queueKey(), s.processingKey(), "RIGHT", "LEFT", s.blockTimeout).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return support.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return support.QueueItem{}, support.Unavailable("dequeue", err)
		}
		return support.QueueItem{JobID: id, Submitted: s.clock.Now().Unix()}, nil
	}
}

// Ack removes the job id from the processing list.
func (s *Store) Ack(ctx context.Context, jobID string) error {
	return support.Unavailable("ack", s.client.LRem(ctx, s.processingKey(), 1, jobID).Err())
}

// Pending reports the number of ids waiting to be dequeued.
func (s *Store) Pending(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.queueKey()).Result()
	if err != nil {
		return 0, support.Unavailable("queue length", err)
	}
	return n, nil
}

// Reserve claims eventID for jobID with SET NX.
func (s *Store) Reserve(ctx context.Context, eventID, jobID string) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, s.webhookKey(eventID), jobID, s.dedupTTL).Result()
	if err != nil {
		return "", false, support.Unavailable("reserve event", err)
	}
	if ok {
		return jobID, true, nil
	}
	existing, err := s.client.Get(ctx, s.webhookKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, eventID, jobID)
	}
	if err != nil {
		return "", false, support.Unavailable("reserve event", err)
	}
	return existing, false, nil
}

// Release forgets eventID.
func (s *Store) Release(ctx context.Context, eventID string) error {
	return support.Unavailable("release event", s.client.Del(ctx, s.webhookKey(eventID)).Err())
}

func decodeJob(id string, values map[string]string) (support.Job, error) {
	job := support.Job{
		ID:     id,
		Status: support.JobStatus(values[fieldStatus]),
		Request: support.Request{
			Query:       values[fieldQuery],
			Language:    values[fieldLanguage],
			Source:      support.Source(values[fieldSource]),
			EventID:     values[fieldEventID],
			EventType:   values[fieldEventType],
			WorkspaceID: values[fieldWorkspaceID],
		},
		Error: values[fieldError],
	}
	if raw := values[fieldAttempts]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return support.Job{}, fmt.Errorf("decode attempts for %s: %w", id, err)
		}
		job.Attempts = n
	}
	var err error
	if job.EnqueuedAt, err = parseTime(values[fieldEnqueuedAt]); err != nil {
		return support.Job{}, fmt.Errorf("decode enqueued_at for %s: %w", id, err)
	}
	if job.StartedAt, err = parseOptionalTime(values[fieldStartedAt]); err != nil {
		return support.Job{}, fmt.Errorf("decode started_at for %s: %w", id, err)
	}
	if job.EndedAt, err = parseOptionalTime(values[fieldEndedAt]); err != nil {
		return support.Job{}, fmt.Errorf("decode ended_at for %s: %w", id, err)
	}
	if raw := values[fieldResult]; raw != "" {
		var answer support.Answer
		if err := json.Unmarshal([]byte(raw), &answer); err != nil {
			return support.Job{}, fmt.Errorf("decode result for %s: %w", id, err)
		}
		job.Result = &answer
	}
	return job, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
