package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vietbot/chatbridge-backend/internal/logger"
)

const (
	jobKeyPrefix = "ai_job:"
	jobTTL       = time.Hour
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// JobPayload is everything a worker needs to run one AI job without touching
// the database again: the diffed messages plus immutable config snapshots.
type JobPayload struct {
	ConversationID  string          `json:"conversation_id"`
	ConversationRef uuid.UUID       `json:"conversation_ref,omitempty"`
	LockID          string          `json:"lock_id"`
	Messages        []ParsedMessage `json:"messages"`
	BotConfig       BotConfig       `json:"bot_config"`
	AIConfig        AIConfig        `json:"ai_config"`
	PlatformConfig  PlatformConfig  `json:"platform_config"`
	Resources       map[string]any  `json:"resources,omitempty"`
	FullHistory     string          `json:"full_history"`
	Reprocessing    bool            `json:"reprocessing,omitempty"`
}

type JobRecord struct {
	JobID            string         `json:"job_id"`
	ConversationID   string         `json:"conversation_id"`
	LockID           string         `json:"lock_id"`
	Status           string         `json:"status"`
	Payload          JobPayload     `json:"payload"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms,omitempty"`
}

func terminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type JobRegistry interface {
	CreateJob(ctx context.Context, payload JobPayload) (string, error)
	UpdateStatus(ctx context.Context, jobID, status string, fields map[string]any) error
	GetStatus(ctx context.Context, jobID string) (*JobRecord, error)
	CancelJob(ctx context.Context, jobID string) bool
	Queue() <-chan string
}

type jobRegistry struct {
	log   *logger.Logger
	rdb   *goredis.Client
	queue chan string

	mu       sync.Mutex
	memJobs  map[string]*JobRecord
	degraded bool
}

func NewJobRegistry(baseLog *logger.Logger, rdb *goredis.Client) JobRegistry {
	return &jobRegistry{
		log:     baseLog.With("service", "JobRegistry"),
		rdb:     rdb,
		queue:   make(chan string, 1024),
		memJobs: map[string]*JobRecord{},
	}
}

// Queue exposes the scheduled job ids for the background worker to consume.
func (r *jobRegistry) Queue() <-chan string {
	return r.queue
}

func (r *jobRegistry) CreateJob(ctx context.Context, payload JobPayload) (string, error) {
	jobID := uuid.NewString()
	now := time.Now()
	rec := &JobRecord{
		JobID:          jobID,
		ConversationID: payload.ConversationID,
		LockID:         payload.LockID,
		Status:         JobStatusPending,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.save(ctx, rec); err != nil {
		return "", err
	}

	select {
	case r.queue <- jobID:
	default:
		// Queue saturated; hand off asynchronously rather than blocking the
		// webhook path.
		go func() { r.queue <- jobID }()
	}
	return jobID, nil
}

// UpdateStatus is a last-writer-wins mutation. Recognized extra fields:
// result, error, reason, processing_time_ms.
func (r *jobRegistry) UpdateStatus(ctx context.Context, jobID, status string, fields map[string]any) error {
	rec, err := r.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New("job not found: " + jobID)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	for k, v := range fields {
		switch k {
		case "result":
			if m, ok := v.(map[string]any); ok {
				rec.Result = m
			}
		case "error":
			if s, ok := v.(string); ok {
				rec.Error = s
			}
		case "reason":
			if s, ok := v.(string); ok {
				rec.Reason = s
			}
		case "processing_time_ms":
			switch n := v.(type) {
			case int64:
				rec.ProcessingTimeMs = n
			case int:
				rec.ProcessingTimeMs = int64(n)
			case float64:
				rec.ProcessingTimeMs = int64(n)
			}
		}
	}
	return r.save(ctx, rec)
}

func (r *jobRegistry) GetStatus(ctx context.Context, jobID string) (*JobRecord, error) {
	if r.rdb != nil {
		raw, err := r.rdb.Get(ctx, jobKeyPrefix+jobID).Result()
		if err == nil {
			var rec JobRecord
			if uerr := json.Unmarshal([]byte(raw), &rec); uerr != nil {
				return nil, uerr
			}
			return &rec, nil
		}
		if errors.Is(err, goredis.Nil) {
			return r.memGet(jobID), nil
		}
		r.warnDegraded(err)
	}
	return r.memGet(jobID), nil
}

// CancelJob marks the job cancelled. The worker honors it before the AI call;
// after that the dispatcher's supersession guard suppresses the side effect.
func (r *jobRegistry) CancelJob(ctx context.Context, jobID string) bool {
	if jobID == "" {
		return false
	}
	rec, err := r.GetStatus(ctx, jobID)
	if err != nil || rec == nil {
		return false
	}
	if terminalJobStatus(rec.Status) {
		return false
	}
	rec.Status = JobStatusCancelled
	rec.UpdatedAt = time.Now()
	if err := r.save(ctx, rec); err != nil {
		r.log.Warn("Cancel write failed", "job_id", jobID, "error", err)
		return false
	}
	r.log.Info("Cancelled AI job", "job_id", jobID, "conversation_id", rec.ConversationID, "lock_id", rec.LockID)
	return true
}

func (r *jobRegistry) save(ctx context.Context, rec *JobRecord) error {
	if r.rdb != nil {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := r.rdb.Set(ctx, jobKeyPrefix+rec.JobID, raw, jobTTL).Err(); err == nil {
			r.mu.Lock()
			r.degraded = false
			r.mu.Unlock()
			return nil
		} else {
			r.warnDegraded(err)
		}
	}
	r.mu.Lock()
	cp := *rec
	r.memJobs[rec.JobID] = &cp
	r.mu.Unlock()
	return nil
}

func (r *jobRegistry) memGet(jobID string) *JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.memJobs[jobID]
	if !ok {
		return nil
	}
	if terminalJobStatus(rec.Status) && time.Since(rec.UpdatedAt) > jobTTL {
		delete(r.memJobs, jobID)
		return nil
	}
	cp := *rec
	return &cp
}

func (r *jobRegistry) warnDegraded(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.degraded {
		r.degraded = true
		r.log.Warn("Shared store unreachable, keeping job records in memory", "error", err)
	}
}
