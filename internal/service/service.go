package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chainscan/internal/config"
	"chainscan/internal/models"
	"chainscan/internal/queue"
	"chainscan/internal/stats"
	"chainscan/internal/store"
	"chainscan/internal/telemetry"
	"chainscan/internal/worker"
)

// JobService is the operation surface the HTTP layer calls: submit, query,
// list, pause, cancel, stats. Validation and state-conflict errors come back
// synchronously; everything after admission lands in the job record.
type JobService struct {
	cfg   config.Config
	store *store.Store
	queue *queue.PriorityQueue
	pool  *worker.Pool
	aggr  *stats.Aggregator
}

// New wires the service over the shared store, queue and pool.
func New(cfg config.Config, st *store.Store, q *queue.PriorityQueue, pool *worker.Pool) *JobService {
	return &JobService{
		cfg:   cfg,
		store: st,
		queue: q,
		pool:  pool,
		aggr:  stats.New(st),
	}
}

// SubmitParams describes a new analysis request.
type SubmitParams struct {
	Kind     string
	Address  string
	Block    string
	Priority string
	Params   map[string]any
}

// SubmitReceipt reports the queued job and a best-effort admission estimate.
// Both position and estimate can go stale immediately if higher-priority
// work arrives.
type SubmitReceipt struct {
	JobID          string
	QueuePosition  int
	EstimatedStart time.Time
}

// Submit validates the request, stores the job as queued and admits it to
// the priority queue.
func (s *JobService) Submit(p SubmitParams) (SubmitReceipt, error) {
	address := strings.TrimSpace(p.Address)
	if address == "" {
		return SubmitReceipt{}, fmt.Errorf("%w: subject address is required", ErrInvalidInput)
	}
	if !models.ValidKind(p.Kind) {
		return SubmitReceipt{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, p.Kind)
	}
	priority := p.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return SubmitReceipt{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, p.Priority)
	}

	now := time.Now()
	job := models.Job{
		ID:          uuid.NewString(),
		Kind:        p.Kind,
		Subject:     models.Subject{Address: address, Block: strings.TrimSpace(p.Block)},
		Priority:    priority,
		Status:      models.StatusQueued,
		Params:      p.Params,
		SubmittedAt: now,
	}
	s.store.Put(job)
	s.queue.Enqueue(job.ID, priority)
	telemetry.SubmitCounter.Inc()
	telemetry.QueueDepthGauge.Set(float64(s.queue.Len()))

	position := s.queue.Position(job.ID)
	if position == 0 {
		// Already picked up by a runner.
		position = 1
	}
	log.Info().Str("job_id", job.ID).Str("kind", job.Kind).
		Str("priority", priority).Int("position", position).Msg("job submitted")
	return SubmitReceipt{
		JobID:          job.ID,
		QueuePosition:  position,
		EstimatedStart: s.estimateStart(now, priority, position),
	}, nil
}

// GetStatus returns a snapshot of the job record.
func (s *JobService) GetStatus(id string) (models.Job, error) {
	j, ok := s.store.Get(id)
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

// PageMeta describes List pagination.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// List returns jobs matching the filter, newest first, with offset
// pagination. Page is 1-indexed.
func (s *JobService) List(f store.Filter, page, limit int) ([]models.Job, PageMeta, error) {
	if f.Status != "" && f.Status != models.StatusQueued && f.Status != models.StatusRunning &&
		f.Status != models.StatusCompleted && f.Status != models.StatusFailed {
		return nil, PageMeta{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	if f.Kind != "" && !models.ValidKind(f.Kind) {
		return nil, PageMeta{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, f.Kind)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	items, total := s.store.List(f, page, limit)
	meta := PageMeta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
	return items, meta, nil
}

// Pause returns a running job to the back of its priority class. Progress
// made so far is discarded; the job re-enters with a fresh admission delay.
func (s *JobService) Pause(id string) error {
	j, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status != models.StatusRunning {
		return fmt.Errorf("%w: cannot pause non-running job", ErrInvalidState)
	}
	paused := s.store.Update(id, func(j *models.Job) bool {
		if j.Status != models.StatusRunning {
			return false
		}
		j.Status = models.StatusQueued
		j.Progress = 0
		j.CurrentStage = ""
		j.StartedAt = nil
		return true
	})
	if !paused {
		return fmt.Errorf("%w: cannot pause non-running job", ErrInvalidState)
	}
	s.pool.Interrupt(id)
	s.queue.Enqueue(id, j.Priority)
	telemetry.PausedCounter.Inc()
	telemetry.QueueDepthGauge.Set(float64(s.queue.Len()))
	log.Info().Str("job_id", id).Msg("job paused and re-queued")
	return nil
}

// Cancel moves a non-terminal job to failed with error "cancelled". The
// state flip is immediate; an in-flight runner stands down cooperatively.
func (s *JobService) Cancel(id string) error {
	j, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if models.Terminal(j.Status) {
		return fmt.Errorf("%w: job already terminal", ErrInvalidState)
	}
	cancelled := s.store.Update(id, func(j *models.Job) bool {
		if models.Terminal(j.Status) {
			return false
		}
		j.Status = models.StatusFailed
		j.CurrentStage = ""
		e := "cancelled"
		j.Error = &e
		t := time.Now()
		j.FinishedAt = &t
		return true
	})
	if !cancelled {
		return fmt.Errorf("%w: job already terminal", ErrInvalidState)
	}
	s.queue.Remove(id)
	s.pool.Interrupt(id)
	telemetry.CancelledCounter.Inc()
	telemetry.FailedCounter.Inc()
	telemetry.QueueDepthGauge.Set(float64(s.queue.Len()))
	log.Info().Str("job_id", id).Msg("job cancelled")
	return nil
}

// Stats computes the aggregate view fresh from the store.
func (s *JobService) Stats() stats.Snapshot {
	return s.aggr.Snapshot()
}

// estimateStart projects when a job at the given queue position should be
// admitted: its class delay, plus roughly one mean job duration per full
// wave of jobs ahead of it across the worker pool.
func (s *JobService) estimateStart(now time.Time, priority string, position int) time.Time {
	delay := s.cfg.AdmissionDelays()[priority]
	workers := s.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	stageCount := 4
	meanJob := time.Duration(stageCount) * (s.cfg.StageMin + s.cfg.StageMax) / 2
	waves := (position - 1) / workers
	return now.Add(delay).Add(time.Duration(waves) * meanJob)
}
