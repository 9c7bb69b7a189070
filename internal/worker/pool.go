package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"chainscan/internal/config"
	"chainscan/internal/models"
	"chainscan/internal/queue"
	"chainscan/internal/store"
	"chainscan/internal/telemetry"
)

type runHandle struct {
	cancel context.CancelFunc
}

// Pool drives a bounded set of runner goroutines that admit queued jobs and
// walk them through their analysis stages. All record mutations go through
// guarded store updates keyed on the job's attempt number, so a runner whose
// job was cancelled or paused out from under it silently stands down.
type Pool struct {
	cfg       config.Config
	queue     *queue.PriorityQueue
	store     *store.Store
	producers map[string]Producer
	seed      int64

	activeMu sync.Mutex
	active   map[string]*runHandle
}

// NewPool creates a pool with the built-in producers registered.
func NewPool(cfg config.Config, q *queue.PriorityQueue, st *store.Store) *Pool {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pool{
		cfg:       cfg,
		queue:     q,
		store:     st,
		producers: defaultProducers(),
		seed:      seed,
		active:    make(map[string]*runHandle),
	}
}

// RegisterProducer binds a producer to a job kind, replacing any default.
func (p *Pool) RegisterProducer(kind string, producer Producer) {
	if kind == "" || producer == nil {
		return
	}
	p.producers[kind] = producer
}

// Run starts the runner goroutines and blocks until ctx is cancelled and all
// runners have drained.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		rng := rand.New(rand.NewSource(p.seed + int64(i)))
		go func() {
			defer wg.Done()
			p.runLoop(ctx, rng)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Interrupt cancels the in-flight execution of a job, if any. The caller is
// responsible for the record transition; the runner only stands down.
func (p *Pool) Interrupt(id string) {
	p.activeMu.Lock()
	h := p.active[id]
	p.activeMu.Unlock()
	if h != nil {
		h.cancel()
	}
}

func (p *Pool) runLoop(ctx context.Context, rng *rand.Rand) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, ok := p.queue.DequeueNext(time.Now())
		if !ok {
			wait := p.cfg.PollInterval
			if next, any := p.queue.NextEligible(); any {
				if d := time.Until(next); d > 0 && d < wait {
					wait = d
				}
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-p.queue.Notify():
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		telemetry.QueueDepthGauge.Set(float64(p.queue.Len()))
		p.execute(ctx, id, rng)
	}
}

func (p *Pool) execute(ctx context.Context, id string, rng *rand.Rand) {
	var (
		myAttempt int
		job       models.Job
	)
	started := time.Now()
	admitted := p.store.Update(id, func(j *models.Job) bool {
		if j.Status != models.StatusQueued {
			return false
		}
		j.Status = models.StatusRunning
		t := started
		j.StartedAt = &t
		j.Progress = 0
		j.CurrentStage = ""
		j.Attempts++
		myAttempt = j.Attempts
		job = j.Clone()
		return true
	})
	if !admitted {
		// Cancelled between dequeue and admission.
		return
	}
	telemetry.RunningGauge.Inc()
	defer telemetry.RunningGauge.Dec()
	log.Debug().Str("job_id", id).Str("kind", job.Kind).Int("attempt", myAttempt).Msg("job admitted")

	jctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := &runHandle{cancel: cancel}
	p.track(id, h)
	defer p.untrack(id, h)

	stages := stagesFor(job.Kind)
	for i, stage := range stages {
		if !p.guarded(id, myAttempt, func(j *models.Job) {
			j.CurrentStage = stage
		}) {
			return
		}
		select {
		case <-jctx.Done():
			return
		case <-time.After(p.stageDuration(rng)):
		}
		pct := progressAfter(i, len(stages))
		if !p.guarded(id, myAttempt, func(j *models.Job) {
			if pct > j.Progress {
				j.Progress = pct
			}
		}) {
			return
		}
	}

	// Injected infrastructure flakiness, independent of the producer.
	if p.cfg.FailureRate > 0 && rng.Float64() < p.cfg.FailureRate {
		p.fail(id, myAttempt, "infrastructure error: runner lost mid-analysis")
		return
	}

	producer, ok := p.producers[job.Kind]
	if !ok {
		p.fail(id, myAttempt, "no producer registered for kind "+job.Kind)
		return
	}
	result, err := producer(jctx, job, rng)
	if err != nil {
		p.fail(id, myAttempt, err.Error())
		return
	}

	finished := time.Now()
	completed := p.store.Update(id, func(j *models.Job) bool {
		if j.Status != models.StatusRunning || j.Attempts != myAttempt {
			return false
		}
		j.Status = models.StatusCompleted
		j.Progress = 100
		j.CurrentStage = ""
		t := finished
		j.FinishedAt = &t
		j.Result = &result
		return true
	})
	if completed {
		telemetry.CompletedCounter.Inc()
		telemetry.ExecSeconds.Observe(finished.Sub(started).Seconds())
		log.Info().Str("job_id", id).Str("kind", job.Kind).
			Dur("took", finished.Sub(started)).Bool("success", result.Success).
			Msg("job completed")
	}
}

// guarded applies mutate only while the job is still running this attempt.
func (p *Pool) guarded(id string, attempt int, mutate func(*models.Job)) bool {
	return p.store.Update(id, func(j *models.Job) bool {
		if j.Status != models.StatusRunning || j.Attempts != attempt {
			return false
		}
		mutate(j)
		return true
	})
}

func (p *Pool) fail(id string, attempt int, msg string) {
	failed := p.store.Update(id, func(j *models.Job) bool {
		if j.Status != models.StatusRunning || j.Attempts != attempt {
			return false
		}
		j.Status = models.StatusFailed
		j.CurrentStage = ""
		t := time.Now()
		j.FinishedAt = &t
		e := msg
		j.Error = &e
		return true
	})
	if failed {
		telemetry.FailedCounter.Inc()
		log.Warn().Str("job_id", id).Str("error", msg).Msg("job failed")
	}
}

func (p *Pool) stageDuration(rng *rand.Rand) time.Duration {
	min, max := p.cfg.StageMin, p.cfg.StageMax
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

func (p *Pool) track(id string, h *runHandle) {
	p.activeMu.Lock()
	p.active[id] = h
	p.activeMu.Unlock()
}

// untrack removes the handle only if it is still ours; a paused job may have
// been re-admitted by another runner in the meantime.
func (p *Pool) untrack(id string, h *runHandle) {
	p.activeMu.Lock()
	if p.active[id] == h {
		delete(p.active, id)
	}
	p.activeMu.Unlock()
}
