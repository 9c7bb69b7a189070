package stats

import (
	"time"

	"chainscan/internal/models"
	"chainscan/internal/store"
)

// Snapshot is the derived view over the job store at one instant.
type Snapshot struct {
	TotalJobs      int            `json:"total_jobs"`
	ByStatus       map[string]int `json:"by_status"`
	ByKind         map[string]int `json:"by_kind"`
	ByPriority     map[string]int `json:"by_priority"`
	QueueLength    int            `json:"queue_length"`
	ActiveRunners  int            `json:"active_runners"`
	AvgExecutionMS float64        `json:"avg_execution_ms"`
	SuccessRate    float64        `json:"success_rate"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// Aggregator computes metrics fresh from the store on every request.
type Aggregator struct {
	store *store.Store
}

// New creates an aggregator over the given store.
func New(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Snapshot walks every record once. Success rate is the share of completed
// jobs whose result reports success; failed jobs are excluded from the
// denominator. Execution time is finished minus started, in milliseconds.
func (a *Aggregator) Snapshot() Snapshot {
	jobs := a.store.Snapshot()
	snap := Snapshot{
		TotalJobs:   len(jobs),
		ByStatus:    make(map[string]int, 4),
		ByKind:      make(map[string]int, len(models.Kinds())),
		ByPriority:  make(map[string]int, len(models.Priorities())),
		GeneratedAt: time.Now(),
	}

	var (
		completed    int
		succeeded    int
		execTotalMS  float64
		execObserved int
	)
	for _, j := range jobs {
		snap.ByStatus[j.Status]++
		snap.ByKind[j.Kind]++
		snap.ByPriority[j.Priority]++
		if j.Status != models.StatusCompleted {
			continue
		}
		completed++
		if j.Result != nil && j.Result.Success {
			succeeded++
		}
		if j.StartedAt != nil && j.FinishedAt != nil {
			execTotalMS += float64(j.FinishedAt.Sub(*j.StartedAt).Milliseconds())
			execObserved++
		}
	}

	snap.QueueLength = snap.ByStatus[models.StatusQueued]
	snap.ActiveRunners = snap.ByStatus[models.StatusRunning]
	if execObserved > 0 {
		snap.AvgExecutionMS = execTotalMS / float64(execObserved)
	}
	if completed > 0 {
		snap.SuccessRate = 100 * float64(succeeded) / float64(completed)
	}
	return snap
}
