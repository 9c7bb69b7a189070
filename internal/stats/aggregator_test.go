package stats

import (
	"testing"
	"time"

	"chainscan/internal/models"
	"chainscan/internal/store"
)

func put(st *store.Store, id, kind, priority, status string, fn func(*models.Job)) {
	j := models.Job{
		ID:          id,
		Kind:        kind,
		Subject:     models.Subject{Address: "0xabc"},
		Priority:    priority,
		Status:      status,
		SubmittedAt: time.Now(),
	}
	if fn != nil {
		fn(&j)
	}
	st.Put(j)
}

func TestSuccessRateOverCompletedOnly(t *testing.T) {
	st := store.New(0)
	started := time.Now().Add(-time.Second)
	finished := started.Add(400 * time.Millisecond)

	put(st, "done-ok", models.KindScan, models.PriorityHigh, models.StatusCompleted, func(j *models.Job) {
		j.Progress = 100
		j.StartedAt = &started
		j.FinishedAt = &finished
		j.Result = &models.Result{Success: true}
	})
	put(st, "done-bad", models.KindScan, models.PriorityLow, models.StatusCompleted, func(j *models.Job) {
		j.Progress = 100
		j.StartedAt = &started
		j.FinishedAt = &finished
		j.Result = &models.Result{Success: false}
	})
	put(st, "failed", models.KindSimulation, models.PriorityMedium, models.StatusFailed, func(j *models.Job) {
		e := "scenario reverted"
		j.Error = &e
		j.FinishedAt = &finished
	})

	snap := New(st).Snapshot()
	if snap.SuccessRate != 50 {
		t.Fatalf("success rate = %g, want 50 (failed jobs excluded from denominator)", snap.SuccessRate)
	}
	if snap.TotalJobs != 3 {
		t.Fatalf("total = %d, want 3", snap.TotalJobs)
	}
	if snap.ByStatus[models.StatusCompleted] != 2 || snap.ByStatus[models.StatusFailed] != 1 {
		t.Fatalf("status breakdown = %v", snap.ByStatus)
	}
	if snap.AvgExecutionMS != 400 {
		t.Fatalf("avg execution = %gms, want 400", snap.AvgExecutionMS)
	}
}

func TestCountsAndBreakdowns(t *testing.T) {
	st := store.New(0)
	now := time.Now()

	put(st, "q1", models.KindScan, models.PriorityCritical, models.StatusQueued, nil)
	put(st, "q2", models.KindBytecode, models.PriorityCritical, models.StatusQueued, nil)
	put(st, "r1", models.KindSimulation, models.PriorityLow, models.StatusRunning, func(j *models.Job) {
		j.StartedAt = &now
		j.Progress = 40
	})

	snap := New(st).Snapshot()
	if snap.QueueLength != 2 {
		t.Fatalf("queue length = %d, want 2", snap.QueueLength)
	}
	if snap.ActiveRunners != 1 {
		t.Fatalf("active runners = %d, want 1", snap.ActiveRunners)
	}
	if snap.ByPriority[models.PriorityCritical] != 2 {
		t.Fatalf("priority breakdown = %v", snap.ByPriority)
	}
	if snap.SuccessRate != 0 {
		t.Fatalf("success rate with no completed jobs = %g, want 0", snap.SuccessRate)
	}
	if snap.AvgExecutionMS != 0 {
		t.Fatalf("avg execution with no completed jobs = %g, want 0", snap.AvgExecutionMS)
	}
}

func TestEmptyStore(t *testing.T) {
	snap := New(store.New(0)).Snapshot()
	if snap.TotalJobs != 0 || snap.QueueLength != 0 || snap.SuccessRate != 0 {
		t.Fatalf("empty store snapshot not zeroed: %+v", snap)
	}
	if snap.GeneratedAt.IsZero() {
		t.Fatalf("snapshot timestamp not set")
	}
}
