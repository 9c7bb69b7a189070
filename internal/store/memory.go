package store

import (
	"fmt"
	"sort"
	"sync"

	"chainscan/internal/models"
)

// Store is the in-memory source of truth for job records. All reads return
// deep copies; all writes happen under the store lock so readers never see a
// half-written record.
type Store struct {
	mu          sync.RWMutex
	jobs        map[string]*models.Job
	maxRetained int
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Status string
	Kind   string
}

// New creates a store. maxRetained bounds how many records are kept; once
// exceeded, the oldest terminal records are evicted. Queued and running jobs
// are never evicted. Zero means unbounded.
func New(maxRetained int) *Store {
	return &Store{
		jobs:        make(map[string]*models.Job),
		maxRetained: maxRetained,
	}
}

// Put inserts or overwrites a record by id. Overwriting a terminal record
// with a non-terminal status is a programming error and panics.
func (s *Store) Put(job models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok {
		if models.Terminal(existing.Status) && !models.Terminal(job.Status) {
			panic(fmt.Sprintf("store: job %s rewound from %s to %s", job.ID, existing.Status, job.Status))
		}
	}
	clone := job.Clone()
	s.jobs[job.ID] = &clone
	s.evictLocked()
}

// Get returns a snapshot copy of the record.
func (s *Store) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return j.Clone(), true
}

// Update applies fn to the record under the store lock. fn may inspect the
// current state and return false to abort without mutating anything the
// caller depends on; Update then reports false. This is the guarded
// transition primitive: scheduler and service mutations race through here,
// and a stale runner whose guard fails leaves the record untouched.
func (s *Store) Update(id string, fn func(j *models.Job) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	return fn(j)
}

// List returns records matching f, newest first by submission time, with
// 1-indexed offset pagination. total is the filtered count before paging.
func (s *Store) List(f Filter, page, pageSize int) ([]models.Job, int) {
	s.mu.RLock()
	matched := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Kind != "" && j.Kind != f.Kind {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].SubmittedAt.Equal(matched[b].SubmittedAt) {
			return matched[a].SubmittedAt.After(matched[b].SubmittedAt)
		}
		return matched[a].ID > matched[b].ID
	})
	total := len(matched)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	items := make([]models.Job, 0, end-start)
	for _, j := range matched[start:end] {
		items = append(items, j.Clone())
	}
	s.mu.RUnlock()
	return items, total
}

// Snapshot copies every record, for aggregate computation.
func (s *Store) Snapshot() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// Delete removes a record entirely. Explicit cleanup only, not part of the
// job lifecycle.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) evictLocked() {
	if s.maxRetained <= 0 || len(s.jobs) <= s.maxRetained {
		return
	}
	terminal := make([]*models.Job, 0)
	for _, j := range s.jobs {
		if models.Terminal(j.Status) {
			terminal = append(terminal, j)
		}
	}
	sort.Slice(terminal, func(a, b int) bool {
		return terminal[a].SubmittedAt.Before(terminal[b].SubmittedAt)
	})
	for _, j := range terminal {
		if len(s.jobs) <= s.maxRetained {
			return
		}
		delete(s.jobs, j.ID)
	}
}
