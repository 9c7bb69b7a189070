package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chainscan/internal/config"
	"chainscan/internal/models"
	"chainscan/internal/queue"
	"chainscan/internal/ratelimit"
	"chainscan/internal/service"
	"chainscan/internal/store"
	"chainscan/internal/worker"
)

func testConfig() config.Config {
	return config.Config{
		Env:           "test",
		HTTPPort:      "0",
		WorkerCount:   2,
		PollInterval:  2 * time.Millisecond,
		DelayCritical: time.Hour,
		DelayHigh:     time.Hour,
		DelayMedium:   time.Hour, // jobs stay queued unless a test overrides
		DelayLow:      time.Hour,
		StageMin:      time.Millisecond,
		StageMax:      3 * time.Millisecond,
		Seed:          1,
	}
}

func newServer(t *testing.T, cfg config.Config, limiter *ratelimit.TokenBucket, runPool bool) *Server {
	t.Helper()
	st := store.New(cfg.MaxRetainedJobs)
	q := queue.New(cfg.AdmissionDelays())
	pool := worker.NewPool(cfg, q, st)
	if runPool {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = pool.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	return New(cfg, service.New(cfg, st, q, pool), limiter)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestSubmitReturnsReceipt(t *testing.T) {
	router := newServer(t, testConfig(), nil, false).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{
		"kind":     models.KindScan,
		"subject":  "0xdeadbeef",
		"priority": models.PriorityHigh,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if body["jobId"] == "" || body["jobId"] == nil {
		t.Fatalf("no jobId in response: %v", body)
	}
	if body["status"] != "queued" {
		t.Fatalf("status field = %v, want queued", body["status"])
	}
	if body["queuePosition"].(float64) != 1 {
		t.Fatalf("queuePosition = %v, want 1", body["queuePosition"])
	}
	if body["estimatedStartTime"] == nil || body["estimatedStartTime"] == "" {
		t.Fatalf("no estimated start in response")
	}
}

func TestSubmitValidation(t *testing.T) {
	router := newServer(t, testConfig(), nil, false).Router()

	rec, _ := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{"kind": models.KindScan})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing subject: status = %d, want 400", rec.Code)
	}
	rec, _ = doJSON(t, router, http.MethodPost, "/jobs", map[string]any{"kind": "divination", "subject": "0xabc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: status = %d, want 400", rec2.Code)
	}
}

func TestGetJob(t *testing.T) {
	router := newServer(t, testConfig(), nil, false).Router()

	_, body := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{
		"kind": models.KindBytecode, "subject": "0xabc",
	})
	id := body["jobId"].(string)

	rec, job := doJSON(t, router, http.MethodGet, "/jobs/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if job["id"] != id || job["kind"] != models.KindBytecode {
		t.Fatalf("unexpected job body: %v", job)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/jobs/unknown-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d, want 404", rec.Code)
	}
}

func TestListPagination(t *testing.T) {
	router := newServer(t, testConfig(), nil, false).Router()

	for i := 0; i < 25; i++ {
		rec, _ := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{
			"kind": models.KindScan, "subject": fmt.Sprintf("0x%03d", i),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit %d failed: %d", i, rec.Code)
		}
	}

	rec, body := doJSON(t, router, http.MethodGet, "/jobs?page=2&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	items := body["items"].([]any)
	if len(items) != 10 {
		t.Fatalf("page 2 items = %d, want 10", len(items))
	}
	pagination := body["pagination"].(map[string]any)
	if pagination["total"].(float64) != 25 || pagination["total_pages"].(float64) != 3 {
		t.Fatalf("pagination = %v, want total 25 total_pages 3", pagination)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/jobs?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus status filter: status = %d, want 400", rec.Code)
	}
}

func TestPauseAndCancelStateErrors(t *testing.T) {
	router := newServer(t, testConfig(), nil, false).Router()

	_, body := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{
		"kind": models.KindScan, "subject": "0xabc",
	})
	id := body["jobId"].(string)

	rec, errBody := doJSON(t, router, http.MethodPost, "/jobs/"+id+"/pause", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("pause queued job: status = %d, want 400", rec.Code)
	}
	if !strings.Contains(errBody["error"].(string), "cannot pause non-running job") {
		t.Fatalf("pause error = %v", errBody["error"])
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/jobs/"+id+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first cancel: status = %d, want 200", rec.Code)
	}
	rec, errBody = doJSON(t, router, http.MethodPost, "/jobs/"+id+"/cancel", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second cancel: status = %d, want 400", rec.Code)
	}
	if !strings.Contains(errBody["error"].(string), "job already terminal") {
		t.Fatalf("cancel error = %v", errBody["error"])
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/jobs/unknown/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: status = %d, want 404", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := newServer(t, testConfig(), nil, false).Router()

	_, _ = doJSON(t, router, http.MethodPost, "/jobs", map[string]any{
		"kind": models.KindSimulation, "subject": "0xabc",
	})

	rec, body := doJSON(t, router, http.MethodGet, "/jobs/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["total_jobs"].(float64) != 1 {
		t.Fatalf("total_jobs = %v, want 1", body["total_jobs"])
	}
	if body["queue_length"].(float64) != 1 {
		t.Fatalf("queue_length = %v, want 1", body["queue_length"])
	}
}

func TestSubmitRateLimited(t *testing.T) {
	limiter := ratelimit.NewTokenBucket(2, 0.001)
	router := newServer(t, testConfig(), limiter, false).Router()

	for i := 0; i < 2; i++ {
		rec, _ := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{
			"kind": models.KindScan, "subject": "0xabc",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d inside capacity: status = %d", i+1, rec.Code)
		}
	}
	rec, _ := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{
		"kind": models.KindScan, "subject": "0xabc",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over capacity: status = %d, want 429", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newServer(t, testConfig(), nil, false).Router()
	rec, _ := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
}
