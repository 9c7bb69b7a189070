package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"chainscan/internal/models"
)

// Producer resolves a job of one kind into its result payload. The engine
// treats the payload as opaque apart from the Success flag.
type Producer func(ctx context.Context, job models.Job, rng *rand.Rand) (models.Result, error)

// defaultProducers wires the built-in simulated analyzers.
func defaultProducers() map[string]Producer {
	return map[string]Producer{
		models.KindScan:       scanProducer,
		models.KindBytecode:   bytecodeProducer,
		models.KindSimulation: simulationProducer,
	}
}

// forcedFailure lets callers request a deterministic producer failure via
// params, for testing.
func forcedFailure(job models.Job) bool {
	v, ok := job.Params["force_failure"].(bool)
	return ok && v
}

var severities = []string{"critical", "high", "medium", "low", "informational"}

// scanProducer fabricates a contract vulnerability scan report.
func scanProducer(_ context.Context, job models.Job, rng *rand.Rand) (models.Result, error) {
	if forcedFailure(job) {
		return models.Result{}, errors.New("scan aborted: source unavailable")
	}
	findings := rng.Intn(8)
	bySeverity := make(map[string]any, len(severities))
	remaining := findings
	for _, s := range severities {
		n := 0
		if remaining > 0 {
			n = rng.Intn(remaining + 1)
			remaining -= n
		}
		bySeverity[s] = n
	}
	riskScore := rng.Intn(101)
	return models.Result{
		Success: riskScore < 80,
		Data: map[string]any{
			"risk_score":     riskScore,
			"findings_total": findings,
			"by_severity":    bySeverity,
			"address":        job.Subject.Address,
		},
	}, nil
}

// bytecodeProducer fabricates a bytecode analysis summary.
func bytecodeProducer(_ context.Context, job models.Job, rng *rand.Rand) (models.Result, error) {
	if forcedFailure(job) {
		return models.Result{}, errors.New("bytecode fetch failed: empty code at address")
	}
	opcodes := 200 + rng.Intn(4800)
	return models.Result{
		Success: true,
		Data: map[string]any{
			"opcode_count":     opcodes,
			"complexity_score": rng.Intn(101),
			"hidden_functions": rng.Intn(4),
			"delegatecalls":    rng.Intn(6),
			"address":          job.Subject.Address,
		},
	}, nil
}

// simulationProducer fabricates an exploit simulation outcome. Success here
// means the scenario executed to completion; whether the exploit landed is
// part of the payload.
func simulationProducer(_ context.Context, job models.Job, rng *rand.Rand) (models.Result, error) {
	if forcedFailure(job) {
		return models.Result{}, errors.New("scenario deployment reverted")
	}
	// A small share of scenarios revert mid-flight.
	if rng.Float64() < 0.1 {
		return models.Result{}, fmt.Errorf("scenario reverted at block %s", job.Subject.Block)
	}
	return models.Result{
		Success: true,
		Data: map[string]any{
			"exploit_succeeded": rng.Float64() < 0.35,
			"gas_used":          21000 + rng.Intn(3_000_000),
			"blocks_simulated":  1 + rng.Intn(64),
			"address":           job.Subject.Address,
		},
	}, nil
}
