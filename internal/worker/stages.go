package worker

import "chainscan/internal/models"

// Stage sequences per job kind. Fixed order; the first 20% of progress is
// reserved for setup, the rest is spread evenly across completed stages.
var stageNames = map[string][]string{
	models.KindScan: {
		"Fetching contract source",
		"Running vulnerability detectors",
		"Correlating findings",
		"Generating report",
	},
	models.KindBytecode: {
		"Fetching bytecode",
		"Disassembling opcodes",
		"Reconstructing control flow",
		"Scoring complexity",
	},
	models.KindSimulation: {
		"Initializing environment",
		"Executing scenario",
		"Analyzing results",
		"Generating report",
	},
}

func stagesFor(kind string) []string {
	if s, ok := stageNames[kind]; ok {
		return s
	}
	return stageNames[models.KindScan]
}

// progressAfter reports the progress value once stage index i of n has
// completed: floor(20 + i*80/n).
func progressAfter(i, n int) int {
	if n <= 0 {
		return 20
	}
	return 20 + i*80/n
}
