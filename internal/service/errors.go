package service

import "errors"

// Errors returned synchronously to callers. Once a job is admitted, failures
// are recorded in the job record instead and observed via GetStatus.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state")
)
