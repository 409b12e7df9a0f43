package jobs

import "errors"

// Domain errors for the jobs package.
var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("jobs: job not found")

	// ErrJobExists is returned when scheduling an id that is already pending
	// without Replace.
	ErrJobExists = errors.New("jobs: job already exists")

	// ErrUnknownHandler is returned when a job names a handler that was
	// never registered.
	ErrUnknownHandler = errors.New("jobs: unknown handler")

	// ErrInvalidJob is returned for a job without a run time or handler.
	ErrInvalidJob = errors.New("jobs: invalid job")

	// ErrStopped is returned when scheduling on a stopped scheduler.
	ErrStopped = errors.New("jobs: scheduler stopped")
)
