package agent

import "errors"

// ErrContextCancelled is returned when a run's context is cancelled; the
// runtime normalizes both explicit cancellation and deadline expiry paths
// onto it so callers match one error.
var ErrContextCancelled = errors.New("context cancelled")
