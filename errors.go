package diffuse

import "errors"

// Sentinel errors for the diffuse package.
// Use errors.Is to check: errors.Is(err, diffuse.ErrInvalidConfig)
var (
	ErrInvalidConfig   = errors.New("diffuse: invalid configuration")
	ErrMissingSchedule = errors.New("diffuse: schedule required for VP SDE")
	ErrUnsupportedSDE  = errors.New("diffuse: unsupported SDE kind")
	ErrTimestepRange   = errors.New("diffuse: timestep out of range")
	ErrPrediction      = errors.New("diffuse: sampling failed")
	ErrTesting         = errors.New("diffuse: evaluation failed")
	ErrMetric          = errors.New("diffuse: metric computation failed")
)
