package engine

import "errors"

var (
	// ErrInvalidConfig marks construction-time configuration failures:
	// unknown policy names, non-positive capacities. These fail fast
	// rather than degrade at runtime.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrCheckpointVersion is returned when a checkpoint carries an
	// unrecognized schema version. Restore is all-or-nothing: live
	// state is untouched when this error is returned.
	ErrCheckpointVersion = errors.New("unsupported checkpoint version")

	// ErrCheckpointCorrupt marks checkpoints that decode but fail
	// structural validation.
	ErrCheckpointCorrupt = errors.New("corrupt checkpoint")
)
