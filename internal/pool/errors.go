package pool

import "errors"

var (
	// ErrWorkspaceCreation wraps provider failures while creating or binding a workspace.
	// The affected task is recorded as Failed; the batch continues unless fail-fast is set.
	ErrWorkspaceCreation = errors.New("workspace creation failed")
	// ErrTimeout is the error carried by outcomes the pool stopped waiting for.
	ErrTimeout = errors.New("task timed out")
	// ErrInvalidConfig is returned when a pool is built from an unusable Config.
	ErrInvalidConfig = errors.New("invalid pool config")
)
