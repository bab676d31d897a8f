// Package exec provides an interface for running external commands.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty. env entries
	// ("KEY=value") are appended to the current process environment.
	Run(ctx context.Context, workDir string, env []string, name string, args ...string) (output []byte, err error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, env []string, command string) (output []byte, err error)
}
