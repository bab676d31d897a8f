package dispatch

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ShayCichocki/issueforge/internal/exec"
)

// Backend hands work to an external execution system and returns the job reference it assigned.
type Backend interface {
	Trigger(ctx context.Context, ref string, inputs map[string]string) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, ref string, inputs map[string]string) (string, error)

// Trigger calls f.
func (f BackendFunc) Trigger(ctx context.Context, ref string, inputs map[string]string) (string, error) {
	return f(ctx, ref, inputs)
}

// Verify CommandBackend implements Backend at compile time.
var _ Backend = (*CommandBackend)(nil)

// CommandBackend triggers jobs through a CLI in the style of
// "gh workflow run <ref> -f key=value ...".
type CommandBackend struct {
	// Command is the executable, "gh" when empty.
	Command string
	// WorkDir is where the command runs.
	WorkDir string

	runner exec.CommandRunner
}

// NewCommandBackend returns a backend running command through runner.
// A nil runner uses the real process runner.
func NewCommandBackend(command, workDir string, runner exec.CommandRunner) *CommandBackend {
	if command == "" {
		command = "gh"
	}
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &CommandBackend{Command: command, WorkDir: workDir, runner: runner}
}

// Args builds the argument list for a trigger. Inputs are emitted in key order.
func (b *CommandBackend) Args(ref string, inputs map[string]string) []string {
	args := []string{"workflow", "run", ref}
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, "-f", k+"="+inputs[k])
	}
	return args
}

// Trigger runs the command. The trimmed output is used as job reference,
// falling back to ref when the command prints nothing.
func (b *CommandBackend) Trigger(ctx context.Context, ref string, inputs map[string]string) (string, error) {
	out, err := b.runner.Run(ctx, b.WorkDir, nil, b.Command, b.Args(ref, inputs)...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text != "" {
			return "", fmt.Errorf("%s workflow run %s: %w: %s", b.Command, ref, err, text)
		}
		return "", fmt.Errorf("%s workflow run %s: %w", b.Command, ref, err)
	}
	if text == "" {
		return ref, nil
	}
	return text, nil
}
