package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	name string
	args []string
	out  string
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, workDir string, env []string, name string, args ...string) ([]byte, error) {
	r.name = name
	r.args = args
	return []byte(r.out), r.err
}

func (r *fakeRunner) RunShell(ctx context.Context, workDir string, env []string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, env, "sh", "-c", command)
}

func TestCommandBackendArgs(t *testing.T) {
	r := &fakeRunner{out: "https://ci.example/runs/77\n"}
	b := NewCommandBackend("", "", r)

	ref, err := b.Trigger(context.Background(), "agent.yml", map[string]string{"priority": "P1", "item_id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "https://ci.example/runs/77", ref)
	assert.Equal(t, "gh", r.name)
	assert.Equal(t, []string{"workflow", "run", "agent.yml", "-f", "item_id=42", "-f", "priority=P1"}, r.args)
}

func TestCommandBackendEmptyOutputFallsBackToRef(t *testing.T) {
	b := NewCommandBackend("ci", "", &fakeRunner{})
	ref, err := b.Trigger(context.Background(), "build.yml", nil)
	require.NoError(t, err)
	assert.Equal(t, "build.yml", ref)
}

func TestCommandBackendError(t *testing.T) {
	b := NewCommandBackend("gh", "", &fakeRunner{out: "could not find workflow", err: errors.New("exit status 1")})
	_, err := b.Trigger(context.Background(), "missing.yml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not find workflow")
}
