package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issueforge/internal/aggregate"
	"github.com/ShayCichocki/issueforge/internal/dispatch"
	"github.com/ShayCichocki/issueforge/internal/graph"
	"github.com/ShayCichocki/issueforge/internal/orchestrator"
	"github.com/ShayCichocki/issueforge/internal/phase"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPlanCommand(t *testing.T) {
	setupColor(true)
	path := writePlan(t, `
item:
  id: issue-9
  priority: P2
tasks:
  - id: a
  - id: b
    depends_on: [a]
`)
	require.NoError(t, showPlan(planCmd, []string{path}))
}

func TestPlanCommandRejectsCycle(t *testing.T) {
	setupColor(true)
	path := writePlan(t, `
item:
  id: issue-9
tasks:
  - id: a
    depends_on: [b]
  - id: b
    depends_on: [a]
`)
	err := showPlan(planCmd, []string{path})
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
}

func TestRenderReport(t *testing.T) {
	setupColor(true)
	rep := &orchestrator.Report{
		RunID: "run-1",
		Item:  models.WorkItem{ID: "issue-1", Title: "Export"},
		Tasks: []*models.Task{
			{ID: "a", Status: models.TaskStatusDone},
			{ID: "b", Status: models.TaskStatusFailed, Error: "exit 1\nmore output"},
		},
		Result:   aggregate.AggregatedResult{Total: 2, Successful: 1, Failed: 1, SuccessRate: 50},
		Phase:    phase.AutoMerge,
		PRRef:    "https://example.test/pr/1",
		Duration: 1500 * time.Millisecond,
	}

	out := renderReport(rep)
	assert.Contains(t, out, "Export")
	assert.Contains(t, out, "AutoMerge")
	assert.Contains(t, out, "1/2 (50.00%)")
	assert.Contains(t, out, "exit 1")
	assert.NotContains(t, out, "more output")
	assert.Contains(t, out, "https://example.test/pr/1")
}

func TestDispatchRecord(t *testing.T) {
	now := time.Now()
	rec := dispatchRecord(dispatch.DispatchResult{
		ItemID:    "i1",
		Priority:  models.PriorityP0,
		Success:   false,
		Err:       errors.New("gh: not logged in"),
		Budget:    3 * time.Hour,
		Timestamp: now,
	})
	assert.Equal(t, "i1", rec.ItemID)
	assert.Equal(t, "gh: not logged in", rec.Error)
	assert.Equal(t, 3*time.Hour, rec.Budget)
	assert.Equal(t, now, rec.DispatchedAt)
	assert.False(t, rec.Success)
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := findGitRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	assert.Equal(t, "/abs/state.db", resolvePath(root, "/abs/state.db"))
	assert.Equal(t, filepath.Join(root, ".issueforge", "state.db"), resolvePath(root, filepath.Join(".issueforge", "state.db")))
}
