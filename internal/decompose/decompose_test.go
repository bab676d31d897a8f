package decompose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issueforge/internal/graph"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

var testItem = models.WorkItem{ID: "Issue 42", Title: "Add export", Description: "CSV export for reports", Priority: models.PriorityP1}

func TestParseResponse(t *testing.T) {
	response := `Here is the plan:
[
  {"title": "Schema", "description": "add table", "command": "make schema", "artifacts": ["db/schema.sql"], "depends_on": []},
  {"title": "Handler", "command": "go test ./api/...", "depends_on": ["Schema"]},
  {"title": "Docs", "depends_on": ["Schema", "Handler"]}
]
Let me know if you need more.`

	tasks, err := ParseResponse(testItem, response)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, models.TaskID("issue-42-t1"), tasks[0].ID)
	assert.Equal(t, "Issue 42", tasks[0].ParentID)
	assert.Equal(t, "make schema", tasks[0].Command)
	assert.Equal(t, []string{"db/schema.sql"}, tasks[0].Artifacts)
	assert.Empty(t, tasks[0].DependsOn)
	assert.Equal(t, models.TaskStatusPending, tasks[0].Status)

	assert.Equal(t, []models.TaskID{"issue-42-t1"}, tasks[1].DependsOn)
	assert.Equal(t, []models.TaskID{"issue-42-t1", "issue-42-t2"}, tasks[2].DependsOn)

	g, err := graph.FromTasks(tasks)
	require.NoError(t, err)
	levels, err := g.GroupIntoLevels()
	require.NoError(t, err)
	assert.Len(t, levels, 3)
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"no array", "I cannot help with that", "no valid JSON array"},
		{"bad json", `[{"title": }]`, "unmarshal JSON"},
		{"empty array", `[]`, "empty task list"},
		{"missing title", `[{"title": "  "}]`, "has no title"},
		{"duplicate title", `[{"title": "A"}, {"title": "A"}]`, "duplicate task title"},
		{"unknown dependency", `[{"title": "A", "depends_on": ["B"]}]`, `unknown dependency "B"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(testItem, tt.response)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseResponseCycleLeftToGraph(t *testing.T) {
	tasks, err := ParseResponse(testItem, `[{"title": "A", "depends_on": ["B"]}, {"title": "B", "depends_on": ["A"]}]`)
	require.NoError(t, err)

	_, err = graph.FromTasks(tasks)
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
}

func TestClaudeDecomposer(t *testing.T) {
	llm := &fakeCompleter{reply: `[{"title": "Only task", "command": "true"}]`}
	d := NewClaudeDecomposer(llm)

	tasks, err := d.Decompose(context.Background(), testItem)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Only task", tasks[0].Title)
	assert.Contains(t, llm.prompt, "Add export")
	assert.Contains(t, llm.prompt, "CSV export for reports")
}

func TestClaudeDecomposerRequestError(t *testing.T) {
	boom := errors.New("overloaded")
	d := NewClaudeDecomposer(&fakeCompleter{err: boom})

	_, err := d.Decompose(context.Background(), testItem)
	assert.ErrorIs(t, err, boom)
}

func TestNewClaudeClient(t *testing.T) {
	_, err := NewClaudeClient(context.Background(), ClientConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewClaudeClient(context.Background(), ClientConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, anthropic.ModelClaudeSonnet4_5_20250929, c.Model())

	in, out, calls := c.Usage()
	assert.Zero(t, in)
	assert.Zero(t, out)
	assert.Zero(t, calls)
}

func TestBedrockModel(t *testing.T) {
	assert.Equal(t, anthropic.Model("us.anthropic.claude-sonnet-4-5-20250929-v1:0"), BedrockModel(anthropic.ModelClaudeSonnet4_5_20250929))
	assert.Equal(t, anthropic.Model("us.anthropic.custom-v1:0"), BedrockModel("us.anthropic.custom-v1:0"))
	assert.Equal(t, anthropic.Model("my-model"), BedrockModel("my-model"))
}

const planYAML = `
item:
  id: issue-7
  title: Export reports
  priority: p0
tasks:
  - id: schema
    title: Add schema
    command: make schema
    artifacts: [db/schema.sql]
  - title: Handler
    depends_on: [schema]
`

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(planYAML), 0o644))

	p, err := LoadPlan(path)
	require.NoError(t, err)

	assert.Equal(t, models.PriorityP0, p.Item.Priority)
	require.Len(t, p.Tasks, 2)
	assert.Equal(t, models.TaskID("schema"), p.Tasks[0].ID)
	assert.Equal(t, models.TaskID("issue-7-t2"), p.Tasks[1].ID)
	assert.Equal(t, []models.TaskID{"schema"}, p.Tasks[1].DependsOn)
	assert.Equal(t, "issue-7", p.Tasks[1].ParentID)
	assert.Equal(t, models.TaskStatusPending, p.Tasks[1].Status)
}

func TestParsePlanErrors(t *testing.T) {
	_, err := ParsePlan([]byte("tasks:\n  - title: a\n"))
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = ParsePlan([]byte("item:\n  id: x\n"))
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = ParsePlan([]byte("item:\n  id: x\ntasks:\n  - id: a\n  - id: a\n"))
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = ParsePlan([]byte("item: ["))
	assert.Error(t, err)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStaticDecomposerCopies(t *testing.T) {
	src := []*models.Task{{ID: "a"}, {ID: "b", DependsOn: []models.TaskID{"a"}}}
	d := NewStaticDecomposer(src)

	tasks, err := d.Decompose(context.Background(), testItem)
	require.NoError(t, err)
	tasks[1].DependsOn[0] = "mutated"
	tasks[0].Status = models.TaskStatusDone

	assert.Equal(t, models.TaskID("a"), src[1].DependsOn[0])
	assert.Empty(t, src[0].Status)

	_, err = NewStaticDecomposer(nil).Decompose(context.Background(), testItem)
	assert.ErrorIs(t, err, ErrEmptyDecomposition)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Decompose(ctx, testItem)
	assert.ErrorIs(t, err, context.Canceled)
}
