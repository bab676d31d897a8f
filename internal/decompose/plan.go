package decompose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// ErrInvalidPlan indicates a plan file that cannot be turned into tasks.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is a hand-written decomposition: a work item and its tasks.
//
//	item:
//	  id: issue-42
//	  title: Add export endpoint
//	  priority: P1
//	tasks:
//	  - id: schema
//	    title: Add export schema
//	    command: make schema
//	  - id: handler
//	    title: Wire handler
//	    depends_on: [schema]
type Plan struct {
	Item  models.WorkItem `yaml:"item"`
	Tasks []*models.Task  `yaml:"tasks"`
}

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan. Task IDs default to "<item slug>-t<n>",
// every task is pending and owned by the plan's item.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	p.Item.ID = strings.TrimSpace(p.Item.ID)
	if p.Item.ID == "" {
		return nil, fmt.Errorf("%w: item id is required", ErrInvalidPlan)
	}
	if p.Item.Title == "" {
		p.Item.Title = p.Item.ID
	}
	p.Item.Priority = models.ParsePriority(string(p.Item.Priority))
	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidPlan)
	}

	now := time.Now()
	seen := make(map[models.TaskID]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t == nil {
			return nil, fmt.Errorf("%w: task %d is empty", ErrInvalidPlan, i+1)
		}
		if t.ID == "" {
			t.ID = models.TaskID(fmt.Sprintf("%s-t%d", p.Item.Slug(), i+1))
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: duplicate task id %q", ErrInvalidPlan, t.ID)
		}
		seen[t.ID] = true
		if t.Title == "" {
			t.Title = string(t.ID)
		}
		t.ParentID = p.Item.ID
		t.Status = models.TaskStatusPending
		t.CreatedAt = now
	}
	return &p, nil
}

// StaticDecomposer returns a fixed task list for every item.
type StaticDecomposer struct {
	tasks []*models.Task
}

// Verify StaticDecomposer implements Decomposer at compile time.
var _ Decomposer = (*StaticDecomposer)(nil)

// NewStaticDecomposer wraps a prepared task list, typically Plan.Tasks.
func NewStaticDecomposer(tasks []*models.Task) *StaticDecomposer {
	return &StaticDecomposer{tasks: tasks}
}

// Decompose returns copies of the prepared tasks so callers may mutate them.
func (d *StaticDecomposer) Decompose(ctx context.Context, _ models.WorkItem) ([]*models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.tasks) == 0 {
		return nil, ErrEmptyDecomposition
	}
	out := make([]*models.Task, len(d.tasks))
	for i, t := range d.tasks {
		cp := *t
		cp.DependsOn = append([]models.TaskID(nil), t.DependsOn...)
		cp.Artifacts = append([]string(nil), t.Artifacts...)
		out[i] = &cp
	}
	return out, nil
}
