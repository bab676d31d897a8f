// Package decompose breaks a work item into a set of dependent tasks.
package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// Decomposer turns a work item into tasks whose DependsOn fields form a DAG.
type Decomposer interface {
	Decompose(ctx context.Context, item models.WorkItem) ([]*models.Task, error)
}

// DecomposerFunc adapts a function to the Decomposer interface.
type DecomposerFunc func(ctx context.Context, item models.WorkItem) ([]*models.Task, error)

// Decompose calls f.
func (f DecomposerFunc) Decompose(ctx context.Context, item models.WorkItem) ([]*models.Task, error) {
	return f(ctx, item)
}

// ErrEmptyDecomposition is returned when no tasks come back.
var ErrEmptyDecomposition = errors.New("empty task list returned")

// decomposedTask is the JSON structure returned by Claude for a single task.
type decomposedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Command     string   `json:"command"`
	Artifacts   []string `json:"artifacts"`
	DependsOn   []string `json:"depends_on"`
}

// Completer sends a single prompt to a model and returns the text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClaudeDecomposer asks a model for the decomposition.
type ClaudeDecomposer struct {
	llm Completer
}

// Verify ClaudeDecomposer implements Decomposer at compile time.
var _ Decomposer = (*ClaudeDecomposer)(nil)

// NewClaudeDecomposer creates a decomposer backed by llm.
func NewClaudeDecomposer(llm Completer) *ClaudeDecomposer {
	return &ClaudeDecomposer{llm: llm}
}

// Decompose prompts the model and parses its JSON answer.
func (d *ClaudeDecomposer) Decompose(ctx context.Context, item models.WorkItem) ([]*models.Task, error) {
	prompt := fmt.Sprintf(decompositionPrompt, item.Title, item.Description)

	response, err := d.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("request decomposition: %w", err)
	}

	tasks, err := ParseResponse(item, response)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition response: %w", err)
	}
	return tasks, nil
}

// ParseResponse parses the model's JSON answer into tasks owned by item.
// Task IDs are "<item slug>-t<n>" in answer order; dependencies are resolved by title.
func ParseResponse(item models.WorkItem, response string) ([]*models.Task, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), preview)
	}

	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &decomposed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(decomposed) == 0 {
		return nil, ErrEmptyDecomposition
	}

	titleToID := make(map[string]models.TaskID, len(decomposed))
	tasks := make([]*models.Task, len(decomposed))
	now := time.Now()
	prefix := item.Slug()

	for i, dt := range decomposed {
		title := strings.TrimSpace(dt.Title)
		if title == "" {
			return nil, fmt.Errorf("task %d has no title", i+1)
		}
		if _, dup := titleToID[title]; dup {
			return nil, fmt.Errorf("duplicate task title %q", title)
		}

		id := models.TaskID(fmt.Sprintf("%s-t%d", prefix, i+1))
		titleToID[title] = id
		tasks[i] = &models.Task{
			ID:          id,
			ParentID:    item.ID,
			Title:       title,
			Description: dt.Description,
			Command:     dt.Command,
			Artifacts:   dt.Artifacts,
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
		}
	}

	for i, dt := range decomposed {
		for _, depTitle := range dt.DependsOn {
			depID, ok := titleToID[strings.TrimSpace(depTitle)]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for task %q", depTitle, dt.Title)
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
	}

	return tasks, nil
}
