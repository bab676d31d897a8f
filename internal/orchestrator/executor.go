package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	iexec "github.com/ShayCichocki/issueforge/internal/exec"
	"github.com/ShayCichocki/issueforge/internal/git"
	"github.com/ShayCichocki/issueforge/internal/pool"
	"github.com/ShayCichocki/issueforge/internal/workspace"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// maxOutputTail bounds how much command output is kept in a failure message.
const maxOutputTail = 2000

// CommandExecutor runs a task's shell command inside its workspace.
//
// The command sees ISSUEFORGE_TASK_ID, ISSUEFORGE_ITEM_TITLE and
// ISSUEFORGE_WORKSPACE in its environment. On success the task's declared
// artifacts that exist in the workspace are reported, plus every file git
// reports as changed when the workspace is a worktree. Those changes are
// committed on the workspace branch before the workspace is torn down.
type CommandExecutor struct {
	runner iexec.CommandRunner
	env    []string
	// changed lists modified files of a worktree.
	changed func(ctx context.Context, dir string) ([]string, error)
	// commit records every change of a worktree on its branch.
	commit func(ctx context.Context, dir, message string) error
}

var _ pool.Executor = (*CommandExecutor)(nil)

// NewCommandExecutor creates an executor. A nil runner uses os/exec.
// env entries ("KEY=value") are added to every command.
func NewCommandExecutor(runner iexec.CommandRunner, env ...string) *CommandExecutor {
	if runner == nil {
		runner = iexec.NewRunner()
	}
	return &CommandExecutor{runner: runner, env: env, changed: gitChangedFiles, commit: gitCommitAll}
}

func gitChangedFiles(ctx context.Context, dir string) ([]string, error) {
	return git.NewRunner(dir).ChangedFiles(ctx)
}

func gitCommitAll(ctx context.Context, dir, message string) error {
	return git.NewRunner(dir).CommitAll(ctx, message)
}

// Execute implements pool.Executor.
func (e *CommandExecutor) Execute(ctx context.Context, ws *workspace.Workspace, item models.WorkItem) models.TaskOutcome {
	start := time.Now()

	task := item.Task
	if task == nil || strings.TrimSpace(task.Command) == "" {
		return e.finish(ctx, ws, item, start)
	}

	env := append([]string{
		"ISSUEFORGE_TASK_ID=" + item.ID,
		"ISSUEFORGE_ITEM_TITLE=" + item.Title,
		"ISSUEFORGE_WORKSPACE=" + ws.Path,
	}, e.env...)

	output, err := e.runner.RunShell(ctx, ws.Path, env, task.Command)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			status := models.OutcomeCancelled
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				status = models.OutcomeTimeout
			}
			return models.TaskOutcome{Status: status, Duration: time.Since(start), Err: ctxErr}
		}
		return models.Failure(time.Since(start), fmt.Errorf("command %q: %w\n%s", task.Command, err, tail(output)))
	}

	return e.finish(ctx, ws, item, start)
}

// finish reports the artifacts of a successful task and commits worktree changes.
func (e *CommandExecutor) finish(ctx context.Context, ws *workspace.Workspace, item models.WorkItem, start time.Time) models.TaskOutcome {
	artifacts, changed := e.collectArtifacts(ctx, ws, item.Task)
	if changed > 0 && e.commit != nil {
		msg := fmt.Sprintf("%s: %s", item.ID, item.Title)
		if err := e.commit(ctx, ws.Path, msg); err != nil {
			return models.Failure(time.Since(start), fmt.Errorf("commit %s on %s: %w", item.ID, ws.Branch, err))
		}
	}
	return models.Success(time.Since(start), artifacts...)
}

// collectArtifacts returns the declared artifacts present in the workspace
// and, for worktrees, the files git sees as changed. changed counts the latter.
func (e *CommandExecutor) collectArtifacts(ctx context.Context, ws *workspace.Workspace, task *models.Task) (found []string, changed int) {
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			found = append(found, p)
		}
	}

	if task != nil {
		for _, a := range task.Artifacts {
			if _, err := os.Stat(filepath.Join(ws.Path, a)); err == nil {
				add(a)
			}
		}
	}
	if ws.Branch != "" && e.changed != nil {
		if files, err := e.changed(ctx, ws.Path); err == nil {
			changed = len(files)
			for _, f := range files {
				add(f)
			}
		}
	}
	return found, changed
}

func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}
