package decompose

// decompositionPrompt is the prompt template for task decomposition.
// Arguments: work item title, work item description.
const decompositionPrompt = `Break this work item into subtasks that can run in isolated workspaces. Each task should be small enough for a single worker to finish in one session.

Work item: %s

%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "title": "Short task title",
    "description": "What the task must achieve",
    "command": "shell command that performs or verifies the task, run from the workspace root",
    "artifacts": ["paths/the/task/produces.go"],
    "depends_on": ["title of dependency 1"]
  }
]

Rules:
- Titles must be unique; depends_on refers to other tasks by title
- Only add a dependency when the task truly needs the other task's output
- Tasks without a dependency between them run in parallel, so keep them independent
- Never create circular dependencies
- Use an empty array [] for depends_on and artifacts when there are none`
