package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/issueforge/internal/decompose"
	"github.com/ShayCichocki/issueforge/internal/graph"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

var planCmd = &cobra.Command{
	Use:   "plan <plan.yaml>",
	Short: "Validate a plan and print its execution order",
	Long: `Validate a plan file and show how it would run.

Prints the topological order of the tasks and the levels that run in
parallel. Fails if a task depends on an unknown task or the dependencies
form a cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: showPlan,
}

func showPlan(cmd *cobra.Command, args []string) error {
	plan, err := decompose.LoadPlan(args[0])
	if err != nil {
		return err
	}

	g, err := graph.FromTasks(plan.Tasks)
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return err
	}
	levels, err := g.GroupIntoLevels()
	if err != nil {
		return err
	}

	titles := make(map[models.TaskID]string, len(plan.Tasks))
	for _, t := range plan.Tasks {
		titles[t.ID] = t.Title
	}

	printStatus("✓", fmt.Sprintf("%s: %d tasks, %d levels, budget %s",
		plan.Item.ID, len(plan.Tasks), len(levels), plan.Item.Priority.RuntimeBudget()), color.FgGreen)

	fmt.Println("\nOrder:")
	for i, id := range order {
		fmt.Printf("  %2d. %s\n", i+1, id)
	}
	fmt.Println()
	fmt.Println(renderLevels(levels, titles))
	return nil
}
