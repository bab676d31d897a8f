package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/issueforge/internal/state"
)

var (
	statusLimit      int
	statusDispatches bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recent runs, or the history of one run",
	Long: `Display run history from the state database.

Without arguments, lists the most recent runs.
With a run id, shows its phase transitions and task outcomes.
With --dispatches, lists recent hand-offs to the CI backend.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of entries to show")
	statusCmd.Flags().BoolVar(&statusDispatches, "dispatches", false, "List recent dispatches instead of runs")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := projectRoot()
	if err != nil {
		return err
	}

	if _, err := os.Stat(resolvePath(root, cfg.State.DBPath)); os.IsNotExist(err) {
		fmt.Println("No runs yet. Run 'issueforge run <plan.yaml>' to start.")
		return nil
	}

	db, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	switch {
	case statusDispatches:
		return showDispatches(db)
	case len(args) == 1:
		return showRun(db, args[0])
	default:
		return showRuns(db)
	}
}

func showRuns(db *state.DB) error {
	runs, err := db.ListRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Println(headerStyle.Render("Recent runs"))
	for _, r := range runs {
		fmt.Printf("%s  %-10s %-18s %6.2f%%  %s  %s\n",
			r.ID[:8], runStatusColor(r.Status).Sprint(r.Status), r.Phase, r.SuccessRate,
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.WorkItemID)
	}
	return nil
}

func showRun(db *state.DB, id string) error {
	run, err := db.GetRun(id)
	if err != nil {
		return fmt.Errorf("get run %s: %w", id, err)
	}

	fmt.Printf("%s %s\n", headerStyle.Render("Run"), run.ID)
	fmt.Printf("  Work item:  %s (%s)\n", run.WorkItemID, run.Title)
	fmt.Printf("  Status:     %s\n", runStatusColor(run.Status).Sprint(run.Status))
	fmt.Printf("  Phase:      %s\n", run.Phase)
	fmt.Printf("  Success:    %.2f%%\n", run.SuccessRate)
	if run.FinishedAt != nil {
		fmt.Printf("  Duration:   %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	} else {
		fmt.Printf("  Running for %s\n", time.Since(run.StartedAt).Round(time.Second))
	}
	if run.Error != "" {
		fmt.Printf("  Error:      %s\n", firstLine(run.Error))
	}

	transitions, err := db.ListTransitions(run.ID)
	if err != nil {
		return fmt.Errorf("list transitions: %w", err)
	}
	fmt.Println("\nTransitions:")
	for _, t := range transitions {
		fmt.Printf("  %s  %s -> %s\n", t.At.Local().Format("15:04:05.000"), t.From, t.To)
	}

	outcomes, err := db.ListOutcomes(run.ID)
	if err != nil {
		return fmt.Errorf("list outcomes: %w", err)
	}
	fmt.Println("\nOutcomes:")
	for _, o := range outcomes {
		line := fmt.Sprintf("  #%d %-24s %-9s %s", o.Attempt, o.TaskID, o.Status, o.Duration.Round(time.Millisecond))
		if o.Error != "" {
			line += "  " + firstLine(o.Error)
		}
		fmt.Println(line)
	}
	return nil
}

func showDispatches(db *state.DB) error {
	records, err := db.ListDispatches(statusLimit)
	if err != nil {
		return fmt.Errorf("list dispatches: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No dispatches recorded.")
		return nil
	}

	fmt.Println(headerStyle.Render("Recent dispatches"))
	for _, d := range records {
		result := color.GreenString("ok")
		detail := d.Reference
		if !d.Success {
			result = color.RedString("failed")
			detail = firstLine(d.Error)
		}
		fmt.Printf("%s  %-6s %-3s %-24s %s\n",
			d.DispatchedAt.Local().Format("2006-01-02 15:04"), result, d.Priority, d.ItemID, detail)
	}
	return nil
}

func runStatusColor(s state.RunStatus) *color.Color {
	switch s {
	case state.RunCompleted:
		return color.New(color.FgGreen)
	case state.RunFailed:
		return color.New(color.FgRed)
	case state.RunCanceled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
