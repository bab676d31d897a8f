package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/issueforge/internal/config"
	"github.com/ShayCichocki/issueforge/internal/workspace"
)

var (
	cleanupVerbose bool
	cleanupDryRun  bool
	cleanupRuns    time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees and old run history",
	Long: `Clean up after crashed or interrupted runs.

This command:
  - Lists issueforge worktrees (branches under forge/)
  - Removes them and runs git worktree prune

Run it when no issueforge run is in progress in this repository.

With --runs, also deletes runs started before the given age.

Examples:
  issueforge cleanup --dry-run
  issueforge cleanup -v
  issueforge cleanup --runs 720h`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().DurationVar(&cleanupRuns, "runs", 0, "Also purge runs older than this age")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := projectRoot()
	if err != nil {
		return err
	}
	repo, err := findGitRoot(root)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	provider, err := workspace.NewGitProvider(cfg.Workspace.BaseDir, repo)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	orphans, err := provider.ListOrphans(ctx, nil)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}
	if len(orphans) == 0 {
		printStatus("✓", "No orphaned worktrees", color.FgGreen)
	} else if cleanupDryRun {
		fmt.Printf("Would remove %d worktrees:\n", len(orphans))
		for _, wt := range orphans {
			fmt.Printf("  %s (%s)\n", wt.Path, wt.Branch)
		}
	} else {
		var verbose func(string)
		if cleanupVerbose {
			verbose = func(path string) { fmt.Printf("  removed %s\n", path) }
		}
		removed, err := provider.CleanupOrphans(ctx, nil, verbose)
		if err != nil {
			return fmt.Errorf("cleanup worktrees: %w", err)
		}
		printStatus("✓", fmt.Sprintf("Removed %d of %d orphaned worktrees", removed, len(orphans)), color.FgGreen)
	}

	if cleanupRuns > 0 {
		return purgeRuns(cfg, root)
	}
	return nil
}

func purgeRuns(cfg *config.Config, root string) error {
	if cleanupDryRun {
		fmt.Printf("Would purge runs older than %s\n", cleanupRuns)
		return nil
	}
	db, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.PurgeOldRuns(cleanupRuns)
	if err != nil {
		return fmt.Errorf("purge runs: %w", err)
	}
	printStatus("✓", fmt.Sprintf("Purged %d runs", n), color.FgGreen)
	return nil
}
