package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/issueforge/internal/counters"
	"github.com/ShayCichocki/issueforge/internal/dispatch"
	"github.com/ShayCichocki/issueforge/internal/logging"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/internal/state"
)

var (
	dispatchWatch  bool
	dispatchTarget string
	dispatchDir    string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Hand queued work items to the CI backend under the rate limit",
	Long: `Dispatch work items from the queue directory to an external backend.

Every YAML file in dispatch.queue_dir is one work item. Items are sent
in arrival order through "<dispatch.command> workflow run <target>" with
the item id, title, priority and runtime budget as inputs. At most
dispatch.rate_limit items are sent per dispatch.reset_interval.

Without --watch, the queue is drained once and the command exits.
With --watch, new files are picked up as they appear until interrupted.

A dispatched file moves to .claimed, a rejected one to .failed. Files
held back by the rate limit stay in place for the next run.`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().BoolVarP(&dispatchWatch, "watch", "w", false, "Keep watching the queue directory")
	dispatchCmd.Flags().StringVar(&dispatchTarget, "target", "", "Override dispatch.target")
	dispatchCmd.Flags().StringVar(&dispatchDir, "dir", "", "Override dispatch.queue_dir")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dispatchTarget != "" {
		cfg.Dispatch.Target = dispatchTarget
	}
	if dispatchDir != "" {
		cfg.Dispatch.QueueDir = dispatchDir
	}
	root, err := projectRoot()
	if err != nil {
		return err
	}

	logger := logging.ForRepo(root)
	defer logger.Close()

	db, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	q := dispatch.NewQueue()
	feeder, err := dispatch.NewDirFeeder(resolvePath(root, cfg.Dispatch.QueueDir), q, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	d, err := dispatch.New(
		dispatch.NewCommandBackend(cfg.Dispatch.Command, root, nil),
		cfg.DispatcherConfig(),
		dispatch.WithCounters(counters.New()),
		dispatch.WithMetrics(metrics.MustNewMetrics(reg)),
		dispatch.WithLogger(logger),
		dispatch.WithResultHook(func(r dispatch.DispatchResult) {
			reportDispatch(r)
			if err := db.RecordDispatch(dispatchRecord(r)); err != nil {
				logger.Log("[dispatch] record %s: %v", r.ItemID, err)
			}
			// An interrupted trigger leaves its file queued for the next run.
			if r.Success || ctx.Err() == nil {
				feeder.Settle(r)
			}
		}),
	)
	if err != nil {
		return err
	}

	if dispatchWatch {
		printStatus("•", fmt.Sprintf("Watching %s (Ctrl+C to stop)", cfg.Dispatch.QueueDir), color.FgCyan)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return feeder.Start(gctx) })
		g.Go(func() error { return d.Run(gctx, q) })
		if cfg.Metrics.Enabled {
			g.Go(func() error { return serveMetrics(gctx, reg, cfg.Metrics.Listen) })
		}
		if err := g.Wait(); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
	} else {
		if err := feeder.Lock(); err != nil {
			return err
		}
		defer feeder.Unlock()
		if _, err := feeder.Scan(); err != nil {
			return err
		}
		d.Drain(ctx, q)
	}

	for path, msg := range feeder.Failures() {
		printStatus("⚠", fmt.Sprintf("%s: %s", path, msg), color.FgYellow)
	}
	stats := d.Stats()
	fmt.Printf("\nDispatched %d/%d (failed %d), %d left in queue, capacity %d\n",
		stats.Successful, stats.Total, stats.Failed, q.Len(), stats.RemainingCapacity)
	if stats.Failed > 0 {
		return fmt.Errorf("%d dispatches failed", stats.Failed)
	}
	return nil
}

func reportDispatch(r dispatch.DispatchResult) {
	if r.Success {
		printStatus("✓", fmt.Sprintf("%s [%s] -> %s (budget %s)", r.ItemID, r.Priority, r.Reference, r.Budget), color.FgGreen)
		return
	}
	printStatus("✗", fmt.Sprintf("%s [%s]: %v", r.ItemID, r.Priority, r.Err), color.FgRed)
}

func dispatchRecord(r dispatch.DispatchResult) state.DispatchRecord {
	rec := state.DispatchRecord{
		ItemID:       r.ItemID,
		Priority:     r.Priority,
		Reference:    r.Reference,
		Success:      r.Success,
		Budget:       r.Budget,
		DispatchedAt: r.Timestamp,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}
