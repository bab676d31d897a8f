package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/issueforge/internal/counters"
	"github.com/ShayCichocki/issueforge/internal/decompose"
	"github.com/ShayCichocki/issueforge/internal/dispatch"
	"github.com/ShayCichocki/issueforge/internal/logging"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/internal/orchestrator"
	"github.com/ShayCichocki/issueforge/internal/pool"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

var (
	runDecompose   bool
	runConcurrency int
	runTimeout     time.Duration
	runFailFast    bool
	runMetrics     bool
	runQuiet       bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a work item through decomposition, execution and review",
	Long: `Run a work item locally.

The file is a plan: a work item plus its tasks. Each task may carry a
shell command that runs inside the task's workspace, and the tasks it
depends on. Independent tasks run in parallel.

With --decompose the file is a single work item (id, title, description,
priority) and Claude breaks it into tasks.

Examples:
  issueforge run plan.yaml
  issueforge run --decompose issue.yaml
  issueforge run plan.yaml --concurrency 8 --timeout 10m --metrics`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	runCmd.Flags().BoolVar(&runDecompose, "decompose", false, "Decompose the work item with Claude instead of reading tasks from the file")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "j", 0, "Maximum concurrent workspaces (default: pool.max_concurrency)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-task timeout (default: pool.timeout)")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop admitting tasks after the first failure")
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "Serve Prometheus metrics on metrics.listen")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the final summary")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := projectRoot()
	if err != nil {
		return err
	}

	poolCfg := cfg.PoolConfig()
	if runConcurrency > 0 {
		poolCfg.MaxConcurrency = runConcurrency
	}
	if runTimeout > 0 {
		poolCfg.Timeout = runTimeout
	}
	if runFailFast {
		poolCfg.FailFast = true
	}

	ctx, stop := signalContext()
	defer stop()

	item, decomposer, err := loadWork(ctx, args[0], cfg.ClientConfig())
	if err != nil {
		return err
	}

	logger := logging.ForRepo(root)
	defer logger.Close()

	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	shared := counters.New()

	provider, err := newProvider(cfg, root)
	if err != nil {
		return err
	}
	p, err := pool.New(provider, poolCfg,
		pool.WithCounters(shared),
		pool.WithMetrics(m),
		pool.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	db, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	o, err := orchestrator.New(
		orchestrator.WithPool(p),
		orchestrator.WithDecomposer(decomposer),
		orchestrator.WithStore(db),
		orchestrator.WithQuality(cfg.QualityPolicy()),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(logger),
		orchestrator.WithEvents(256),
	)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		rep    *orchestrator.Report
		runErr error
		g      errgroup.Group
	)
	g.Go(func() error {
		defer cancelRun()
		defer o.Close()
		rep, runErr = o.Run(ctx, item)
		return nil
	})
	g.Go(func() error {
		for ev := range o.Events() {
			if !runQuiet {
				printEvent(ev)
			}
		}
		return nil
	})
	if runMetrics || cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(runCtx, reg, cfg.Metrics.Listen) })
	}
	waitErr := g.Wait()

	fmt.Println()
	fmt.Println(renderReport(rep))
	fmt.Printf("Peak concurrent workspaces: %d\n", shared.PeakActive())

	if runErr != nil {
		printStatus("✗", runErr.Error(), color.FgRed)
		return runErr
	}
	printStatus("✓", "Run completed", color.FgGreen)
	return waitErr
}

// loadWork reads the plan or work item file and picks the decomposer for it.
func loadWork(ctx context.Context, path string, clientCfg decompose.ClientConfig) (models.WorkItem, decompose.Decomposer, error) {
	if !runDecompose {
		plan, err := decompose.LoadPlan(path)
		if err != nil {
			return models.WorkItem{}, nil, err
		}
		return plan.Item, decompose.NewStaticDecomposer(plan.Tasks), nil
	}

	item, err := dispatch.ReadItemFile(path)
	if err != nil {
		return models.WorkItem{}, nil, err
	}
	client, err := decompose.NewClaudeClient(ctx, clientCfg)
	if err != nil {
		return models.WorkItem{}, nil, err
	}
	return item, decompose.NewClaudeDecomposer(client), nil
}

func printEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventPhaseChanged:
		printStatus("→", ev.Phase, color.FgCyan)
	case orchestrator.EventLevelStarted:
		printStatus("•", ev.Message, color.FgBlue)
	case orchestrator.EventTaskCompleted:
		printStatus("✓", fmt.Sprintf("%s (%s)", ev.TaskID, ev.Duration.Round(time.Millisecond)), color.FgGreen)
	case orchestrator.EventTaskFailed:
		printStatus("✗", fmt.Sprintf("%s %s: %v", ev.TaskID, ev.Message, firstLine(errString(ev.Error))), color.FgRed)
	case orchestrator.EventTaskCancelled:
		printStatus("⚠", fmt.Sprintf("%s skipped: %v", ev.TaskID, errString(ev.Error)), color.FgYellow)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
