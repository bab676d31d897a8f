// Package orchestrator drives one work item through its lifecycle phases.
//
// A run decomposes the item into tasks, orders them with the dependency
// graph, executes each level through the workspace pool and feeds every
// outcome into a result aggregator. The QualityCheck phase then decides
// between retrying failed tasks, opening a pull request, or going straight
// to review.
//
// Example usage:
//
//	p, _ := pool.New(provider, pool.DefaultConfig())
//	o, err := orchestrator.New(
//		orchestrator.WithPool(p),
//		orchestrator.WithDecomposer(decompose.NewStaticDecomposer(plan.Tasks)),
//	)
//	report, err := o.Run(ctx, plan.Item)
package orchestrator
