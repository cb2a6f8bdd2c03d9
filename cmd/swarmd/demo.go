package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus/inmem"
	"github.com/corvus-labs/swarmd/runtime/agent/model/stub"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
	runregistryinmem "github.com/corvus-labs/swarmd/runtime/agent/runregistry/inmem"
	"github.com/corvus-labs/swarmd/runtime/agent/scheduler"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

func buildDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a minimal in-process hierarchy against a scripted model client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context())
		},
	}
}

// runDemo builds the smallest possible hierarchy (one team, one worker),
// scripts a stub model client to walk it to completion, and prints the
// run's event log and final result. It exercises the same
// Builder/Scheduler/EventBus/RunRegistry wiring as serve, without needing a
// live model provider or network listener.
func runDemo(ctx context.Context) error {
	builder := topology.NewBuilder()
	cfg := topology.HierarchyConfig{
		GlobalPrompt: "Coordinate a single team to answer the user's question.",
		Task:         "Summarize the benefits of writing small, composable packages.",
		Teams: []topology.TeamConfig{
			{
				Name:             "T1",
				SupervisorPrompt: "Route the task to W1 and finish once it answers.",
				Workers: []topology.WorkerConfig{
					{Name: "W1", Role: "writer", SystemPrompt: "Answer concisely."},
				},
			},
		},
	}

	topo, err := builder.Build(ctx, cfg, nil, topology.BuildOptions{RunID: "demo", RequireTask: true})
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}

	// Each key is a substring unique to exactly one rendered prompt in this
	// hierarchy: the global supervisor's team selection, the team
	// supervisor's first worker-selection pass, its second pass once W1 has
	// already produced output (which must select FINISH), the worker's own
	// task prompt, and the global synthesis step.
	client := stub.New(map[string]stub.Response{
		"Candidates:\n- T1":                         {Text: "T1"},
		"composable packages.\n\nCandidates:\n- W1": {Text: "W1"},
		"Progress so far":                            {Text: "FINISH"},
		"Role: writer":                               {Text: "Small packages compose, test, and reuse more easily than large ones."},
		"Synthesize the final answer":                {Text: "Favor small, composable packages: they are easier to test, reuse, and reason about."},
	})

	registry := runregistry.New(runregistryinmem.New(), runregistry.DefaultRetention)
	sched := scheduler.New(registry, scheduler.Defaults{}, nil, nil, nil)

	bus := inmem.New("demo", 1000)
	run, err := sched.ExecuteSync(ctx, topo, "demo-hierarchy", bus, client)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	since := bus.SinceCursor(ctx, 0)
	for _, e := range since.Events {
		fmt.Printf("[%s] %v\n", e.Type, e.Data)
	}

	fmt.Println()
	fmt.Printf("status: %s\n", run.Status)
	if run.Status == runregistry.StatusCompleted {
		fmt.Printf("result: %s\n", run.Result)
	} else if run.Error != nil {
		fmt.Printf("error: %s: %s\n", run.Error.Kind, run.Error.Message)
	}
	return nil
}
