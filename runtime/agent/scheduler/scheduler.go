// Package scheduler drives a topology.Topology to completion: global ->
// team -> worker execution in sequential or parallel mode, honoring
// dependencies, per-level concurrency and timeouts, retries, and
// cooperative cancellation, while emitting an ordered event stream.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus"
	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
	"github.com/corvus-labs/swarmd/runtime/agent/supervisor"
	"github.com/corvus-labs/swarmd/runtime/agent/telemetry"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

// TeamStatus is the internal sub-state of one team within a run.
type TeamStatus string

const (
	TeamNotStarted TeamStatus = "not_started"
	TeamRunning    TeamStatus = "running"
	TeamDone       TeamStatus = "done"
	TeamFailed     TeamStatus = "failed"
	TeamSkipped    TeamStatus = "skipped"
)

type teamOutcome struct {
	Status        TeamStatus
	Output        string
	WorkerOutputs map[topology.WorkerID]string
}

// Scheduler drives topologies to completion. A single Scheduler is shared
// across all runs in a process; its two semaphores are the only
// process-wide resource bounds it enforces.
type Scheduler struct {
	registry *runregistry.Registry
	defaults Defaults
	runSem   *semaphore.Weighted
	modelSem *semaphore.Weighted
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	tracer   telemetry.Tracer
}

// New builds a Scheduler bound to registry, applying any unset Defaults
// fields from the package's default constants.
func New(registry *runregistry.Registry, defaults Defaults, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Scheduler {
	defaults = defaults.withDefaults()
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Scheduler{
		registry: registry,
		defaults: defaults,
		runSem:   semaphore.NewWeighted(int64(defaults.MaxConcurrentRuns)),
		modelSem: semaphore.NewWeighted(int64(defaults.MaxConcurrentModelCalls)),
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// StartRun registers a new run bound to topo and drives it to completion
// in the background. It blocks only long enough to acquire the
// max_concurrent_runs semaphore and create the run record; callers poll
// the returned runID via the registry and its event bus (runs/start).
func (s *Scheduler) StartRun(ctx context.Context, topo *topology.Topology, hierarchyID string, bus eventbus.Bus, client model.Client) (string, error) {
	if err := s.runSem.Acquire(ctx, 1); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	run := runregistry.Run{RunID: runID, HierarchyID: hierarchyID, Task: topo.Task, Topology: topo}
	if err := s.registry.Create(ctx, run, bus); err != nil {
		s.runSem.Release(1)
		return "", fmt.Errorf("scheduler: register run: %w", err)
	}

	go func() {
		defer s.runSem.Release(1)
		s.execute(ctx, runID, topo, bus, client)
	}()

	return runID, nil
}

// ExecuteSync drives topo to completion and blocks until it reaches a
// terminal state, for the synchronous /execute endpoint. Unlike StartRun it
// runs execute() on the calling goroutine, so there is no race between
// subscribing to the bus and the run finishing before a subscriber exists.
func (s *Scheduler) ExecuteSync(ctx context.Context, topo *topology.Topology, hierarchyID string, bus eventbus.Bus, client model.Client) (runregistry.Run, error) {
	if err := s.runSem.Acquire(ctx, 1); err != nil {
		return runregistry.Run{}, err
	}
	defer s.runSem.Release(1)

	runID := uuid.NewString()
	run := runregistry.Run{RunID: runID, HierarchyID: hierarchyID, Task: topo.Task, Topology: topo}
	if err := s.registry.Create(ctx, run, bus); err != nil {
		return runregistry.Run{}, fmt.Errorf("scheduler: register run: %w", err)
	}

	s.execute(ctx, runID, topo, bus, client)
	return s.registry.Get(ctx, runID)
}

// execute is the per-run state machine: topology_created, execution_started,
// team execution (sequential or parallel), global synthesis, and exactly
// one terminal event.
func (s *Scheduler) execute(ctx context.Context, runID string, topo *topology.Topology, bus eventbus.Bus, client model.Client) {
	ctx, cancel := context.WithTimeout(ctx, s.defaults.RunTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scheduler.execute")
	defer span.End()

	retrying := newRetryingClient(client, s.modelSem, s.logger)

	bus.Append(ctx, eventbus.Event{Type: eventbus.EventTopologyCreated, Data: snapshotTopology(topo)})
	_ = s.registry.SetStatus(ctx, runID, runregistry.StatusRunning)
	bus.Append(ctx, eventbus.Event{Type: eventbus.EventExecutionStarted})
	s.logger.Info(ctx, "run started", "run_id", runID, "execution_mode", string(topo.ExecutionMode), "teams", len(topo.Teams))

	var outcomes map[topology.TeamID]teamOutcome
	if topo.ExecutionMode == topology.ExecutionModeParallel {
		outcomes = s.runParallel(ctx, topo, retrying, bus)
	} else {
		outcomes = s.runSequential(ctx, topo, retrying, bus)
	}

	if ctx.Err() != nil {
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "run cancelled or timed out")
		s.terminalError(ctx, runID, bus, classifyCtxErr(ctx), ctx.Err().Error())
		return
	}

	result, ok := s.synthesize(ctx, topo, retrying, outcomes)
	if !ok {
		span.SetStatus(codes.Error, "no team completed successfully")
		s.terminalError(ctx, runID, bus, errKindInternal, "no team completed successfully")
		return
	}

	bus.Append(ctx, eventbus.Event{Type: eventbus.EventExecutionCompleted, Data: map[string]any{"result": result}})
	_ = s.registry.SetResult(ctx, runID, result)
	s.metrics.IncCounter("swarmd_runs_completed_total", 1)
	s.logger.Info(ctx, "run completed", "run_id", runID)
}

func (s *Scheduler) terminalError(ctx context.Context, runID string, bus eventbus.Bus, kind errorKind, message string) {
	bus.Append(ctx, eventbus.Event{Type: eventbus.EventError, Data: errorPayload{Kind: kind, Message: message}})
	_ = s.registry.SetError(ctx, runID, runregistry.ErrorDetail{Kind: string(kind), Message: message})
	s.metrics.IncCounter("swarmd_runs_failed_total", 1)
	s.logger.Error(ctx, "run failed", "run_id", runID, "kind", string(kind), "message", message)
}

func classifyCtxErr(ctx context.Context) errorKind {
	if ctx.Err() == context.DeadlineExceeded {
		return errKindTimeout
	}
	return errKindCancelled
}

// synthesize asks the global supervisor to produce the final result string
// from every successfully completed team's output. It returns ok=false
// only when no team succeeded.
func (s *Scheduler) synthesize(ctx context.Context, topo *topology.Topology, client model.Client, outcomes map[topology.TeamID]teamOutcome) (string, bool) {
	var parts []string
	for _, id := range topo.Teams {
		o, ok := outcomes[id]
		if !ok || o.Status != TeamDone {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", topo.TeamByID[id].Name, o.Output))
	}
	if len(parts) == 0 {
		return "", false
	}

	prompt := fmt.Sprintf("Task:\n%s\n\nTeam results:\n%s\n\nSynthesize the final answer.", topo.Task, strings.Join(parts, "\n\n"))
	text, _, err := client.Invoke(ctx, prompt, model.Params{System: topo.GlobalPrompt, MaxTokens: 2048})
	if err != nil {
		// At least one team succeeded; degrade to a plain concatenation
		// rather than failing the whole run over a synthesis-only error.
		return strings.Join(parts, "\n\n"), true
	}
	return text, true
}

func snapshotTopology(t *topology.Topology) map[string]any {
	teams := make([]map[string]any, 0, len(t.Teams))
	for _, id := range t.Teams {
		tn := t.TeamByID[id]
		workers := make([]map[string]any, 0, len(tn.Workers))
		for _, w := range tn.Workers {
			workers = append(workers, map[string]any{"worker_id": w.WorkerID, "worker_name": w.Name})
		}
		teams = append(teams, map[string]any{
			"team_id":       tn.TeamID,
			"supervisor_id": tn.SupervisorID,
			"name":          tn.Name,
			"workers":       workers,
		})
	}
	return map[string]any{
		"global_supervisor_id": t.GlobalSupervisorID,
		"execution_mode":       t.ExecutionMode,
		"teams":                teams,
	}
}

// globalSupervisorFor builds the global Supervisor once per run.
func globalSupervisorFor(client model.Client, topo *topology.Topology) (*supervisor.Supervisor, error) {
	return supervisor.New(client, topo.GlobalPrompt)
}
