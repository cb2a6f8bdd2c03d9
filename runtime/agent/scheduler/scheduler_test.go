package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	busmem "github.com/corvus-labs/swarmd/runtime/agent/eventbus/inmem"
	"github.com/corvus-labs/swarmd/runtime/agent/model/stub"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
	runmem "github.com/corvus-labs/swarmd/runtime/agent/runregistry/inmem"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

func buildTopology(t *testing.T, cfg topology.HierarchyConfig) *topology.Topology {
	t.Helper()
	b := topology.NewBuilder()
	topo, err := b.Build(context.Background(), cfg, nil, topology.BuildOptions{RunID: "run1", RequireTask: true})
	require.NoError(t, err)
	return topo
}

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	reg := runregistry.New(runmem.New(), runregistry.DefaultRetention)
	return New(reg, Defaults{}, nil, nil, nil)
}

func minimalConfig() topology.HierarchyConfig {
	return topology.HierarchyConfig{
		GlobalPrompt: "G",
		Task:         "hello",
		Teams: []topology.TeamConfig{
			{
				Name:             "T1",
				SupervisorPrompt: "S",
				Workers: []topology.WorkerConfig{
					{Name: "W1", Role: "r", SystemPrompt: "p"},
				},
			},
		},
		ExecutionMode: topology.ExecutionModeSequential,
	}
}

// TestSchedulerMinimalHappyPath covers the simplest end-to-end scenario:
// one team, one worker, sequential mode. Stub keys are anchored so each
// distinct prompt (global team selection, worker selection before/after
// the worker has run, worker invocation, global synthesis) matches exactly
// one scripted response.
func TestSchedulerMinimalHappyPath(t *testing.T) {
	topo := buildTopology(t, minimalConfig())
	client := stub.New(map[string]stub.Response{
		"- T1":                          {Text: "T1"},
		"hello\n\nCandidates:\n- W1":     {Text: "W1"},
		"Progress so far":                {Text: "FINISH"},
		"Role: r":                        {Text: "out"},
		"Synthesize the final answer.":   {Text: "final"},
	})

	s := newScheduler(t)
	bus := busmem.New("run1", 0)
	run, err := s.ExecuteSync(context.Background(), topo, "", bus, client)
	require.NoError(t, err)

	require.Equal(t, runregistry.StatusCompleted, run.Status)
	require.Equal(t, "final", run.Result)
	require.Nil(t, run.Error)

	since := bus.SinceCursor(context.Background(), 0)
	require.True(t, since.Terminal)

	var gotTypes []string
	for _, e := range since.Events {
		gotTypes = append(gotTypes, string(e.Type))
	}
	require.Equal(t, []string{
		"topology_created",
		"execution_started",
		"team_started",
		"worker_started",
		"worker_completed",
		"team_completed",
		"execution_completed",
	}, gotTypes)

	var lastID int64
	for _, e := range since.Events {
		require.Greater(t, e.ID, lastID)
		lastID = e.ID
	}
}

// TestSchedulerParallelTwoTeams covers two independent teams running in
// parallel mode. Ordering across teams (both team_started events
// preceding both team_completed events) is not guaranteed, only per-team
// ordering is, so this only asserts the per-team invariant.
func TestSchedulerParallelTwoTeams(t *testing.T) {
	cfg := topology.HierarchyConfig{
		GlobalPrompt: "G",
		Task:         "hello",
		Teams: []topology.TeamConfig{
			{Name: "T1", SupervisorPrompt: "S", Workers: []topology.WorkerConfig{{Name: "W1", Role: "r", SystemPrompt: "p"}}},
			{Name: "T2", SupervisorPrompt: "S", Workers: []topology.WorkerConfig{{Name: "W2", Role: "r", SystemPrompt: "p"}}},
		},
		ExecutionMode: topology.ExecutionModeParallel,
	}
	topo := buildTopology(t, cfg)

	client := stub.New(map[string]stub.Response{
		"hello\n\nCandidates:\n- W1":   {Text: "W1"},
		"hello\n\nCandidates:\n- W2":   {Text: "W2"},
		"Progress so far":              {Text: "FINISH"},
		"Role: r":                      {Text: "out"},
		"Synthesize the final answer.": {Text: "final"},
	})

	s := newScheduler(t)
	bus := busmem.New("run1", 0)
	run, err := s.ExecuteSync(context.Background(), topo, "", bus, client)
	require.NoError(t, err)
	require.Equal(t, runregistry.StatusCompleted, run.Status)

	since := bus.SinceCursor(context.Background(), 0)

	started := map[string]int{}
	completed := map[string]int{}
	for i, e := range since.Events {
		switch e.Type {
		case "team_started":
			started[string(e.TopologyMetadata.TeamID)] = i
		case "team_completed":
			completed[string(e.TopologyMetadata.TeamID)] = i
		}
	}
	require.Len(t, started, 2)
	require.Len(t, completed, 2)
	for id, startIdx := range started {
		require.Less(t, startIdx, completed[id])
	}
}

// TestSchedulerAllWorkersPermanentFailure covers the boundary: every
// ModelClient call that matters fails ModelPermanent, so the run ends
// failed with no execution_completed.
func TestSchedulerAllWorkersPermanentFailure(t *testing.T) {
	topo := buildTopology(t, minimalConfig())
	client := stub.New(map[string]stub.Response{
		"- T1":                      {Text: "T1"},
		"hello\n\nCandidates:\n- W1": {Text: "W1"},
		"Role: r":                   {Err: errors.New("permanent upstream failure")},
	})

	s := newScheduler(t)
	bus := busmem.New("run1", 0)
	run, err := s.ExecuteSync(context.Background(), topo, "", bus, client)
	require.NoError(t, err)

	require.Equal(t, runregistry.StatusFailed, run.Status)
	require.NotNil(t, run.Error)

	since := bus.SinceCursor(context.Background(), 0)
	require.NotEmpty(t, since.Events)
	last := since.Events[len(since.Events)-1]
	require.Equal(t, "error", string(last.Type))

	for _, e := range since.Events {
		require.NotEqual(t, "execution_completed", string(e.Type))
	}
}
