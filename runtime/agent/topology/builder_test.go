package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func minimalHierarchy() HierarchyConfig {
	return HierarchyConfig{
		GlobalPrompt: "G",
		Task:         "do the thing",
		Teams: []TeamConfig{
			{
				Name:             "T1",
				SupervisorPrompt: "S",
				Workers: []WorkerConfig{
					{Name: "W1", Role: "r", SystemPrompt: "p"},
				},
			},
		},
	}
}

func TestBuildAssignsDeterministicIDs(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()

	topo1, err := b.Build(context.Background(), cfg, nil, BuildOptions{RunID: "r1", RequireTask: true})
	require.NoError(t, err)
	topo2, err := b.Build(context.Background(), cfg, nil, BuildOptions{RunID: "r1", RequireTask: true})
	require.NoError(t, err)

	require.Equal(t, topo1.Teams, topo2.Teams)
	for _, id := range topo1.Teams {
		require.Equal(t, topo1.TeamByID[id].SupervisorID, topo2.TeamByID[id].SupervisorID)
	}
	require.Equal(t, SupervisorID("global_r1"), topo1.GlobalSupervisorID)
}

func TestBuildEmptyTeamsRejectedWithLiteralMessage(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()
	cfg.Teams = nil

	_, err := b.Build(context.Background(), cfg, nil, BuildOptions{RequireTask: true})
	var invalid *InvalidConfig
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, "At least one team is required", invalid.Reason)
}

func TestBuildRequiresTaskOnlyWhenRequested(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()
	cfg.Task = ""

	_, err := b.Build(context.Background(), cfg, nil, BuildOptions{RequireTask: false})
	require.NoError(t, err)

	_, err = b.Build(context.Background(), cfg, nil, BuildOptions{RequireTask: true})
	require.Error(t, err)
}

func TestBuildRejectsDuplicateTeamNames(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()
	cfg.Teams = append(cfg.Teams, cfg.Teams[0])

	_, err := b.Build(context.Background(), cfg, nil, BuildOptions{RequireTask: true})
	require.Error(t, err)
}

func TestBuildResolvesDependsOnToTeamIDs(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()
	cfg.Teams = append(cfg.Teams, TeamConfig{
		Name:             "T2",
		SupervisorPrompt: "S2",
		DependsOn:        []string{"T1"},
		Workers:          []WorkerConfig{{Name: "W2", Role: "r", SystemPrompt: "p"}},
	})

	topo, err := b.Build(context.Background(), cfg, nil, BuildOptions{RequireTask: true})
	require.NoError(t, err)

	t1ID := topo.Teams[0]
	t2ID := topo.Teams[1]
	require.Equal(t, []TeamID{t1ID}, topo.TeamByID[t2ID].DependsOn)
}

func TestBuildRejectsUnknownDependsOn(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()
	cfg.Teams[0].DependsOn = []string{"ghost"}

	_, err := b.Build(context.Background(), cfg, nil, BuildOptions{RequireTask: true})
	require.Error(t, err)
}

func TestBuildSchemaPreValidationRejectsWrongShape(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()
	raw := map[string]any{"global_prompt": "G", "teams": "not-an-array"}

	_, err := b.Build(context.Background(), cfg, raw, BuildOptions{RequireTask: true})
	require.Error(t, err)
}

func TestWithTaskPreservesIdentityAndStructure(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	cfg := minimalHierarchy()
	cfg.Task = ""

	topo, err := b.Build(context.Background(), cfg, nil, BuildOptions{RequireTask: false})
	require.NoError(t, err)

	bound := topo.WithTask("a concrete task")
	require.Equal(t, "a concrete task", bound.Task)
	require.Empty(t, topo.Task, "WithTask must not mutate the original topology")
	require.Equal(t, topo.GlobalSupervisorID, bound.GlobalSupervisorID)
	require.Equal(t, topo.Teams, bound.Teams)
}
