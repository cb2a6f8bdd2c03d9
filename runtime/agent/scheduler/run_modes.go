package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus"
	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/supervisor"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

// runSequential implements sequential execution mode: the global
// supervisor repeatedly picks the next not-yet-done team whose
// dependencies are satisfied, running each to completion before the next
// starts. Selecting FINISH (or exhausting eligible teams) ends the loop;
// anything left not_started becomes Skipped.
func (s *Scheduler) runSequential(ctx context.Context, topo *topology.Topology, client model.Client, bus eventbus.Bus) map[topology.TeamID]teamOutcome {
	outcomes := make(map[topology.TeamID]teamOutcome, len(topo.Teams))
	gsup, err := globalSupervisorFor(client, topo)
	if err != nil {
		return outcomes
	}

	remaining := make(map[topology.TeamID]bool, len(topo.Teams))
	for _, id := range topo.Teams {
		remaining[id] = true
	}

	var sharedContext string

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			break
		}

		eligible := eligibleTeams(topo, remaining, outcomes)
		if len(eligible) == 0 {
			break
		}

		candidates := make([]model.Candidate, 0, len(eligible))
		for _, id := range eligible {
			candidates = append(candidates, model.Candidate{Name: topo.TeamByID[id].Name})
		}
		candidates = supervisor.WithFinish(candidates, "Stop scheduling further teams.")

		sel, err := gsup.SelectOne(ctx, topo.Task, candidates)
		if err != nil {
			bus.Append(ctx, eventbus.Event{Type: eventbus.EventError, Data: errorPayload{Kind: errKindSelectionFailure, Message: err.Error()}})
			break
		}
		if sel.Fallback {
			bus.Append(ctx, eventbus.Event{Type: eventbus.EventSupervisorFallback, Data: map[string]any{"selected": sel.Name}})
		}
		if sel.Name == topology.FinishSentinel {
			break
		}

		id, ok := teamIDByName(topo, sel.Name)
		if !ok {
			break
		}

		team := topo.TeamByID[id]
		outcome := s.runTeam(ctx, topo, team, client, teamTask(topo, sharedContext), bus)
		outcomes[id] = outcome
		delete(remaining, id)

		if topo.EnableContextSharing && outcome.Status == TeamDone {
			if sharedContext != "" {
				sharedContext += "\n"
			}
			sharedContext += outcome.Output
		}
	}

	for id := range remaining {
		outcomes[id] = teamOutcome{Status: TeamSkipped}
	}
	return outcomes
}

// runParallel implements parallel execution mode: every team whose
// dependencies are satisfied runs concurrently, bounded by
// max_team_concurrency, with newly eligible teams launched as their
// dependencies complete.
func (s *Scheduler) runParallel(ctx context.Context, topo *topology.Topology, client model.Client, bus eventbus.Bus) map[topology.TeamID]teamOutcome {
	outcomes := make(map[topology.TeamID]teamOutcome, len(topo.Teams))
	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(topo.MaxTeamConcurrency))
	remaining := make(map[topology.TeamID]bool, len(topo.Teams))
	for _, id := range topo.Teams {
		remaining[id] = true
	}

	type teamDone struct {
		id      topology.TeamID
		outcome teamOutcome
	}
	doneCh := make(chan teamDone, len(topo.Teams))
	started := make(map[topology.TeamID]bool, len(topo.Teams))

	launch := func(id topology.TeamID) {
		started[id] = true
		go func() {
			_ = sem.Acquire(ctx, 1)
			defer sem.Release(1)
			team := topo.TeamByID[id]
			outcome := s.runTeam(ctx, topo, team, client, topo.Task, bus)
			doneCh <- teamDone{id: id, outcome: outcome}
		}()
	}

	skipBlocked := func() {
		for _, id := range blockedTeams(topo, remaining, outcomes) {
			outcomes[id] = teamOutcome{Status: TeamSkipped}
			delete(remaining, id)
		}
	}

	mu.Lock()
	skipBlocked()
	for _, id := range eligibleTeams(topo, remaining, outcomes) {
		launch(id)
	}
	mu.Unlock()

	for len(remaining) > 0 || len(started) > len(outcomes) {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case d := <-doneCh:
			mu.Lock()
			outcomes[d.id] = d.outcome
			delete(remaining, d.id)
			skipBlocked()
			for _, id := range eligibleTeams(topo, remaining, outcomes) {
				if !started[id] {
					launch(id)
				}
			}
			mu.Unlock()
		}
	}

	for id := range remaining {
		if _, done := outcomes[id]; !done {
			outcomes[id] = teamOutcome{Status: TeamSkipped}
		}
	}
	return outcomes
}

// eligibleTeams returns, in declared order, the remaining teams whose
// DependsOn are all present in outcomes with status Done.
func eligibleTeams(topo *topology.Topology, remaining map[topology.TeamID]bool, outcomes map[topology.TeamID]teamOutcome) []topology.TeamID {
	var out []topology.TeamID
	for _, id := range topo.Teams {
		if !remaining[id] {
			continue
		}
		team := topo.TeamByID[id]
		ready := true
		for _, dep := range team.DependsOn {
			if outcomes[dep].Status != TeamDone {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, id)
		}
	}
	return out
}

// blockedTeams returns remaining teams that can never become eligible
// because at least one dependency has terminated as Failed or Skipped.
// Without this, a downstream team would wait forever on a dependency that
// will never reach Done.
func blockedTeams(topo *topology.Topology, remaining map[topology.TeamID]bool, outcomes map[topology.TeamID]teamOutcome) []topology.TeamID {
	var out []topology.TeamID
	for _, id := range topo.Teams {
		if !remaining[id] {
			continue
		}
		team := topo.TeamByID[id]
		for _, dep := range team.DependsOn {
			o, done := outcomes[dep]
			if done && o.Status != TeamDone {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func teamIDByName(topo *topology.Topology, name string) (topology.TeamID, bool) {
	for _, id := range topo.Teams {
		if topo.TeamByID[id].Name == name {
			return id, true
		}
	}
	return "", false
}

// teamTask renders the team-facing task text: the global task optionally
// prefixed with shared context accumulated from earlier teams.
func teamTask(topo *topology.Topology, sharedContext string) string {
	if sharedContext == "" {
		return topo.Task
	}
	return "Prior team results:\n" + sharedContext + "\n\nTask:\n" + topo.Task
}
