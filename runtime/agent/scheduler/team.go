package scheduler

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus"
	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/supervisor"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
	"github.com/corvus-labs/swarmd/runtime/agent/worker"
)

// runTeam drives one team's selection loop (spec §4.5 "Team loop") to a
// terminal TeamStatus, emitting team_started/worker_started/
// worker_completed/team_completed along the way. teamTask is the global
// task optionally prefixed with upstream shared context.
func (s *Scheduler) runTeam(ctx context.Context, topo *topology.Topology, team topology.TeamNode, client model.Client, teamTask string, bus eventbus.Bus) teamOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.defaults.TeamTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scheduler.team")
	defer span.End()

	meta := eventbus.TopologyMetadata{TeamID: team.TeamID, SupervisorID: team.SupervisorID}
	bus.Append(ctx, eventbus.Event{Type: eventbus.EventTeamStarted, TopologyMetadata: meta})
	s.logger.Info(ctx, "team started", "team_id", string(team.TeamID), "team_name", team.Name)

	sup, err := supervisor.New(client, team.SupervisorPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "team supervisor init failed")
		bus.Append(ctx, eventbus.Event{Type: eventbus.EventError, TopologyMetadata: meta, Data: errorPayload{Kind: errKindInternal, Message: err.Error()}})
		return teamOutcome{Status: TeamFailed}
	}

	visited := make(map[topology.WorkerID]bool)
	failed := make(map[topology.WorkerID]bool)
	outputs := make(map[topology.WorkerID]string)
	var order []topology.WorkerID
	anySucceeded := false

	maxIter := team.MaxIterations
	if maxIter <= 0 {
		maxIter = 8
	}

	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			break
		}

		candidates, eligible := workerCandidates(team, visited, failed)
		if len(eligible) == 0 {
			break
		}
		for i, w := range eligible {
			if wn, ok := topo.WorkerByID[w.WorkerID]; ok {
				candidates[i].Description = wn.Description
				candidates[i].Capabilities = wn.Capabilities
			}
		}
		candidates = supervisor.WithFinish(candidates, "Stop selecting workers for this team.")

		sel, err := sup.SelectOne(ctx, selectionTask(teamTask, order, outputs), candidates)
		if err != nil {
			bus.Append(ctx, eventbus.Event{Type: eventbus.EventError, TopologyMetadata: meta, Data: errorPayload{Kind: errKindSelectionFailure, Message: err.Error()}})
			break
		}
		if sel.Fallback {
			bus.Append(ctx, eventbus.Event{Type: eventbus.EventSupervisorFallback, TopologyMetadata: meta, Data: map[string]any{"selected": sel.Name}})
		}
		if sel.Name == topology.FinishSentinel {
			break
		}

		wref, ok := workerByName(team, sel.Name)
		if !ok {
			break
		}
		if team.PreventDuplicate && visited[wref.WorkerID] {
			// Supervisor reselected an already-visited worker under
			// prevent_duplicate: nothing new to do, stop per spec.
			break
		}
		wn, ok := topo.WorkerByID[wref.WorkerID]
		if !ok {
			break
		}

		wMeta := eventbus.TopologyMetadata{TeamID: team.TeamID, SupervisorID: team.SupervisorID, WorkerID: wn.WorkerID}
		bus.Append(ctx, eventbus.Event{Type: eventbus.EventWorkerStarted, TopologyMetadata: wMeta})
		s.logger.Info(ctx, "worker started", "worker_id", string(wn.WorkerID), "worker_name", wn.Name)

		out, werr := s.runWorker(ctx, wn, client, teamTask, aggregatedContext(order, outputs))
		visited[wn.WorkerID] = true
		if werr != nil {
			failed[wn.WorkerID] = true
			kind := errKindModelPermanent
			if ctx.Err() != nil {
				kind = classifyCtxErr(ctx)
			}
			s.logger.Error(ctx, "worker failed", "worker_id", string(wn.WorkerID), "kind", string(kind), "error", werr.Error())
			bus.Append(ctx, eventbus.Event{Type: eventbus.EventError, TopologyMetadata: wMeta, Data: errorPayload{Kind: kind, Message: werr.Error()}})
			continue
		}

		anySucceeded = true
		outputs[wn.WorkerID] = out.Text
		order = append(order, wn.WorkerID)
		s.logger.Info(ctx, "worker completed", "worker_id", string(wn.WorkerID), "tokens_used", out.TokensUsed)
		bus.Append(ctx, eventbus.Event{Type: eventbus.EventWorkerCompleted, TopologyMetadata: wMeta, Data: map[string]any{"text": out.Text, "tokens_used": out.TokensUsed}})

		if team.PreventDuplicate {
			// The worker just run is now visited and drops out of the next
			// round's candidates; the loop stops once no unvisited, unfailed
			// worker remains or the supervisor picks FINISH.
			continue
		}
	}

	status := TeamFailed
	if anySucceeded {
		status = TeamDone
	} else {
		span.SetStatus(codes.Error, "no worker in this team succeeded")
	}

	result := s.aggregateTeamResult(ctx, team, client, teamTask, order, outputs)
	bus.Append(ctx, eventbus.Event{Type: eventbus.EventTeamCompleted, TopologyMetadata: meta, Data: map[string]any{"status": status, "result": result}})
	s.logger.Info(ctx, "team completed", "team_id", string(team.TeamID), "status", string(status))

	return teamOutcome{Status: status, Output: result, WorkerOutputs: outputs}
}

// runWorker builds a worker.Worker from wn and invokes it within the
// scheduler's per-worker timeout.
func (s *Scheduler) runWorker(ctx context.Context, wn topology.WorkerNode, client model.Client, taskText, sharedContext string) (worker.Output, error) {
	ctx, cancel := context.WithTimeout(ctx, s.defaults.WorkerTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scheduler.worker")
	defer span.End()

	w, err := worker.New(worker.Config{
		Name:         wn.Name,
		Role:         wn.Role,
		SystemPrompt: wn.SystemPrompt,
		Tools:        wn.Tools,
		Temperature:  wn.Temperature,
		MaxTokens:    wn.MaxTokens,
	}, client, nil)
	if err != nil {
		span.RecordError(err)
		return worker.Output{}, err
	}
	out, err := w.Run(ctx, taskText, sharedContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "worker run failed")
	}
	return out, err
}

// aggregateTeamResult concatenates worker outputs in selection order, or
// asks the team supervisor for a summary when share_context is set.
func (s *Scheduler) aggregateTeamResult(ctx context.Context, team topology.TeamNode, client model.Client, teamTask string, order []topology.WorkerID, outputs map[topology.WorkerID]string) string {
	if len(order) == 0 {
		return ""
	}
	plain := aggregatedContext(order, outputs)
	if !team.ShareContext {
		return plain
	}
	prompt := "Task:\n" + teamTask + "\n\nWorker outputs:\n" + plain + "\n\nSummarize this team's contribution."
	text, _, err := client.Invoke(ctx, prompt, model.Params{System: team.SupervisorPrompt, MaxTokens: 1024})
	if err != nil {
		return plain
	}
	return text
}

// selectionTask renders the prompt the team supervisor sees when deciding
// the next worker (or FINISH): the team task, plus progress so far once at
// least one worker has produced output. Folding progress in here is what
// lets a real model (or a scripted test double) recognize the team is
// already satisfied instead of reselecting blindly.
func selectionTask(teamTask string, order []topology.WorkerID, outputs map[topology.WorkerID]string) string {
	if len(order) == 0 {
		return teamTask
	}
	return teamTask + "\n\nProgress so far:\n" + aggregatedContext(order, outputs)
}

// aggregatedContext renders prior worker outputs, in selection order, as a
// shared-context snippet for the next worker or for synthesis.
func aggregatedContext(order []topology.WorkerID, outputs map[topology.WorkerID]string) string {
	if len(order) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, id := range order {
		sb.WriteString(outputs[id])
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// workerCandidates renders the team's workers as supervisor candidates,
// excluding failed workers and (when prevent_duplicate is set) already
// visited ones. It reports how many candidates remain eligible so callers
// can stop the loop once none do.
func workerCandidates(team topology.TeamNode, visited, failed map[topology.WorkerID]bool) ([]model.Candidate, []topology.WorkerRef) {
	out := make([]model.Candidate, 0, len(team.Workers))
	eligible := make([]topology.WorkerRef, 0, len(team.Workers))
	for _, w := range team.Workers {
		if failed[w.WorkerID] {
			continue
		}
		if team.PreventDuplicate && visited[w.WorkerID] {
			continue
		}
		out = append(out, model.Candidate{Name: w.Name})
		eligible = append(eligible, w)
	}
	return out, eligible
}

func workerByName(team topology.TeamNode, name string) (topology.WorkerRef, bool) {
	for _, w := range team.Workers {
		if w.Name == name {
			return w, true
		}
	}
	return topology.WorkerRef{}, false
}
