package topology

import (
	"context"
	"encoding/base32"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Builder validates a HierarchyConfig, assigns stable IDs, and produces an
// immutable Topology. The zero value is ready to use.
type Builder struct {
	schema *jsonschema.Schema
}

// NewBuilder compiles the config-shape JSON Schema once so repeated Build
// calls avoid recompiling it. A Builder built this way is safe for
// concurrent use; schema compilation failure is a programming error and
// panics, failing fast at construction rather than per-request.
func NewBuilder() *Builder {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("hierarchy_config.json", hierarchyConfigSchemaDoc()); err != nil {
		panic(fmt.Sprintf("topology: add schema resource: %v", err))
	}
	schema, err := c.Compile("hierarchy_config.json")
	if err != nil {
		panic(fmt.Sprintf("topology: compile schema: %v", err))
	}
	return &Builder{schema: schema}
}

// BuildOptions customizes one Build call.
type BuildOptions struct {
	// RunID, when set, seeds the global supervisor ID as global_<RunID>
	// per spec. When empty (e.g. registering a reusable hierarchy ahead of
	// any run), the global ID is instead derived from a content hash so
	// repeated builds of the same config remain deterministic.
	RunID string
	// RequireTask, when true, fails validation if Task is empty. Set this
	// for /execute; leave false for hierarchies/create, which registers a
	// task-less template (runs/start checks its own task without Build).
	RequireTask bool
}

// Build validates cfg and produces an immutable Topology, or an
// *InvalidConfig describing the first violation found. raw, when non-nil,
// is the original decoded JSON document used for schema pre-validation;
// callers that only have a Go struct may pass nil to skip that pass.
func (b *Builder) Build(ctx context.Context, cfg HierarchyConfig, raw any, opts BuildOptions) (*Topology, error) {
	if raw != nil && b.schema != nil {
		if err := b.schema.Validate(raw); err != nil {
			return nil, invalidf("", "config shape: %v", err)
		}
	}
	if err := validateSemantics(cfg, opts); err != nil {
		return nil, err
	}

	globalID := SupervisorID("global_" + globalSeed(cfg, opts.RunID))

	teamIDs := make([]TeamID, 0, len(cfg.Teams))
	teamByID := make(map[TeamID]TeamNode, len(cfg.Teams))
	workerByID := make(map[WorkerID]WorkerNode)
	teamIDByName := make(map[string]TeamID, len(cfg.Teams))
	seenTeamID := make(map[TeamID]bool, len(cfg.Teams))

	for i, tc := range cfg.Teams {
		teamID := TeamID(tc.ID)
		if teamID == "" {
			teamID = TeamID(fmt.Sprintf("team_%s", shortHash(tc.Name, i)))
		}
		if seenTeamID[teamID] {
			return nil, invalidf("teams", "duplicate team id %q after assignment", teamID)
		}
		seenTeamID[teamID] = true
		teamIDByName[tc.Name] = teamID

		supID := SupervisorID(fmt.Sprintf("supervisor_%s", teamID))

		maxIter := tc.MaxIterations
		if maxIter <= 0 {
			maxIter = 8
		}

		workers := make([]WorkerRef, 0, len(tc.Workers))
		seenWorkerID := make(map[WorkerID]bool, len(tc.Workers))
		for j, wc := range tc.Workers {
			workerID := WorkerID(wc.ID)
			if workerID == "" {
				workerID = WorkerID(fmt.Sprintf("worker_%s", shortHash(string(teamID)+"|"+wc.Name, j)))
			}
			if seenWorkerID[workerID] {
				return nil, invalidf("teams", "team %q: duplicate worker id %q after assignment", tc.Name, workerID)
			}
			if _, exists := workerByID[workerID]; exists {
				return nil, invalidf("teams", "duplicate worker id %q across teams", workerID)
			}
			seenWorkerID[workerID] = true

			desc := wc.Description
			if desc == "" {
				desc = wc.Role
			}
			workerByID[workerID] = WorkerNode{
				WorkerID:     workerID,
				TeamID:       teamID,
				Name:         wc.Name,
				Role:         wc.Role,
				SystemPrompt: wc.SystemPrompt,
				Tools:        wc.Tools,
				Temperature:  wc.Temperature,
				MaxTokens:    wc.MaxTokens,
				Capabilities: wc.Capabilities,
				Description:  desc,
			}
			workers = append(workers, WorkerRef{WorkerID: workerID, Name: wc.Name})
		}

		teamIDs = append(teamIDs, teamID)
		teamByID[teamID] = TeamNode{
			TeamID:           teamID,
			SupervisorID:     supID,
			Name:             tc.Name,
			SupervisorPrompt: tc.SupervisorPrompt,
			Workers:          workers,
			PreventDuplicate: tc.PreventDuplicate,
			ShareContext:     tc.ShareContext,
			MaxIterations:    maxIter,
			// DependsOn resolved to IDs below, once every team name is known.
		}
	}

	for _, tc := range cfg.Teams {
		teamID := teamIDByName[tc.Name]
		if len(tc.DependsOn) == 0 {
			continue
		}
		node := teamByID[teamID]
		deps := make([]TeamID, 0, len(tc.DependsOn))
		for _, depName := range tc.DependsOn {
			depID, ok := teamIDByName[depName]
			if !ok {
				return nil, invalidf("teams", "team %q depends_on unknown team %q", tc.Name, depName)
			}
			deps = append(deps, depID)
		}
		node.DependsOn = deps
		teamByID[teamID] = node
	}

	maxConcurrency := cfg.MaxTeamConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = len(cfg.Teams)
	}
	mode := cfg.ExecutionMode
	if mode == "" {
		mode = ExecutionModeSequential
	}

	return &Topology{
		GlobalSupervisorID:   globalID,
		GlobalPrompt:         cfg.GlobalPrompt,
		Task:                 cfg.Task,
		EnableContextSharing: cfg.EnableContextSharing,
		ExecutionMode:        mode,
		MaxTeamConcurrency:   maxConcurrency,
		Teams:                teamIDs,
		TeamByID:             teamByID,
		WorkerByID:           workerByID,
	}, nil
}

func validateSemantics(cfg HierarchyConfig, opts BuildOptions) error {
	if strings.TrimSpace(cfg.GlobalPrompt) == "" {
		return invalid("global_prompt", "global_prompt is required")
	}
	if len(cfg.Teams) == 0 {
		return invalid("teams", "At least one team is required")
	}
	if opts.RequireTask && strings.TrimSpace(cfg.Task) == "" {
		return invalid("task", "task is required")
	}
	names := make(map[string]bool, len(cfg.Teams))
	for i, tc := range cfg.Teams {
		if strings.TrimSpace(tc.Name) == "" {
			return invalidf("teams", "team %d: name is required", i)
		}
		if names[tc.Name] {
			return invalidf("teams", "duplicate team name %q", tc.Name)
		}
		names[tc.Name] = true
		if strings.TrimSpace(tc.SupervisorPrompt) == "" {
			return invalidf("teams", "team %q: supervisor_prompt is required", tc.Name)
		}
		if len(tc.Workers) == 0 {
			return invalidf("teams", "team %q: at least one worker is required", tc.Name)
		}
		workerNames := make(map[string]bool, len(tc.Workers))
		for j, wc := range tc.Workers {
			if strings.TrimSpace(wc.Name) == "" {
				return invalidf("teams", "team %q, worker %d: name is required", tc.Name, j)
			}
			if workerNames[wc.Name] {
				return invalidf("teams", "team %q: duplicate worker name %q", tc.Name, wc.Name)
			}
			workerNames[wc.Name] = true
			if strings.TrimSpace(wc.Role) == "" {
				return invalidf("teams", "team %q, worker %q: role is required", tc.Name, wc.Name)
			}
			if strings.TrimSpace(wc.SystemPrompt) == "" {
				return invalidf("teams", "team %q, worker %q: system_prompt is required", tc.Name, wc.Name)
			}
			if wc.Temperature < 0 || wc.Temperature > 2 {
				return invalidf("teams", "team %q, worker %q: temperature must be in [0, 2]", tc.Name, wc.Name)
			}
			if wc.MaxTokens < 0 {
				return invalidf("teams", "team %q, worker %q: max_tokens must not be negative", tc.Name, wc.Name)
			}
		}
	}
	if cfg.ExecutionMode != "" && cfg.ExecutionMode != ExecutionModeSequential && cfg.ExecutionMode != ExecutionModeParallel {
		return invalidf("execution_mode", "must be %q or %q, got %q", ExecutionModeSequential, ExecutionModeParallel, cfg.ExecutionMode)
	}
	return nil
}

// shortHash derives a short, deterministic, URL-safe identifier suffix from
// a seed string and its positional index, so two builds of the same config
// always assign the same IDs (testable property: round-trip determinism).
func shortHash(seed string, index int) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(strconv.Itoa(index)))
	sum := h.Sum(nil)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)
	return strings.ToLower(enc[:10])
}

func globalSeed(cfg HierarchyConfig, runID string) string {
	if runID != "" {
		return runID
	}
	var sb strings.Builder
	sb.WriteString(cfg.GlobalPrompt)
	for _, t := range cfg.Teams {
		sb.WriteString("|")
		sb.WriteString(t.Name)
	}
	return shortHash(sb.String(), len(cfg.Teams))
}

// hierarchyConfigSchemaDoc returns the JSON Schema used to pre-validate the
// raw request body shape before semantic validation runs, mirroring the
// original Python server's field-presence checks declaratively.
func hierarchyConfigSchemaDoc() map[string]any {
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"required": []any{"global_prompt", "teams"},
		"properties": map[string]any{
			"global_prompt": map[string]any{"type": "string", "minLength": 1},
			"task":          map[string]any{"type": "string"},
			"execution_mode": map[string]any{
				"type": "string",
				"enum": []any{"sequential", "parallel"},
			},
			// teams/workers intentionally omit minItems: the empty-team and
			// empty-worker cases are rejected by validateSemantics with a
			// specific message ("At least one team is required" etc.)
			// rather than a generic schema violation.
			"teams": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"name", "supervisor_prompt", "workers"},
					"properties": map[string]any{
						"name":              map[string]any{"type": "string", "minLength": 1},
						"supervisor_prompt": map[string]any{"type": "string", "minLength": 1},
						"workers": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type":     "object",
								"required": []any{"name", "role", "system_prompt"},
								"properties": map[string]any{
									"name":          map[string]any{"type": "string", "minLength": 1},
									"role":          map[string]any{"type": "string", "minLength": 1},
									"system_prompt": map[string]any{"type": "string", "minLength": 1},
								},
							},
						},
					},
				},
			},
		},
	}
}
