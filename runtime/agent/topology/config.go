// Package topology validates a declarative HierarchyConfig, assigns stable
// identities, and materializes an immutable Topology that the scheduler
// drives to completion.
package topology

// WorkerConfig describes one leaf worker within a team.
type WorkerConfig struct {
	// ID, when set, is used verbatim instead of a derived hash. Optional.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Name is the worker's display name. Required, non-empty.
	Name string `json:"name" yaml:"name"`
	// Role is a short label describing the worker's specialty.
	Role string `json:"role" yaml:"role"`
	// SystemPrompt seeds the worker's model invocations.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	// Tools names the tool set available to the worker's tool-use loop.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Temperature must be in [0, 2] when set; zero value defers to the
	// model client's own default.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	// MaxTokens bounds each model call; must not be negative. Zero defers
	// to the worker's own default (1024).
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// Capabilities is free-form metadata surfaced to the supervisor's
	// selection prompt alongside Role.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Description is shown to the supervisor during selection; defaults to
	// Role when empty.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// TeamConfig describes one team: a supervisor prompt plus an ordered,
// non-empty sequence of workers.
type TeamConfig struct {
	// ID, when set, is used verbatim instead of a derived hash. Optional.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Name is the team's display name. Required, non-empty.
	Name string `json:"name" yaml:"name"`
	// SupervisorPrompt seeds the team supervisor's selection prompts.
	SupervisorPrompt string `json:"supervisor_prompt" yaml:"supervisor_prompt"`
	// Workers is the ordered, non-empty set of workers in this team.
	Workers []WorkerConfig `json:"workers" yaml:"workers"`
	// PreventDuplicate, when true, forbids the team supervisor from
	// reselecting a worker that already produced output this run.
	PreventDuplicate bool `json:"prevent_duplicate,omitempty" yaml:"prevent_duplicate,omitempty"`
	// ShareContext, when true, asks the supervisor to produce a summary of
	// worker outputs instead of a plain concatenation.
	ShareContext bool `json:"share_context,omitempty" yaml:"share_context,omitempty"`
	// MaxIterations bounds the team's selection loop. Defaults to 8.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// DependsOn lists team names (not IDs) that must be Done before this
	// team becomes eligible. Empty means no dependency.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// HierarchyConfig is the top-level, request-scoped description of a run.
type HierarchyConfig struct {
	// GlobalPrompt seeds the global supervisor's team-selection and
	// synthesis prompts.
	GlobalPrompt string `json:"global_prompt" yaml:"global_prompt"`
	// Teams is the ordered, non-empty sequence of teams under the global
	// supervisor.
	Teams []TeamConfig `json:"teams" yaml:"teams"`
	// Task is the user-supplied task text driving this run. Required,
	// non-empty; may be omitted when registering a reusable hierarchy via
	// hierarchies/create.
	Task string `json:"task,omitempty" yaml:"task,omitempty"`
	// EnableContextSharing propagates prior teams' outputs into later
	// teams' task text in sequential mode.
	EnableContextSharing bool `json:"enable_context_sharing,omitempty" yaml:"enable_context_sharing,omitempty"`
	// ExecutionMode selects the scheduler's drive strategy.
	ExecutionMode ExecutionMode `json:"execution_mode,omitempty" yaml:"execution_mode,omitempty"`
	// MaxTeamConcurrency bounds how many teams run concurrently in
	// parallel mode. Defaults to len(Teams).
	MaxTeamConcurrency int `json:"max_team_concurrency,omitempty" yaml:"max_team_concurrency,omitempty"`
}

// ExecutionMode selects how the scheduler drives teams to completion.
type ExecutionMode string

const (
	// ExecutionModeSequential drives one team to completion before
	// starting the next.
	ExecutionModeSequential ExecutionMode = "sequential"
	// ExecutionModeParallel drives all dependency-eligible teams
	// concurrently.
	ExecutionModeParallel ExecutionMode = "parallel"
)
