package topology

// TeamID, WorkerID, and SupervisorID are strong string identifiers assigned
// at build time. They are stable for the lifetime of a Topology and are
// safe to appear in event payloads.
type (
	TeamID       string
	WorkerID     string
	SupervisorID string
)

// FinishSentinel is the candidate name a supervisor can select to terminate
// its own selection loop early. It is injected into every team-supervisor
// and global-supervisor candidate menu alongside the real candidates.
const FinishSentinel = "FINISH"

// WorkerRef names one worker within a team, in the order the team config
// declared it.
type WorkerRef struct {
	WorkerID WorkerID
	Name     string
}

// TeamNode is the materialized form of a TeamConfig: assigned IDs plus the
// data the scheduler and supervisor need at run time.
type TeamNode struct {
	TeamID           TeamID
	SupervisorID     SupervisorID
	Name             string
	SupervisorPrompt string
	Workers          []WorkerRef
	PreventDuplicate bool
	ShareContext     bool
	MaxIterations    int
	DependsOn        []TeamID
}

// WorkerNode is the materialized form of a WorkerConfig.
type WorkerNode struct {
	WorkerID     WorkerID
	TeamID       TeamID
	Name         string
	Role         string
	SystemPrompt string
	Tools        []string
	Temperature  float64
	MaxTokens    int
	Capabilities []string
	Description  string
}

// Topology is the immutable, materialized tree produced by Builder.Build.
// Once built it is never mutated; the scheduler only reads it.
type Topology struct {
	GlobalSupervisorID SupervisorID
	GlobalPrompt       string
	Task               string

	EnableContextSharing bool
	ExecutionMode        ExecutionMode
	MaxTeamConcurrency   int

	// Teams preserves the original config order; TeamByID indexes the same
	// nodes for O(1) lookup by ID.
	Teams    []TeamID
	TeamByID map[TeamID]TeamNode

	// WorkerByID indexes every worker across all teams by its ID.
	WorkerByID map[WorkerID]WorkerNode
}

// TeamOf returns the team node a worker belongs to. The caller is
// guaranteed by the builder's invariants that every WorkerNode.TeamID
// resolves to an entry in TeamByID.
func (t *Topology) TeamOf(w WorkerID) (TeamNode, bool) {
	wn, ok := t.WorkerByID[w]
	if !ok {
		return TeamNode{}, false
	}
	tn, ok := t.TeamByID[wn.TeamID]
	return tn, ok
}

// WithTask returns a shallow copy of t bound to task. It is used by
// runs/start to bind a task-less registered hierarchy (built via
// hierarchies/create) to a concrete run without rebuilding the topology,
// since the topology's IDs and structure do not depend on the task text.
func (t *Topology) WithTask(task string) *Topology {
	clone := *t
	clone.Task = task
	return &clone
}
