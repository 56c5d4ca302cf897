// Package stage implements every workflow stage (C6) named in spec §4:
// initialize_session through finalize. Each stage is a method on *Deps
// whose method value serves as a graph.UnaryFunc or graph.MapperFunc,
// wired into a graph.Graph by BuildGraph.
package stage

import (
	"context"

	"github.com/bwmarrin/snowflake"

	"github.com/dimensional-research/orchestrator/agentdriver"
	"github.com/dimensional-research/orchestrator/blobstore"
	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/events"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/sandbox"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/status"
	"github.com/dimensional-research/orchestrator/tokencount"
	"github.com/dimensional-research/orchestrator/toolclient"
	"github.com/dimensional-research/orchestrator/workspace"
)

// Deps bundles every external dependency a stage handler needs. One Deps is
// built per session (status.Publisher and events.Tracker are themselves
// session-scoped; see §4.6 initialize_session) and shared by every stage
// closure BuildGraph wires together.
type Deps struct {
	Provider  llm.Provider
	Tools     *toolclient.Client
	Sandbox   sandbox.Executor
	Blobs     blobstore.Store
	Workspace *workspace.Workspace
	Events    *events.Tracker
	Status    *status.Publisher

	// Tokens bounds research content fed into later prompts by model token
	// count (spec §4.11/§4.12 content assembly), independent of the
	// word counts the status store records. Defaults to a shared
	// cl100k_base counter when left nil; tests that don't exercise sizing
	// construct Deps without setting it.
	Tokens *tokencount.Counter

	// IDs mints unique document/version identifiers (spec §4.12 "generate
	// UNIQUE document ID"). Workspace file paths are already deterministic
	// per-dimension, so this is reserved for the identifiers attached to
	// artifact versions and generated documents rather than path uniqueness.
	IDs *snowflake.Node

	// CancelCheck is threaded into every agentdriver.Request so the
	// reasoning loop observes cancellation without importing status
	// directly (spec §4.5, §5 "checkCancellation").
	CancelCheck func(ctx context.Context) (bool, error)
}

func newAgentDriver(deps *Deps) *agentdriver.Driver {
	return agentdriver.New(deps.Provider, deps.Tools)
}

// defaultTokenCounter is built lazily so packages that construct a Deps
// without caring about token sizing (most stage tests) don't pay for a
// tiktoken encoding load they never use.
var defaultTokenCounter *tokencount.Counter

func (d *Deps) tokens() *tokencount.Counter {
	if d.Tokens != nil {
		return d.Tokens
	}
	if defaultTokenCounter == nil {
		defaultTokenCounter = tokencount.NewCL100KCounter()
	}
	return defaultTokenCounter
}

// nextID mints a prefix-tagged, time-sortable identifier for a generated
// artifact (spec §4.12 "generate UNIQUE document ID"; ported from the
// original's timestamp+uuid4 suffix, replaced with a snowflake ID for a
// single monotonic, collision-free source instead of two).
func (d *Deps) nextID(prefix string) string {
	return prefix + "_" + d.IDs.Generate().Base32()
}

// researchDepthProfile resolves a run's config.DepthProfile, the canonical
// source for dimension/aspect counts and iteration caps every stage derives
// its bounds from (spec §3.2).
func (d *Deps) researchDepthProfile(s state.WorkflowState) (config.DepthProfile, error) {
	return config.ResolveDepthProfile(s.Config.ResearchDepth)
}

// iterationCap derives the agent-driver iteration cap from a depth profile
// (spec §4.5: "never below 100 for the hard safety ceiling"; grounded on
// the original's recursion_limit = max(100, agent_max_iterations*2)).
func iterationCap(profile config.DepthProfile) int {
	cap := profile.AgentMaxIter * 2
	if cap < 100 {
		cap = 100
	}
	return cap
}
