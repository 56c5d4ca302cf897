package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/statusstore"
)

// InitializeSession is the graph's entry node (spec §4.6). It records the
// run's configuration on the status record, validates that every tool the
// chosen research type requires is actually present in the tool plane's
// discovery result, and logs the session-start event. A missing required
// tool aborts the whole run here rather than surfacing later as a
// per-aspect failure (spec §8 scenario 5, §7 "auth/config error").
func (d *Deps) InitializeSession(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := s.Config.Validate(); err != nil {
		_ = d.Status.MarkFailed(ctx, err.Error())
		return state.Update{}, fmt.Errorf("initialize_session: %w", err)
	}

	if err := d.Status.UpdateStage(ctx, "initialize_session"); err != nil {
		return state.Update{}, fmt.Errorf("initialize_session: %w", err)
	}
	if err := d.Status.MarkProcessing(ctx); err != nil {
		return state.Update{}, fmt.Errorf("initialize_session: %w", err)
	}
	_ = d.Status.UpdateProgress(ctx, func(st *statusstore.Status) {
		st.Topic = s.Topic
		st.Model = s.Config.LLMModel
		st.ResearchType = string(s.Config.ResearchType)
		st.ResearchDepth = string(s.Config.ResearchDepth)
		st.ResearchContext = s.Config.ResearchContext
	})

	if err := d.validateRequiredTools(ctx, s.Config.ResearchType); err != nil {
		_ = d.Status.MarkFailed(ctx, err.Error())
		return state.Update{}, fmt.Errorf("initialize_session: %w", err)
	}

	hasReferences := len(s.References) > 0
	if s.UserID != "" {
		if _, err := d.Events.LogResearchStart(ctx, s.SessionID, s.UserID, s.Topic, s.Config.LLMModel,
			string(s.Config.ResearchType), string(s.Config.ResearchDepth), hasReferences); err != nil {
			return state.Update{}, fmt.Errorf("initialize_session: log research_start: %w", err)
		}
	}

	started := time.Now()
	return state.Update{StartedAt: &started}, nil
}

// validateRequiredTools discovers the tool plane's current catalog and
// checks that every tool config.RequiredTools names for researchType is
// present, returning a precise error naming what's missing if not.
func (d *Deps) validateRequiredTools(ctx context.Context, researchType config.ResearchType) error {
	required := config.RequiredTools(researchType)
	if len(required) == 0 {
		return nil
	}

	descs, err := d.Tools.Discover(ctx, false)
	if err != nil {
		return fmt.Errorf("discover tools: %w", err)
	}

	names := make(map[string]struct{}, len(descs))
	for _, desc := range descs {
		names[desc.Name] = struct{}{}
	}

	var missing []string
	for _, tool := range required {
		if _, ok := names[tool]; !ok {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tools unavailable for research type %q: %s", researchType, strings.Join(missing, ", "))
	}
	return nil
}
