package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dimensional-research/orchestrator/state"
)

// PrepareResearch is the barrier following the aspect_analysis mapper
// (spec §4.9). It deliberately does nothing beyond advancing the stage:
// dimensions/aspects are flushed later, after research_planning may have
// renamed or refined them, not here.
func (d *Deps) PrepareResearch(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "prepare_research"); err != nil {
		return state.Update{}, fmt.Errorf("prepare_research: %w", err)
	}
	return state.Update{}, nil
}

// PrepareDimensionReduction is the barrier following the research mapper
// (spec §4.11-§4.12 boundary). It flushes every buffered research result
// into the status store before dimension_reduction starts reading them.
func (d *Deps) PrepareDimensionReduction(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	for key, result := range s.ResearchByAspect {
		dimension, aspect, ok := strings.Cut(key, "::")
		if !ok {
			continue
		}
		sourcesCount := len(citationPattern.FindAllString(result.Content, -1))
		d.Status.AddResearchResult(dimension, aspect, result.WordCount, sourcesCount)
	}
	if err := d.Status.FlushResearchResults(ctx); err != nil {
		return state.Update{}, fmt.Errorf("prepare_dimension_reduction: %w", err)
	}
	if err := d.Status.UpdateStage(ctx, "prepare_dimension_reduction"); err != nil {
		return state.Update{}, fmt.Errorf("prepare_dimension_reduction: %w", err)
	}
	return state.Update{}, nil
}

// AggregateDimensions is the barrier following the dimension_reduction
// mapper (spec §4.13 boundary). Every dimension document was already
// written by its own mapper child, which buffered its path (or recorded its
// failure directly); this barrier flushes the buffered paths into the status
// store and advances the stage.
func (d *Deps) AggregateDimensions(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.FlushDimensionDocuments(ctx); err != nil {
		return state.Update{}, fmt.Errorf("aggregate_dimensions: %w", err)
	}
	if err := d.Status.UpdateStage(ctx, "aggregate_dimensions"); err != nil {
		return state.Update{}, fmt.Errorf("aggregate_dimensions: %w", err)
	}
	return state.Update{}, nil
}
