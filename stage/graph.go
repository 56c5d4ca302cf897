package stage

import (
	"context"

	"github.com/dimensional-research/orchestrator/graph"
	"github.com/dimensional-research/orchestrator/state"
)

// BuildGraph wires every stage into the thirteen-step workflow topology
// (spec §4): initialize_session branches on whether reference materials
// were supplied, then funnels through aspect_analysis / research /
// dimension_reduction fan-outs, each closed by its own barrier, before a
// strictly sequential report_writing -> chart_generation ->
// document_conversion -> finalize tail.
//
// Grounded on _examples/original_source/research-agent/src/workflow.py's
// create_workflow() node/edge registration and its route_from_start /
// continue_to_aspect_analysis / continue_to_research /
// continue_to_dimension_reduction router functions.
func BuildGraph(d *Deps) *graph.Graph {
	g := graph.New("initialize_session")

	g.AddNode("initialize_session", d.InitializeSession, routeFromStart)
	g.AddEdge("reference_preparation", d.ReferencePreparation, "topic_analysis")
	g.AddNode("topic_analysis", d.TopicAnalysis, continueToAspectAnalysis)

	g.AddMapperNode("aspect_analysis", d.AspectAnalysis)
	g.AddBarrier("prepare_research", "aspect_analysis", d.PrepareResearch, fixedRoute("research_planning"))

	g.AddNode("research_planning", d.ResearchPlanning, continueToResearch)

	g.AddMapperNode("research", d.ResearchAgent)
	g.AddBarrier("prepare_dimension_reduction", "research", d.PrepareDimensionReduction, continueToDimensionReduction)

	g.AddMapperNode("dimension_reduction", d.DimensionReduction)
	g.AddBarrier("aggregate_dimensions", "dimension_reduction", d.AggregateDimensions, fixedRoute("report_writing"))

	g.AddEdge("report_writing", d.ReportWriting, "chart_generation")
	g.AddEdge("chart_generation", d.ChartGeneration, "document_conversion")
	g.AddEdge("document_conversion", d.DocumentConversion, "finalize")
	g.AddEdge("finalize", d.Finalize, graph.End)

	return g
}

// fixedRoute returns a RouterFunc that always transitions to next,
// matching graph.AddEdge's sugar for the barriers that take a router
// explicitly (AddBarrier has no AddEdge-style shorthand of its own).
func fixedRoute(next string) graph.RouterFunc {
	return func(context.Context, state.WorkflowState) ([]graph.Send, error) {
		return []graph.Send{{Target: next}}, nil
	}
}

// routeFromStart sends to reference_preparation when the caller supplied
// reference materials, otherwise straight to topic_analysis. Ported from
// route_from_start, which defaults to topic_analysis on any exception —
// here there is nothing that can fail, so the check is unconditional.
func routeFromStart(ctx context.Context, s state.WorkflowState) ([]graph.Send, error) {
	if len(s.Config.ReferenceMaterials) > 0 {
		return []graph.Send{{Target: "reference_preparation"}}, nil
	}
	return []graph.Send{{Target: "topic_analysis"}}, nil
}

// continueToAspectAnalysis fans out one Send per identified dimension.
// Ported from continue_to_aspect_analysis.
func continueToAspectAnalysis(ctx context.Context, s state.WorkflowState) ([]graph.Send, error) {
	sends := make([]graph.Send, 0, len(s.Dimensions))
	for _, dimension := range s.Dimensions {
		sends = append(sends, graph.Send{Target: "aspect_analysis", Arg: dimension})
	}
	return sends, nil
}

// continueToResearch fans out one Send per (dimension, aspect) pair that
// has not already been marked completed, skipping any aspect research_
// planning (or a prior partial run) already satisfied. Ported from
// continue_to_research's incomplete/completed split.
func continueToResearch(ctx context.Context, s state.WorkflowState) ([]graph.Send, error) {
	var sends []graph.Send
	for _, dimension := range s.Dimensions {
		for _, aspect := range s.AspectsByDim[dimension] {
			if aspect.Completed {
				continue
			}
			sends = append(sends, graph.Send{
				Target: "research",
				Arg:    ResearchAspectArg{Dimension: dimension, Aspect: aspect},
			})
		}
	}
	if len(sends) == 0 {
		// Every aspect was already completed (e.g. a resumed run) — still
		// need to reach the research barrier so dimension_reduction runs.
		return []graph.Send{{Target: "prepare_dimension_reduction"}}, nil
	}
	return sends, nil
}

// continueToDimensionReduction fans out one Send per dimension, no
// filtering. Ported from continue_to_dimension_reduction.
func continueToDimensionReduction(ctx context.Context, s state.WorkflowState) ([]graph.Send, error) {
	sends := make([]graph.Send, 0, len(s.Dimensions))
	for _, dimension := range s.Dimensions {
		sends = append(sends, graph.Send{Target: "dimension_reduction", Arg: dimension})
	}
	return sends, nil
}
