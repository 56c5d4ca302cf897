package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dimensional-research/orchestrator/jsonrecovery"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
)

const refinementOnlySystemTemplate = `You are a research quality control specialist reviewing a multi-dimensional research plan.
%s
RESEARCH TOPIC: %s

TARGET STRUCTURE: %d dimensions x %d aspects per dimension = %d total aspects

QUALITY CRITERIA:

1. No Duplicates: Aspects should not overlap across different dimensions
2. Balanced Coverage: Each dimension should have EXACTLY %d aspects of similar scope
3. Topic Alignment: All aspects must directly relate to the research topic
4. Mutual Exclusivity: Within a dimension, aspects should not overlap
5. Coverage Gaps: Identify and add missing critical aspects
6. Appropriate Scope: Aspects should be researchable but not too narrow/broad

STRUCTURE REQUIREMENT: Final output must have EXACTLY %d dimensions with EXACTLY %d aspects each.

NOTE: You MAY rename dimensions if needed for clarity, but keep the total count at %d.

RESPONSE FORMAT: You MUST respond in JSON format with this structure:
{"aspects_by_dimension": {"Dimension Name": [{"name": "Aspect Name", "reasoning": "Why important...", "key_questions": ["Q1", "Q2"]}]}, "summary": "Brief summary of refinement"}
`

const refinementOnlyUserTemplate = `Review and refine the following research structure to ensure high-quality coverage.

CURRENT RESEARCH STRUCTURE:
%s

Analyze the structure and return the refined version with explanations for any changes made.`

const refinementWithReferencesSystemTemplate = `You are a research planning specialist refining a multi-dimensional research plan.
%s
RESEARCH TOPIC: %s

TARGET STRUCTURE: %d dimensions x %d aspects per dimension = %d total aspects
%s
Your task: Refine aspects while considering insights from reference materials.

INSTRUCTIONS:

1. Quality Control: Apply standard refinement criteria (no duplicates, balanced coverage, etc.)
2. Structure Requirement: Final output must have EXACTLY %d dimensions with EXACTLY %d aspects each
3. Reference Integration: Use reference materials to enhance reasoning, refine key questions, and fill coverage gaps
4. Format: every aspect needs "name", "reasoning", "key_questions"

NOTE: All aspects will be researched further. References inform planning, not replace research.

RESPONSE FORMAT: You MUST respond in JSON format with this structure:
{"aspects_by_dimension": {"Dimension Name": [{"name": "Aspect Name", "reasoning": "Why important...", "key_questions": ["Q1", "Q2"]}]}, "summary": "Brief summary of refinement"}
`

const refinementWithReferencesUserTemplate = `Review and refine the following research structure while integrating insights from the reference materials.

DISCOVERED RESEARCH STRUCTURE:
%s

Analyze the structure, integrate reference insights, determine coverage, and return the refined version with explanations.`

const researchPlanningMaxRetries = 2

type refinedAspectsOutput struct {
	AspectsByDimension map[string][]struct {
		Name         string   `json:"name"`
		Reasoning    string   `json:"reasoning"`
		KeyQuestions []string `json:"key_questions"`
	} `json:"aspects_by_dimension"`
	Summary string `json:"summary"`
}

// ResearchPlanning refines the aspects every dimension's aspect_analysis
// discovered into the final research structure (spec §4.10): quality
// control alone when no reference materials were supplied, or reference-
// integrated refinement when they were. A malformed model response is
// retried up to researchPlanningMaxRetries times before falling back to the
// original, unrefined aspects (spec §8 scenario 3).
func (d *Deps) ResearchPlanning(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "research_planning"); err != nil {
		return state.Update{}, fmt.Errorf("research_planning: %w", err)
	}

	profile, err := d.researchDepthProfile(s)
	if err != nil {
		return state.Update{}, fmt.Errorf("research_planning: %w", err)
	}
	totalTarget := profile.TargetDimensions * profile.AspectsPerDim

	structureJSON, err := json.MarshalIndent(s.OriginalAspectsByDim, "", "  ")
	if err != nil {
		return state.Update{}, fmt.Errorf("research_planning: marshal current structure: %w", err)
	}

	researchContextPrompt := ""
	if s.Config.ResearchContext != "" {
		researchContextPrompt = fmt.Sprintf("\n%s\nRESEARCH CONTEXT\n%s\n%s\n%s\n\nConsider this context when refining aspects.\n",
			strings.Repeat("=", 80), strings.Repeat("=", 80), s.Config.ResearchContext, strings.Repeat("=", 80))
	}

	var systemPrompt, userPrompt string
	hasReferences := len(s.References) > 0
	if hasReferences {
		referenceContext := ReferenceContextPrompt(s.References, true)
		systemPrompt = fmt.Sprintf(refinementWithReferencesSystemTemplate,
			researchContextPrompt, s.Topic, profile.TargetDimensions, profile.AspectsPerDim, totalTarget, referenceContext,
			profile.TargetDimensions, profile.AspectsPerDim)
		userPrompt = fmt.Sprintf(refinementWithReferencesUserTemplate, structureJSON)
	} else {
		systemPrompt = fmt.Sprintf(refinementOnlySystemTemplate,
			researchContextPrompt, s.Topic, profile.TargetDimensions, profile.AspectsPerDim, totalTarget,
			profile.AspectsPerDim, profile.TargetDimensions, profile.AspectsPerDim, profile.TargetDimensions)
		userPrompt = fmt.Sprintf(refinementOnlyUserTemplate, structureJSON)
	}

	refined, planErr := d.refineAspects(ctx, s, systemPrompt, userPrompt)
	if planErr != nil {
		refined = fallbackAspects(s.OriginalAspectsByDim)
		_ = d.Status.AddError(ctx, "research_planning",
			fmt.Sprintf("refinement failed after %d attempts, using original structure: %v", researchPlanningMaxRetries+1, planErr))
	}
	if len(refined) == 0 {
		refined = fallbackAspects(s.OriginalAspectsByDim)
	}

	dimensions := make([]string, 0, len(refined))
	for dim := range refined {
		dimensions = append(dimensions, dim)
	}
	sort.Strings(dimensions)

	if s.UserID != "" {
		aspectNames := make(map[string][]string, len(refined))
		for dim, aspects := range refined {
			names := make([]string, len(aspects))
			for i, a := range aspects {
				names[i] = a.Name
			}
			aspectNames[dim] = names
		}
		if _, err := d.Events.LogDimensionsIdentified(ctx, s.SessionID, s.UserID, dimensions, aspectNames); err != nil {
			return state.Update{}, fmt.Errorf("research_planning: log dimensions_identified: %w", err)
		}
	}

	return state.Update{AspectsByDim: refined, Dimensions: dimensions}, nil
}

// refineAspects calls the model up to researchPlanningMaxRetries+1 times,
// returning the first structurally valid result. A valid but empty
// aspects_by_dimension is returned as an empty map without retrying, which
// the caller replaces with the original aspects.
func (d *Deps) refineAspects(ctx context.Context, s state.WorkflowState, systemPrompt, userPrompt string) (map[string][]state.Aspect, error) {
	var lastErr error
	for attempt := 0; attempt <= researchPlanningMaxRetries; attempt++ {
		resp, err := d.Provider.Complete(ctx, llm.Request{
			Model: s.Config.LLMModel,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Parts: []llm.Part{llm.TextPart{Text: systemPrompt}}},
				{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: userPrompt}}},
			},
		})
		if err != nil {
			lastErr = err
			continue
		}

		var parsed refinedAspectsOutput
		if err := jsonrecovery.Parse(firstText(resp), "research_planning", &parsed); err != nil {
			lastErr = err
			continue
		}
		if len(parsed.AspectsByDimension) == 0 {
			return map[string][]state.Aspect{}, nil
		}

		refined := make(map[string][]state.Aspect, len(parsed.AspectsByDimension))
		for dim, aspects := range parsed.AspectsByDimension {
			out := make([]state.Aspect, len(aspects))
			for i, a := range aspects {
				out[i] = state.Aspect{Name: a.Name, Reasoning: a.Reasoning, KeyQuestions: a.KeyQuestions, Completed: false}
			}
			refined[dim] = out
		}
		return refined, nil
	}
	return nil, lastErr
}

// fallbackAspects copies the unrefined aspects through unchanged, used when
// refinement exhausts its retries (spec §8 scenario 3).
func fallbackAspects(original map[string][]state.Aspect) map[string][]state.Aspect {
	out := make(map[string][]state.Aspect, len(original))
	for dim, aspects := range original {
		copied := make([]state.Aspect, len(aspects))
		copy(copied, aspects)
		for i := range copied {
			copied[i].Completed = false
		}
		out[dim] = copied
	}
	return out
}
