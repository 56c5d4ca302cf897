package stage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/tokencount"
)

const dimensionReducerSystemPromptTemplate = `You are an expert academic writer creating a comprehensive section for a research report.
%s
**Your Task:**
Write a cohesive, publication-ready section about %q by synthesizing research from %d related aspects.

**Research Materials:**
%s

**Content Requirements:**
- **Synthesize**: Create a flowing narrative, not separate aspect summaries
- **Remove Redundancy**: Consolidate duplicate information across aspects
- **Preserve Citations**: Include all citations. Use format:
  - ArXiv papers: [Author et al., Year, arXiv:ID]
  - Web sources: [URL] (NO author, NO year, just URL)
  - Wikipedia: [Article Title, Wikipedia]
- **Logical Flow**: Start with foundational concepts, build to advanced topics
- **Depth & Coverage**:
  - Write comprehensive, cohesive synthesis that fully integrates all aspect findings
  - Include specific details, examples, and quantitative data from the research
  - Depth should match the richness of the research materials and complexity of the dimension
  - Focus on thorough integration rather than hitting a specific word count
  - Typical range: 1,500-3,000+ words depending on dimension complexity and research depth

**Structure:**
Write your synthesis in Markdown format with the following structure:

# %s

## Introduction
Brief overview of this dimension and its importance in the context of %q.

## [Conceptual Section 1]
Create 2-4 conceptual subsections that naturally integrate the aspects.
DO NOT use aspect names as subsection titles - organize by concepts/themes.

## [Conceptual Section 2]
Continue synthesizing across aspects...

## Key Findings and Implications
Summary of main insights and their significance.

**Important:**
- Output ONLY the markdown content
- Do NOT use aspect names as headings - reorganize by concepts
- Integrate findings from multiple aspects into each section
- Include inline citations as you write:
  * ArXiv: [Author et al., Year, arXiv:ID]
  * Web: [URL]
  * Wikipedia: [Article Title, Wikipedia]
- Do NOT generate a References section - it will be consolidated later
- This section will be included directly in the final report
`

const dimensionReducerUserPrompt = `Synthesize the research materials into a comprehensive section for the dimension %q.

Output ONLY the markdown content following the structure specified in the system prompt.`

// DimensionReduction synthesizes one dimension's aspect research into a
// single cohesive markdown section (spec §4.12). Run once per dimension by
// the fan-out router after the research mapper's barrier. A synthesis
// failure never aborts the fan-out: it records an empty-string sentinel in
// DimensionDocs for this dimension instead of propagating (spec §8 edge
// case "one dimension's reduction fails... DimensionDocs[dim] == ''").
func (d *Deps) DimensionReduction(ctx context.Context, s state.WorkflowState, arg any) (state.Update, error) {
	dimension, ok := arg.(string)
	if !ok {
		return state.Update{}, fmt.Errorf("dimension_reduction: expected string dimension argument, got %T", arg)
	}
	_ = d.Status.UpdateStage(ctx, "dimension_reduction")

	aspects := s.AspectsByDim[dimension]
	if len(aspects) == 0 {
		d.Status.AddDimensionDoc(dimension, "")
		return state.Update{DimensionDocs: map[string]string{dimension: ""}}, nil
	}

	researchSummary := formatResearchSummary(d.tokens(), aspects, s.ResearchByAspect, dimension)

	researchContextPrompt := ""
	if s.Config.ResearchContext != "" {
		researchContextPrompt = fmt.Sprintf("\n%s\nRESEARCH CONTEXT\n%s\n%s\n%s\n\nConsider this context when synthesizing the dimension section.\n",
			strings.Repeat("=", 80), strings.Repeat("=", 80), s.Config.ResearchContext, strings.Repeat("=", 80))
	}

	systemPrompt := fmt.Sprintf(dimensionReducerSystemPromptTemplate,
		researchContextPrompt, dimension, len(aspects), researchSummary, dimension, s.Topic)
	userPrompt := fmt.Sprintf(dimensionReducerUserPrompt, dimension)

	resp, err := d.Provider.Complete(ctx, llm.Request{
		Model: s.Config.LLMModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Parts: []llm.Part{llm.TextPart{Text: systemPrompt}}},
			{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: userPrompt}}},
		},
	})
	if err != nil {
		_ = d.Status.MarkDimensionFailed(ctx, dimension, err.Error())
		return state.Update{DimensionDocs: map[string]string{dimension: ""}}, nil
	}

	markdown := firstText(resp)
	if strings.TrimSpace(markdown) == "" {
		_ = d.Status.MarkDimensionFailed(ctx, dimension, "model returned empty content")
		return state.Update{DimensionDocs: map[string]string{dimension: ""}}, nil
	}

	path := d.Workspace.DimensionFile(dimension)
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		_ = d.Status.MarkDimensionFailed(ctx, dimension, fmt.Sprintf("write dimension file: %v", err))
		return state.Update{DimensionDocs: map[string]string{dimension: ""}}, nil
	}

	wordCount := len(strings.Fields(markdown))
	if s.SessionID != "" && s.UserID != "" {
		if _, err := d.Events.LogDimensionDocumentComplete(ctx, s.SessionID, s.UserID, dimension, markdown, wordCount, path); err != nil {
			return state.Update{}, fmt.Errorf("dimension_reduction: log dimension_document_complete: %w", err)
		}
	}

	d.Status.AddDimensionDoc(dimension, path)
	return state.Update{DimensionDocs: map[string]string{dimension: path}}, nil
}

// aspectSummaryTokenBudget caps each aspect's contribution to the synthesis
// prompt. Capping by token count rather than the aspect's own WordCount
// keeps the assembled prompt's size predictable for the provider regardless
// of how verbose a single aspect's research turned out to be.
const aspectSummaryTokenBudget = 1200

// formatResearchSummary assembles the per-aspect research digest fed into
// the synthesis prompt, ported from the original's format_research_summary.
func formatResearchSummary(counter *tokencount.Counter, aspects []state.Aspect, researchByAspect map[string]state.ResearchResult, dimension string) string {
	var parts []string
	for i, aspect := range aspects {
		key := state.AspectKey(dimension, aspect.Name)
		research := researchByAspect[key]
		content := counter.Truncate(research.Content, aspectSummaryTokenBudget)
		parts = append(parts, fmt.Sprintf(`
**Aspect %d: %s**
- Why Important: %s
- Key Questions: %s
- Word Count: %d words

Research Content:
%s

---
`, i+1, aspect.Name, aspect.Reasoning, strings.Join(aspect.KeyQuestions, ", "), research.WordCount, content))
	}
	return strings.Join(parts, "\n")
}
