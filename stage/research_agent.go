package stage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dimensional-research/orchestrator/agentdriver"
	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/errclass"
	"github.com/dimensional-research/orchestrator/state"
)

// maxAspectContentTokens bounds one aspect's stored research content. A
// single runaway aspect write-up would otherwise blow the token budget of
// the dimension_reduction synthesis call that later concatenates every
// aspect in its dimension into one prompt.
const maxAspectContentTokens = 4000

// ResearchAspectArg is the fan-out argument for the research mapper node:
// one Send per uncompleted aspect (spec §4.11). The router that fans these
// out filters out any aspect already marked Completed before sending.
type ResearchAspectArg struct {
	Dimension string
	Aspect    state.Aspect
}

const researchAgentBasePrompt = `You are a research assistant specializing in information gathering and analysis.

Your task is to find and analyze relevant information using appropriate tools, then synthesize findings into a structured research report.

RESEARCH APPROACH:

Follow this iterative research pattern:

**1. Initial Survey:**
- Start with broad searches to understand the topic landscape
- Gather diverse perspectives and identify key themes, gaps, and promising leads
- Choose tools that best match your information needs

**2. Targeted Investigation:**
- Based on initial findings, drill deeper into specific areas
- Fill gaps in understanding with focused queries
- Stop searching when you can address each key research question with evidence from multiple sources (aim for 2-3 credible sources per question)

**3. Synthesis & Writing:**
- Analyze and synthesize collected information
- Write comprehensive research report following the CONTENT STRUCTURE below
- Generate output even if some questions remain - work with available information

**Tool Selection:**
- Use specialized tools when available (academic databases, knowledge bases, domain-specific APIs)
- Specialized tools typically provide more structured and authoritative data than general web search
- Each tool call should have a clear purpose based on what you've learned so far

CITATION RULES:

**When to Cite:**
- Facts, numbers, quotes: cite immediately after -> "Cost rose 40% [https://source.com]"
- Quantitative data: ALWAYS cite with URL
- General statements: cite at end of paragraph with all sources
- Extended discussion: cite every 2-3 sentences

**URL Extraction from Tool Results:**
- Search tools: use 'link' or 'url' field from results
- arXiv: construct https://arxiv.org/abs/ARXIV_ID from arxiv_id field
- Wikipedia: use 'url' field
- Other sources: check for url, link, source, or ID fields

**Citation Format:**
- Tool sources: [https://full-url]
- User references (if provided): [REF-1], [REF-2]
- Multiple sources: [REF-1] [https://url1] [https://url2]
- Cite consistently throughout your report

REPORT STRUCTURE:

Write a focused research report in Markdown:

**Suggested Structure:**
## Overview
Brief context for this aspect (2-3 paragraphs)

## Research Findings
Address the research questions - organize findings logically using clear headings
- Focus on questions where you found substantial evidence
- If a question lacks sufficient evidence, note this briefly rather than speculating
- Use subheadings (###) to organize related findings

## Key Insights
Main patterns, implications, and takeaways (2-4 key points)

**Writing Guidelines:**
- Create a cohesive narrative with logical flow between sections
- Use clear topic sentences and smooth transitions
- Balance breadth and depth - cover key points without superficial treatment
- Support claims with specific evidence, examples, and data
- This will be combined with other aspects - focus on YOUR scope only
- Adapt structure as needed based on what you discover
- Cite all sources, target 500-1000 words (simple topics: ~500, complex topics: ~1000)
`

const researchAgentSourceEvaluation = `
SOURCE EVALUATION:

**Source Reliability (highest to lowest):**
- Academic/Scholarly (journals, papers, .edu) - established knowledge
- Official/Institutional (government, industry reports, .org) - data and statistics
- News outlets - current events (verify controversial topics across multiple sources)
- Blogs/Opinion - perspectives only (verify claims with authoritative sources)

**Handling Conflicts:**
When sources disagree: prefer authoritative + recent sources, cross-reference, note disagreements in analysis.
`

const researchAgentConfigGuidanceTemplate = `
RESEARCH CONFIGURATION:

**Research Type:** %s
- Available tools are pre-selected based on your research needs

**Tool Usage:**
- Prioritize source quality and diversity over volume
- Stop when each research question has supporting evidence from multiple credible sources
- Search result limit per call: %d results
`

const researchQueryTemplate = `Research the following aspect in depth:

%s
%s
%s

**Topic**: %s
**Dimension**: %s
**Aspect**: %s
**Aspect Key**: %s

**Research Focus**:
%s

**Key Research Questions to Address**:
%s

INSTRUCTIONS:
1. Follow the iterative research pattern above (Survey -> Investigation -> Synthesis)
2. Evaluate source reliability using the guidelines provided
3. Extract URLs from tool results and cite using the CITATION RULES above
4. Write your report following the CONTENT STRUCTURE specified above
5. Output ONLY the markdown content - no JSON, no wrapper format
`

var citationPattern = regexp.MustCompile(`\[(REF-\d+|https?://[^\]]+)\]`)

// ResearchAgent performs deep research on one aspect via the bounded
// agentdriver loop (spec §4.11). It is run once per uncompleted aspect by
// the fan-out router. Every recoverable failure mode — cancellation,
// iteration-cap exhaustion, timeout, or a generic tool/model error — is
// converted to a placeholder research result rather than a Go error, since
// a mapper-child error aborts the whole fan-out.
func (d *Deps) ResearchAgent(ctx context.Context, s state.WorkflowState, arg any) (state.Update, error) {
	ra, ok := arg.(ResearchAspectArg)
	if !ok {
		return state.Update{}, fmt.Errorf("research_agent: expected ResearchAspectArg, got %T", arg)
	}
	dimension, aspect := ra.Dimension, ra.Aspect
	aspectKey := state.AspectKey(dimension, aspect.Name)

	profile, err := d.researchDepthProfile(s)
	if err != nil {
		return state.Update{}, fmt.Errorf("research_agent: %w", err)
	}
	_ = d.Status.UpdateStage(ctx, "research")

	descs, err := d.Tools.Discover(ctx, false)
	if err != nil {
		return d.researchPlaceholder(ctx, dimension, aspect, aspectKey, "failed to load research tools: "+err.Error()), nil
	}
	allowed := make(map[string]bool)
	for _, name := range config.RequiredTools(s.Config.ResearchType) {
		allowed[name] = true
	}
	tools := filterToolDefinitions(descs, allowed)
	if len(tools) == 0 {
		return d.researchPlaceholder(ctx, dimension, aspect, aspectKey, "no research tools enabled in configuration"), nil
	}

	systemPrompt := researchAgentBasePrompt + researchAgentSourceEvaluation +
		fmt.Sprintf(researchAgentConfigGuidanceTemplate, s.Config.ResearchType, profile.SearchResultCap)
	query := researchQuery(s, dimension, aspect, aspectKey)

	driver := newAgentDriver(d)
	result, runErr := driver.Run(ctx, agentdriver.Request{
		Model:         s.Config.LLMModel,
		SystemPrompt:  systemPrompt,
		UserPrompt:    query,
		Tools:         tools,
		MaxIterations: iterationCap(profile),
		CancelCheck:   d.CancelCheck,
	})
	if runErr != nil {
		return d.researchFailurePlaceholder(ctx, dimension, aspect, aspectKey, runErr, iterationCap(profile)), nil
	}

	content := strings.TrimSpace(result.FinalText)
	content = d.tokens().Truncate(content, maxAspectContentTokens)
	wordCount := len(strings.Fields(content))

	if s.UserID != "" {
		if _, err := d.Events.LogAspectResearchComplete(ctx, s.SessionID, s.UserID, dimension, aspect.Name,
			map[string]any{"aspect_key": aspectKey, "title": aspect.Name, "content": content, "word_count": wordCount},
			wordCount); err != nil {
			return state.Update{}, fmt.Errorf("research_agent: log aspect_research_complete: %w", err)
		}
	}

	d.Status.AddResearchResult(dimension, aspect.Name, wordCount, len(citationPattern.FindAllString(content, -1)))

	return state.Update{ResearchByAspect: map[string]state.ResearchResult{
		aspectKey: {AspectKey: aspectKey, Title: aspect.Name, Content: content, WordCount: wordCount},
	}}, nil
}

func researchQuery(s state.WorkflowState, dimension string, aspect state.Aspect, aspectKey string) string {
	researchContextPrompt := ""
	if s.Config.ResearchContext != "" {
		researchContextPrompt = fmt.Sprintf("%s\nRESEARCH CONTEXT\n%s\n%s\n%s\n\nKeep this context in mind during your research.\n",
			strings.Repeat("=", 80), strings.Repeat("=", 80), s.Config.ResearchContext, strings.Repeat("=", 80))
	}
	referenceContext := ReferenceContextPrompt(s.References, false)
	structureContext := researchStructureContext(s.Dimensions, s.AspectsByDim, dimension, aspect.Name, s.Topic)

	var questions strings.Builder
	for i, q := range aspect.KeyQuestions {
		fmt.Fprintf(&questions, "%d. %s\n", i+1, q)
	}

	return fmt.Sprintf(researchQueryTemplate,
		researchContextPrompt, referenceContext, structureContext,
		s.Topic, dimension, aspect.Name, aspectKey,
		aspect.Reasoning, questions.String())
}

// researchStructureContext gives the agent a map of the overall research
// plan so its aspect stays complementary, not duplicative, of its siblings
// (spec §4.11, ported from research_agent.py's structure_context block).
func researchStructureContext(dimensions []string, aspectsByDim map[string][]state.Aspect, dimension, aspectName, topic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nOVERALL RESEARCH STRUCTURE\n%s\n", strings.Repeat("=", 80), strings.Repeat("=", 80))
	fmt.Fprintf(&b, "This research is organized into %d dimensions, each with multiple aspects.\n", len(dimensions))
	b.WriteString("Your research will be part of a comprehensive report that synthesizes all findings.\n\nDimensions (in order):\n")

	for idx, dim := range dimensions {
		aspects := aspectsByDim[dim]
		fmt.Fprintf(&b, "\n%d. %s (%d aspects)", idx+1, dim, len(aspects))
		if dim == dimension {
			b.WriteString(" <- YOU ARE HERE")
			for ai, a := range aspects {
				marker := ""
				if a.Name == aspectName {
					marker = " <- YOUR ASPECT"
				}
				fmt.Fprintf(&b, "\n   %d. %s%s", ai+1, a.Name, marker)
			}
		}
	}

	fmt.Fprintf(&b, "\n\n%s\nRESEARCH CONTEXT GUIDELINES\n%s\n", strings.Repeat("=", 80), strings.Repeat("=", 80))
	fmt.Fprintf(&b, "- Your research on %q will be combined with other aspects in %q\n", aspectName, dimension)
	fmt.Fprintf(&b, "- Maintain consistency with the overall topic: %q\n", topic)
	b.WriteString("- Your findings should complement (not duplicate) other aspects in this dimension\n")
	b.WriteString("- Write with awareness that this is part of a larger, structured report\n")
	b.WriteString("- Use appropriate depth and detail for your specific aspect within the broader context\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 80))
	return b.String()
}

// researchFailurePlaceholder classifies a driver error into the matching
// fallback shape the original's exception handlers each produce.
func (d *Deps) researchFailurePlaceholder(ctx context.Context, dimension string, aspect state.Aspect, aspectKey string, runErr error, cap int) state.Update {
	var capErr *agentdriver.IterationCapExceededError
	switch {
	case errors.Is(runErr, agentdriver.ErrCancelled):
		return d.researchCancelledPlaceholder(ctx, dimension, aspect, aspectKey)
	case errors.As(runErr, &capErr):
		return d.researchPlaceholder(ctx, dimension, aspect, aspectKey,
			fmt.Sprintf("research reached maximum iteration limit (%d) before completion", cap))
	case errclass.Classify(runErr) == errclass.Timeout:
		return d.researchPlaceholder(ctx, dimension, aspect, aspectKey, "research timed out before completion")
	default:
		return d.researchPlaceholder(ctx, dimension, aspect, aspectKey, "research failed: "+runErr.Error())
	}
}

func (d *Deps) researchPlaceholder(ctx context.Context, dimension string, aspect state.Aspect, aspectKey, note string) state.Update {
	var questions strings.Builder
	for i, q := range aspect.KeyQuestions {
		fmt.Fprintf(&questions, "%d. %s\n", i+1, q)
	}
	content := fmt.Sprintf("## Research Summary for %s\n\n**Note**: %s\n\n### Key Questions\n%s\n### Status\nThis aspect requires manual review or re-execution.\n",
		aspect.Name, note, questions.String())
	_ = d.Status.MarkResearchFailed(ctx, dimension, aspect.Name, note)
	return state.Update{ResearchByAspect: map[string]state.ResearchResult{
		aspectKey: {AspectKey: aspectKey, Title: aspect.Name, Content: content, WordCount: len(strings.Fields(content))},
	}}
}

func (d *Deps) researchCancelledPlaceholder(ctx context.Context, dimension string, aspect state.Aspect, aspectKey string) state.Update {
	content := fmt.Sprintf("## Research Cancelled\n\n**Note**: This research was cancelled by user.\n\n### Aspect\n%s\n\n### Status\nResearch stopped to save tokens. You can restart the research if needed.\n", aspect.Name)
	_ = d.Status.MarkResearchFailed(ctx, dimension, aspect.Name, "cancelled by user")
	return state.Update{ResearchByAspect: map[string]state.ResearchResult{
		aspectKey: {AspectKey: aspectKey, Title: aspect.Name, Content: content, WordCount: len(strings.Fields(content))},
	}}
}
