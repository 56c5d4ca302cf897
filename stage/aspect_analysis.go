package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/jsonrecovery"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
)

const aspectsSystemPromptTemplate = `You are a research assistant analyzing a dimension of a research topic.
%s%s
TOPIC: %s

TARGET: Identify up to %d specific aspects to investigate within a given dimension.

OUTPUT FORMAT: For EACH aspect, provide:
1. Name: Concise name (3-8 words)
2. Reasoning: Why this aspect matters and what to focus on (2-3 sentences)
3. Key Questions: 2-3 specific research questions to guide investigation

You MUST respond with ONLY a valid JSON object. No explanations, no markdown, just JSON.

Required structure:
{"aspects": [{"name": "Short descriptive name (3-8 words)", "reasoning": "Why this matters (2-3 sentences)", "key_questions": ["Question 1?", "Question 2?"]}]}

Requirements:
- Return at most %d aspect(s) in the "aspects" array. If you return more, extras will be automatically discarded.
- Each aspect MUST have: "name", "reasoning", "key_questions"
- "key_questions" must be an array with 2-3 questions
- Do NOT add any text outside the JSON object
- Do NOT wrap in markdown code blocks
`

const aspectsUserPromptTemplate = `Analyze the following dimension and identify key aspects to investigate.

DIMENSION: %s
%s

Return up to %d aspects with detailed research guidance that together provide comprehensive coverage of this dimension.`

// AspectAnalysis identifies the research aspects within one dimension (spec
// §4.9). It runs once per dimension via the graph's mapper fan-out. A
// failed dimension search only leaves the prompt without search context; a
// failure here (model error, malformed JSON, zero valid aspects) is
// recorded as an error and yields no key for this dimension rather than a
// Go error, since a mapper-child error aborts the entire fan-out — the
// original's per-node error handler has the same "fail only this one
// dimension" contract (handle_node_error's fallback_return).
func (d *Deps) AspectAnalysis(ctx context.Context, s state.WorkflowState, arg any) (state.Update, error) {
	dimension, ok := arg.(string)
	if !ok {
		return state.Update{}, fmt.Errorf("aspect_analysis: expected string dimension argument, got %T", arg)
	}

	profile, err := d.researchDepthProfile(s)
	if err != nil {
		return state.Update{}, fmt.Errorf("aspect_analysis: %w", err)
	}

	aspects, err := d.identifyAspects(ctx, s, dimension, profile)
	if err != nil {
		_ = d.Status.AddError(ctx, "aspect_analysis", fmt.Sprintf("%s: %v", dimension, err))
		return state.Update{}, nil
	}

	_ = d.Status.UpdateStage(ctx, "aspect_analysis")
	d.Status.AddDimension(dimension)
	for _, a := range aspects {
		d.Status.AddAspect(dimension, a.Name)
	}

	return state.Update{OriginalAspectsByDim: map[string][]state.Aspect{dimension: aspects}}, nil
}

func (d *Deps) identifyAspects(ctx context.Context, s state.WorkflowState, dimension string, profile config.DepthProfile) ([]state.Aspect, error) {
	searchContext := d.dimensionSearchContext(ctx, dimension, s.Topic)

	researchContextPrompt := ""
	if s.Config.ResearchContext != "" {
		researchContextPrompt = fmt.Sprintf("\n%s\nRESEARCH CONTEXT\n%s\n%s\n%s\n\nConsider this context when identifying aspects.\n",
			strings.Repeat("=", 80), strings.Repeat("=", 80), s.Config.ResearchContext, strings.Repeat("=", 80))
	}
	referenceContext := ReferenceContextPrompt(s.References, false)

	systemPrompt := fmt.Sprintf(aspectsSystemPromptTemplate, researchContextPrompt, referenceContext, s.Topic, profile.AspectsPerDim, profile.AspectsPerDim)
	userPrompt := fmt.Sprintf(aspectsUserPromptTemplate, dimension, searchContext, profile.AspectsPerDim)

	resp, err := d.Provider.Complete(ctx, llm.Request{
		Model: s.Config.LLMModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Parts: []llm.Part{llm.TextPart{Text: systemPrompt}}},
			{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: userPrompt}}},
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Aspects []rawAspect `json:"aspects"`
	}
	if err := jsonrecovery.Parse(firstText(resp), dimension+" aspect analysis", &parsed); err != nil {
		return nil, err
	}

	cleaned := cleanAspects(parsed.Aspects)
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("no valid aspects found in model response")
	}
	if len(cleaned) > profile.AspectsPerDim {
		cleaned = cleaned[:profile.AspectsPerDim]
	}
	return cleaned, nil
}

// rawAspect mirrors the model's JSON aspect shape before defensive cleanup;
// KeyQuestions is untyped because the model sometimes returns a
// comma/newline-separated string instead of an array.
type rawAspect struct {
	Name         string `json:"name"`
	Reasoning    string `json:"reasoning"`
	KeyQuestions any    `json:"key_questions"`
}

// cleanAspects applies the same defensive normalization as the original's
// cleaned_aspects loop: default name/reasoning, coerce a string
// key_questions into a list, and guarantee at least one question.
func cleanAspects(raw []rawAspect) []state.Aspect {
	out := make([]state.Aspect, 0, len(raw))
	for i, a := range raw {
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("Unnamed Aspect %d", i+1)
		}
		reasoning := a.Reasoning
		if reasoning == "" {
			reasoning = "No reasoning provided"
		}

		questions := coerceKeyQuestions(a.KeyQuestions)
		if len(questions) == 0 {
			questions = []string{fmt.Sprintf("What are the key insights about %s?", name)}
		}

		out = append(out, state.Aspect{
			Name:         name,
			Reasoning:    reasoning,
			KeyQuestions: questions,
			Completed:    false,
		})
	}
	return out
}

func coerceKeyQuestions(raw any) []string {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		replaced := strings.ReplaceAll(v, "\n", ",")
		var out []string
		for _, part := range strings.Split(replaced, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return nil
	}
}

// dimensionSearchContext runs one bounded search against the dimension to
// ground the aspect-identification prompt, degrading to empty context on
// any failure rather than aborting (spec §4.9).
func (d *Deps) dimensionSearchContext(ctx context.Context, dimension, topic string) string {
	args, err := json.Marshal(map[string]any{"query": dimension + " in " + topic, "max_results": 3})
	if err != nil {
		return ""
	}
	res, err := d.Tools.Invoke(ctx, "ddg_search", args)
	if err != nil || res.IsError {
		return ""
	}

	var payload struct {
		Results []struct {
			Title       string `json:"title"`
			Snippet     string `json:"snippet"`
			Description string `json:"description"`
		} `json:"results"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil || len(payload.Results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nRelevant findings:\n")
	for _, r := range payload.Results {
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Description
		}
		if snippet == "" {
			snippet = "No snippet"
		}
		title := r.Title
		if title == "" {
			title = "No title"
		}
		fmt.Fprintf(&b, "- %s: %s\n", title, snippet)
	}
	return b.String()
}
