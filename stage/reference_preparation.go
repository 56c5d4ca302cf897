package stage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
)

const maxPDFBytes = int(4.5 * 1024 * 1024)

// ReferencePreparation loads every user-supplied reference material (spec
// §4.7) and replaces each with a structured, LLM-generated summary: a URL is
// extracted through the tavily_extract tool, a PDF is summarized directly
// from its bytes via document understanding. A reference of unknown type, or
// one whose content cannot be loaded or decoded, is dropped without an error
// record; a failed summary keeps the reference with an error summary. No
// per-reference failure aborts the run, and with no materials configured the
// stage returns an empty list.
func (d *Deps) ReferencePreparation(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "reference_preparation"); err != nil {
		return state.Update{}, fmt.Errorf("reference_preparation: %w", err)
	}

	if len(s.Config.ReferenceMaterials) == 0 {
		return state.Update{References: []config.ReferenceMaterial{}}, nil
	}

	materials := make([]config.ReferenceMaterial, 0, len(s.Config.ReferenceMaterials))
	for _, ref := range s.Config.ReferenceMaterials {
		prepared, ok := d.prepareOneReference(ctx, ref, s.Dimensions, s.Config.ResearchContext, s.Config.LLMModel)
		if !ok {
			continue
		}
		materials = append(materials, prepared)
	}

	if len(materials) > 0 && s.UserID != "" {
		if _, err := d.Events.LogReferencesPrepared(ctx, s.SessionID, s.UserID, materials); err != nil {
			return state.Update{}, fmt.Errorf("reference_preparation: log references_prepared: %w", err)
		}
	}

	return state.Update{References: materials}, nil
}

// prepareOneReference loads and summarizes a single reference, returning
// ok=false if it should be dropped (unknown type, load failure, missing
// data) rather than included with an error summary.
func (d *Deps) prepareOneReference(ctx context.Context, ref config.ReferenceMaterial, dimensions []string, researchContext, model string) (config.ReferenceMaterial, bool) {
	switch ref.Type {
	case "url":
		title, content, err := d.loadURLContent(ctx, ref.Source)
		if err != nil || content == "" {
			return config.ReferenceMaterial{}, false
		}
		summary, keyPoints := d.summarizeText(ctx, title, content, ref.Type, ref.Note, dimensions, researchContext, model)
		return config.ReferenceMaterial{
			Type:      ref.Type,
			Source:    ref.Source,
			Title:     title,
			Summary:   summary,
			KeyPoints: keyPoints,
			Note:      ref.Note,
		}, true

	case "pdf":
		pdfBytes, err := base64.StdEncoding.DecodeString(ref.Source)
		if err != nil || len(pdfBytes) == 0 {
			return config.ReferenceMaterial{}, false
		}
		title := ref.Title
		if title == "" {
			title = "Untitled PDF"
		}
		summary, keyPoints := d.summarizePDF(ctx, pdfBytes, title, ref.Note, dimensions, researchContext, model)
		return config.ReferenceMaterial{
			Type:      ref.Type,
			Source:    title,
			Title:     title,
			Summary:   summary,
			KeyPoints: keyPoints,
			Note:      ref.Note,
		}, true

	default:
		return config.ReferenceMaterial{}, false
	}
}

// loadURLContent extracts page content through the tavily_extract tool,
// falling back to the URL's host as a title (spec §4.7, grounded on the
// original's Gateway tavily_extract lookup).
func (d *Deps) loadURLContent(ctx context.Context, url string) (title, content string, err error) {
	args, err := json.Marshal(map[string]string{"urls": url})
	if err != nil {
		return "", "", err
	}
	res, err := d.Tools.Invoke(ctx, "tavily_extract", args)
	if err != nil {
		return "", "", err
	}
	if res.IsError {
		return "", "", fmt.Errorf("reference_preparation: tavily_extract returned an error result")
	}

	var payload struct {
		Results []struct {
			Content string `json:"content"`
			URL     string `json:"url"`
		} `json:"results"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil || len(payload.Results) == 0 {
		return "", "", fmt.Errorf("reference_preparation: no content extracted from %s", url)
	}

	title = url
	if idx := strings.Index(url, "//"); idx != -1 {
		rest := url[idx+2:]
		if slash := strings.Index(rest, "/"); slash != -1 {
			title = rest[:slash]
		} else {
			title = rest
		}
	}
	return title, payload.Results[0].Content, nil
}

var pdfNameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9\s\-\(\)\[\]]`)
var pdfNameWhitespace = regexp.MustCompile(`\s+`)

// sanitizePDFName strips a filename down to the character set document
// understanding accepts as a document name (spec §4.7, ported from
// sanitize_pdf_name_for_bedrock).
func sanitizePDFName(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx != -1 {
		filename = filename[:idx]
	}
	sanitized := strings.ReplaceAll(filename, "_", "-")
	sanitized = pdfNameDisallowed.ReplaceAllString(sanitized, "")
	sanitized = pdfNameWhitespace.ReplaceAllString(sanitized, " ")
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" {
		return "document"
	}
	return sanitized
}

// summarizePDF produces a structured summary directly from PDF bytes via
// document understanding (spec §4.7). A failure (oversize input, model
// error) yields a visible error summary and no key points rather than
// dropping the reference, matching the original's non-raising contract.
func (d *Deps) summarizePDF(ctx context.Context, pdfBytes []byte, title, note string, dimensions []string, researchContext, model string) (string, []string) {
	if len(pdfBytes) > maxPDFBytes {
		return fmt.Sprintf("Error: PDF size (%.2f MB) exceeds 4.5MB limit", float64(len(pdfBytes))/1024/1024), nil
	}

	systemPrompt := summarySystemPrompt(researchContext, dimensions)
	userNote := ""
	if note != "" {
		userNote = "User Note: " + note
	}
	userPrompt := fmt.Sprintf("Analyze the following PDF reference material and create a comprehensive summary.\n\nTitle: %s\nType: PDF\n%s\n\nProvide a structured summary following the format specified in the system prompt.", title, userNote)

	resp, err := d.Provider.Complete(ctx, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Parts: []llm.Part{llm.TextPart{Text: systemPrompt}}},
			{Role: llm.RoleUser, Parts: []llm.Part{
				llm.DocumentPart{Name: sanitizePDFName(title), Format: "pdf", Bytes: pdfBytes},
				llm.TextPart{Text: userPrompt},
			}},
		},
		MaxTokens: 2000,
	})
	if err != nil {
		return fmt.Sprintf("Error generating summary: %v", err), nil
	}

	summary := firstText(resp)
	return summary, extractKeyPoints(summary)
}

// summarizeText produces a structured summary of loaded URL content (spec
// §4.7), truncating overlong content to keep the prompt bounded.
func (d *Deps) summarizeText(ctx context.Context, title, content, refType, note string, dimensions []string, researchContext, model string) (string, []string) {
	const maxContentChars = 15000
	truncated := content
	if len(content) > maxContentChars {
		truncated = content[:maxContentChars] + "\n\n[Content truncated for length...]"
	}

	systemPrompt := summarySystemPrompt(researchContext, dimensions)
	userNote := ""
	if note != "" {
		userNote = "User Note: " + note
	}
	userPrompt := fmt.Sprintf("Analyze the following reference material and create a comprehensive summary.\n\nTitle: %s\nType: %s\n%s\n\nContent:\n%s\n\nProvide a structured summary following the format specified in the system prompt.",
		title, strings.ToUpper(refType), userNote, truncated)

	resp, err := d.Provider.Complete(ctx, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Parts: []llm.Part{llm.TextPart{Text: systemPrompt}}},
			{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: userPrompt}}},
		},
		MaxTokens: 2000,
	})
	if err != nil {
		return fmt.Sprintf("Error generating summary: %v", err), nil
	}

	summary := firstText(resp)
	return summary, extractKeyPoints(summary)
}

func summarySystemPrompt(researchContext string, dimensions []string) string {
	var b strings.Builder
	b.WriteString("You are a research analyst summarizing reference materials for a research project.\n\n")
	if researchContext != "" {
		b.WriteString(strings.Repeat("=", 80) + "\nRESEARCH CONTEXT\n" + strings.Repeat("=", 80) + "\n")
		b.WriteString(researchContext)
		b.WriteString("\n" + strings.Repeat("=", 80) + "\n\nConsider this context when summarizing the reference material.\n\n")
	}
	if len(dimensions) > 0 {
		b.WriteString("RESEARCH DIMENSIONS (for context):\nThe overall research will explore these dimensions: ")
		b.WriteString(strings.Join(dimensions, ", "))
		b.WriteString("\n\nWhen summarizing, pay special attention to insights relevant to these dimensions.\n\n")
	}
	b.WriteString(`TASK: Analyze reference materials and create comprehensive summaries for research context.

OUTPUT STRUCTURE:
1. Main Topic: What is this material about? (1-2 sentences)
2. Key Concepts: List 3-5 important terms, ideas, or definitions
3. Methods/Approaches: How does it approach the problem? What techniques are used?
4. Key Findings: Main results, conclusions, or arguments (3-5 bullet points)
5. Relevance for Research: Why this matters and how it can inform future research

Keep the summary comprehensive but concise (500-800 words total).
Format clearly with section headers.`)
	return b.String()
}

var keyPointPrefixes = []string{"-", "*", "•", "1.", "2.", "3.", "4.", "5."}

// extractKeyPoints pulls up to 5 meaningful bullet/numbered lines out of a
// generated summary (spec §4.7, ported from extract_key_points_from_summary).
func extractKeyPoints(summary string) []string {
	var points []string
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		matched := false
		for _, prefix := range keyPointPrefixes {
			if strings.HasPrefix(line, prefix) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		clean := strings.TrimLeft(line, "-*•0123456789. ")
		clean = strings.TrimSpace(clean)
		if len(clean) > 20 {
			points = append(points, clean)
		}
		if len(points) == 5 {
			break
		}
	}
	return points
}

// firstText concatenates the text parts of an LLM response's first message.
func firstText(resp llm.Response) string {
	if len(resp.Content) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Content[0].Parts {
		if tp, ok := part.(llm.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ReferenceContextPrompt renders materials as the REF-n citation block
// later stages prepend to their prompts (spec §4.7/§4.11,
// get_reference_context_prompt). compressed=true yields only key points
// (research_planning); compressed=false includes the full summary
// (research_agent).
func ReferenceContextPrompt(materials []config.ReferenceMaterial, compressed bool) string {
	if len(materials) == 0 {
		return ""
	}

	var b strings.Builder
	sep := strings.Repeat("=", 80)
	b.WriteString("\n" + sep + "\nREFERENCE MATERIALS PROVIDED\n" + sep + "\n")
	b.WriteString("The user has provided the following reference materials as context:\n\n")

	for i, mat := range materials {
		n := i + 1
		citationID := fmt.Sprintf("REF-%d", n)
		fmt.Fprintf(&b, "%d. [%s] %s [%s]\n", n, strings.ToUpper(mat.Type), mat.Title, citationID)
		fmt.Fprintf(&b, "   Source: %s\n", mat.Source)
		if mat.Note != "" {
			fmt.Fprintf(&b, "   Note: %s\n", mat.Note)
		}
		b.WriteString("\n")

		if compressed {
			b.WriteString("   Key Points:\n")
			if len(mat.KeyPoints) > 0 {
				for _, point := range mat.KeyPoints[:min(5, len(mat.KeyPoints))] {
					fmt.Fprintf(&b, "   - %s\n", point)
				}
			} else {
				preview := mat.Summary
				if len(preview) > 200 {
					preview = preview[:200]
				}
				fmt.Fprintf(&b, "   - %s...\n", strings.TrimSpace(preview))
			}
		} else {
			b.WriteString("   Summary:\n")
			for _, line := range strings.Split(mat.Summary, "\n") {
				fmt.Fprintf(&b, "   %s\n", line)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(sep + "\n")
	b.WriteString("INSTRUCTIONS: Use these materials as foundational context when:\n")
	b.WriteString("- Identifying research dimensions\n- Breaking down aspects\n- Conducting detailed research\n- Synthesizing findings\n")
	if !compressed {
		b.WriteString("\nWhen citing information from these materials in your research report:\n")
		b.WriteString("- Use the assigned citation ID (e.g., [REF-1], [REF-2])\n")
		b.WriteString(`- Example: "According to the provided analysis [REF-1], costs increased by 40%"` + "\n")
	}
	b.WriteString(sep + "\n\n")

	return b.String()
}
