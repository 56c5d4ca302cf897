package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dimensional-research/orchestrator/agentdriver"
	"github.com/dimensional-research/orchestrator/artifacts"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
)

// editorMaxIterations bounds the editor sub-agent independently of
// config.DepthProfile: editing a merged draft is a fixed-size task, not one
// that scales with research depth.
const editorMaxIterations = 25

const editorSystemPromptTemplate = `You are an expert technical editor refining a research report. Your tasks:

%sAVAILABLE TOOLS:

1. **write_summary_and_conclusion(summary, conclusion)**:
   - summary: Executive Summary content (200-300 words)
   - conclusion: Conclusion content (300-400 words)
   - Use this to generate BOTH sections in one call

2. **replace_text(find, replace_with, max_replacements)**:
   - find: text to find
   - replace_with: replacement text
   - max_replacements: maximum number of occurrences to replace (0 or omitted means all)
   - Use this to fix awkward transitions, improve flow, or correct inconsistencies

YOUR TASKS:

**STEP 1: Review the document**
- Read through the provided document
- Identify any awkward transitions between sections
- Note any inconsistencies or redundancies
- Check for incomplete URL citations (e.g. "[https://example" without a closing bracket)

**STEP 2: Remove incomplete citations**
- If you find incomplete or malformed URL citations, remove them with replace_text
- Only remove clearly broken citations, not valid ones

**STEP 3: Fix transitions and flow (if needed)**
- Use replace_text to improve awkward section connections
- Smooth out redundancies or repetitive phrases

**STEP 4: Write Executive Summary AND Conclusion**
- Call write_summary_and_conclusion with both sections in a SINGLE tool call

IMPORTANT:
- Make minimal changes - only fix genuine issues
- NEVER modify or remove URL citations in square brackets [https://...]
- Preserve all citations and references exactly as they appear
- Maintain the technical depth and accuracy
`

const editorUserPromptTemplate = `Please refine this research report by following the steps in your instructions.

FULL DOCUMENT:
%s

Please follow all steps:
1. Review the document for any issues including incomplete URL citations
2. Remove any incomplete or malformed URL citations
3. Fix awkward transitions or flow issues
4. Generate the Executive Summary AND Conclusion using write_summary_and_conclusion
`

// editorToolDefinitions is the fixed, two-tool toolset the editor sub-agent
// is bound to (spec §4.13 item 5) — never widened to the research toolset.
var editorToolDefinitions = []llm.ToolDefinition{
	{
		Name:        "replace_text",
		Description: "Find and replace text in the draft report to fix transitions, flow, or malformed citations.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"find":{"type":"string"},"replace_with":{"type":"string"},"max_replacements":{"type":"integer"}},"required":["find","replace_with"]}`),
	},
	{
		Name:        "write_summary_and_conclusion",
		Description: "Write the Executive Summary and Conclusion sections, replacing their placeholders in a single call.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"},"conclusion":{"type":"string"}},"required":["summary","conclusion"]}`),
	},
}

// ReportWriting merges every dimension's markdown into a single draft and
// hands it to an editor sub-agent (spec §4.13). It runs once, after the
// dimension_reduction fan-out's barrier, so unlike the mapper stages a
// genuine failure here is returned as a Go error rather than swallowed into
// a placeholder.
func (d *Deps) ReportWriting(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "report_writing"); err != nil {
		return state.Update{}, fmt.Errorf("report_writing: %w", err)
	}

	docsContent := make(map[string]string, len(s.DimensionDocs))
	var order []string
	for _, dim := range s.Dimensions {
		path, ok := s.DimensionDocs[dim]
		if !ok || path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return state.Update{}, fmt.Errorf("report_writing: read dimension file %q: %w", path, err)
		}
		docsContent[dim] = string(content)
		order = append(order, dim)
	}

	if len(order) == 0 {
		empty := ""
		return state.Update{DraftReportFile: &empty}, nil
	}

	title := fmt.Sprintf("Research Report: %s", s.Topic)
	draft := artifacts.AssembleDraft(title, order, docsContent)

	draftPath := d.Workspace.FinalFile("md")
	if err := os.WriteFile(draftPath, []byte(draft), 0o644); err != nil {
		return state.Update{}, fmt.Errorf("report_writing: write draft: %w", err)
	}

	if err := d.runEditorAgent(ctx, s, draftPath, draft); err != nil {
		return state.Update{}, fmt.Errorf("report_writing: editor agent: %w", err)
	}

	edited, err := os.ReadFile(draftPath)
	if err != nil {
		return state.Update{}, fmt.Errorf("report_writing: read edited draft: %w", err)
	}
	if strings.Contains(string(edited), artifacts.ExecutiveSummaryPlaceholder) || strings.Contains(string(edited), artifacts.ConclusionPlaceholder) {
		_ = d.Status.AddError(ctx, "report_writing", "executive summary or conclusion placeholder was not replaced by the editor agent")
	}

	return state.Update{DraftReportFile: &draftPath}, nil
}

func (d *Deps) runEditorAgent(ctx context.Context, s state.WorkflowState, draftPath, draft string) error {
	researchContextSection := ""
	if s.Config.ResearchContext != "" {
		researchContextSection = fmt.Sprintf("RESEARCH CONTEXT PROVIDED BY USER:\n%s\n\nThis context should guide your editing decisions and ensure the report aligns with the user's goals.\n\n---\n\n",
			s.Config.ResearchContext)
	}
	systemPrompt := fmt.Sprintf(editorSystemPromptTemplate, researchContextSection)
	userPrompt := fmt.Sprintf(editorUserPromptTemplate, draft)

	driver := agentdriver.New(d.Provider, &editorToolInvoker{path: draftPath})
	_, err := driver.Run(ctx, agentdriver.Request{
		Model:         s.Config.LLMModel,
		SystemPrompt:  systemPrompt,
		UserPrompt:    userPrompt,
		Tools:         editorToolDefinitions,
		MaxIterations: editorMaxIterations,
		CancelCheck:   d.CancelCheck,
	})
	return err
}

// draftFileMutexes is the per-absolute-path mutex registry editor tools
// acquire before touching a draft file (spec §5 "Editor tools that mutate
// the same draft file acquire a per-file mutex keyed by absolute path
// (registry guarded by a meta-mutex)"). draftFileMutexesMeta is that guard.
var (
	draftFileMutexesMeta sync.Mutex
	draftFileMutexes     = map[string]*sync.Mutex{}
)

func lockDraftFile(path string) func() {
	draftFileMutexesMeta.Lock()
	mu, ok := draftFileMutexes[path]
	if !ok {
		mu = &sync.Mutex{}
		draftFileMutexes[path] = mu
	}
	draftFileMutexesMeta.Unlock()

	mu.Lock()
	return mu.Unlock
}

// editorToolInvoker implements agentdriver.ToolInvoker for exactly the two
// editor tools, writing straight to the draft file rather than round-
// tripping through the external tool plane (ported from editor_tools.py's
// direct-file-mutation tools).
type editorToolInvoker struct{ path string }

func (e *editorToolInvoker) Invoke(ctx context.Context, name string, arguments json.RawMessage) (toolclient.Result, error) {
	switch name {
	case "replace_text":
		return e.replaceText(arguments)
	case "write_summary_and_conclusion":
		return e.writeSummaryAndConclusion(arguments)
	default:
		return toolclient.Result{}, fmt.Errorf("report_writing: unknown editor tool %q", name)
	}
}

func (e *editorToolInvoker) replaceText(arguments json.RawMessage) (toolclient.Result, error) {
	var args struct {
		Find            string `json:"find"`
		ReplaceWith     string `json:"replace_with"`
		MaxReplacements int    `json:"max_replacements"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	unlock := lockDraftFile(e.path)
	defer unlock()

	content, err := os.ReadFile(e.path)
	if err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	limit := args.MaxReplacements
	if limit <= 0 {
		limit = -1
	}
	occurrences := strings.Count(string(content), args.Find)
	replaced := strings.Replace(string(content), args.Find, args.ReplaceWith, limit)
	if err := os.WriteFile(e.path, []byte(replaced), 0o644); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	applied := occurrences
	if limit >= 0 && limit < applied {
		applied = limit
	}
	payload, _ := json.Marshal(map[string]any{"replacements_made": applied})
	return toolclient.Result{Payload: payload}, nil
}

func (e *editorToolInvoker) writeSummaryAndConclusion(arguments json.RawMessage) (toolclient.Result, error) {
	var args struct {
		Summary    string `json:"summary"`
		Conclusion string `json:"conclusion"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	unlock := lockDraftFile(e.path)
	defer unlock()

	content, err := os.ReadFile(e.path)
	if err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	updated := strings.Replace(string(content), artifacts.ExecutiveSummaryPlaceholder, args.Summary, 1)
	updated = strings.Replace(updated, artifacts.ConclusionPlaceholder, args.Conclusion, 1)
	if err := os.WriteFile(e.path, []byte(updated), 0o644); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	return toolclient.Result{Payload: json.RawMessage(`{"status":"ok"}`)}, nil
}

func errToolPayload(err error) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return payload
}
