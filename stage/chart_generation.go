package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dimensional-research/orchestrator/agentdriver"
	"github.com/dimensional-research/orchestrator/artifacts"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
)

// chartGenerationMaxIterations bounds the chart sub-agent independently of
// config.DepthProfile (spec §4.14: "at most 8 charts" over a ~100-line
// walk of the draft; 80 mirrors the original's recursion_limit for an
// 8-chart run at 100 lines per read).
const chartGenerationMaxIterations = 80

// maxCharts is the hard cap on chart insertions per run (spec §4.14).
const maxCharts = 8

// chartReadWindow is the maximum lines read_document_lines returns per call
// (spec §4.14: "walks the draft 100 lines at a time").
const chartReadWindow = 100

const chartGenerationSystemPromptTemplate = `Chart generation specialist. Read the document, generate charts, and insert only the ones that add real value.

**Process:**
1. read_document_lines(start, end) - read up to %d lines
2. If a chart would add value -> generate_and_validate_chart(code, filename)
3. If the chart looks right -> bring_and_insert_chart(filename, title, caption, location)
4. Continue reading the next window

**Rules:**
- Read at most %d lines per call
- Python: matplotlib, seaborn, pandas, numpy available
- Code must end with plt.savefig('filename.png', dpi=300, bbox_inches='tight')
- location is "line:N" (insert after line N)
- Insert at most %d charts total
- Stop once you have reviewed all major sections or created %d charts

Document: %d lines.`

const chartGenerationUserPromptTemplate = `Create high-quality visualizations for %q.

Document: %d lines | Max charts: %d

Start by reading lines 1-%d.`

var chartToolDefinitions = []llm.ToolDefinition{
	{
		Name:        "read_document_lines",
		Description: "Read a range of lines from the draft report to look for data worth visualizing.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"start_line":{"type":"integer"},"end_line":{"type":"integer"}},"required":["start_line","end_line"]}`),
	},
	{
		Name:        "generate_and_validate_chart",
		Description: "Run Python chart-generation code in the sandbox and report whether it produced the named PNG.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"code":{"type":"string"},"filename":{"type":"string"}},"required":["code","filename"]}`),
	},
	{
		Name:        "bring_and_insert_chart",
		Description: "Insert a previously generated chart into the draft at line:N, auto-numbering its figure caption.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"filename":{"type":"string"},"title":{"type":"string"},"caption":{"type":"string"},"location":{"type":"string"}},"required":["filename","title","caption","location"]}`),
	},
}

// ChartGeneration walks the assembled draft and proposes up to maxCharts
// visualizations (spec §4.14). It runs once, after report_writing. Every
// failure mode — sandbox error, iteration-cap exhaustion, a missing draft
// file — is graceful: the stage logs and returns with no state change,
// never aborting the run (spec §4.16 "chart-generation failures are not
// fatal"), mirroring the original's blanket outer try/except.
func (d *Deps) ChartGeneration(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "chart_generation"); err != nil {
		return state.Update{}, fmt.Errorf("chart_generation: %w", err)
	}

	if s.DraftReportFile == "" {
		return state.Update{}, nil
	}

	content, err := os.ReadFile(s.DraftReportFile)
	if err != nil {
		_ = d.Status.AddError(ctx, "chart_generation", "draft report file not found, skipping chart generation")
		return state.Update{}, nil
	}
	totalLines := len(strings.Split(string(content), "\n"))

	chartsDir, err := d.Workspace.ChartsDir(s.SessionID)
	if err != nil {
		_ = d.Status.AddError(ctx, "chart_generation", "failed to create chart directory: "+err.Error())
		return state.Update{}, nil
	}

	systemPrompt := fmt.Sprintf(chartGenerationSystemPromptTemplate, chartReadWindow, chartReadWindow, maxCharts, maxCharts, totalLines)
	userPrompt := fmt.Sprintf(chartGenerationUserPromptTemplate, s.Topic, totalLines, maxCharts, chartReadWindow)

	invoker := &chartToolInvoker{
		deps:      d,
		sessionID: s.SessionID,
		draftPath: s.DraftReportFile,
		chartsDir: chartsDir,
		generated: make(map[string][]byte),
	}
	driver := agentdriver.New(d.Provider, invoker)

	if _, runErr := driver.Run(ctx, agentdriver.Request{
		Model:         s.Config.LLMModel,
		SystemPrompt:  systemPrompt,
		UserPrompt:    userPrompt,
		Tools:         chartToolDefinitions,
		MaxIterations: chartGenerationMaxIterations,
		CancelCheck:   d.CancelCheck,
	}); runErr != nil {
		_ = d.Status.AddError(ctx, "chart_generation", "chart generation stopped early: "+runErr.Error())
	}

	return state.Update{}, nil
}

// chartToolInvoker implements agentdriver.ToolInvoker for the three
// chart-generation tools (spec §4.14), backed by d.Sandbox for code
// execution rather than the external tool plane.
type chartToolInvoker struct {
	deps      *Deps
	sessionID string
	draftPath string
	chartsDir string

	inserted  int
	generated map[string][]byte // chart filename -> PNG bytes, pending insertion
}

func (c *chartToolInvoker) Invoke(ctx context.Context, name string, arguments json.RawMessage) (toolclient.Result, error) {
	switch name {
	case "read_document_lines":
		return c.readDocumentLines(arguments)
	case "generate_and_validate_chart":
		return c.generateAndValidateChart(ctx, arguments)
	case "bring_and_insert_chart":
		return c.bringAndInsertChart(arguments)
	default:
		return toolclient.Result{}, fmt.Errorf("chart_generation: unknown tool %q", name)
	}
}

func (c *chartToolInvoker) readDocumentLines(arguments json.RawMessage) (toolclient.Result, error) {
	var args struct {
		StartLine int `json:"start_line"`
		EndLine   int `json:"end_line"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	content, err := os.ReadFile(c.draftPath)
	if err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}
	lines := strings.Split(string(content), "\n")

	start, end := args.StartLine, args.EndLine
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end-start+1 > chartReadWindow {
		end = start + chartReadWindow - 1
	}
	if start > end {
		return toolclient.Result{IsError: true, Payload: json.RawMessage(`{"error":"start_line is past end of document"}`)}, nil
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%4d | %s\n", i, lines[i-1])
	}
	payload, _ := json.Marshal(map[string]any{"total_lines": len(lines), "content": b.String()})
	return toolclient.Result{Payload: payload}, nil
}

func (c *chartToolInvoker) generateAndValidateChart(ctx context.Context, arguments json.RawMessage) (toolclient.Result, error) {
	var args struct {
		Code     string `json:"code"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}
	if !strings.HasSuffix(args.Filename, ".png") {
		return toolclient.Result{IsError: true, Payload: json.RawMessage(`{"error":"filename must end in .png"}`)}, nil
	}

	result, err := c.deps.Sandbox.ExecuteCode(ctx, c.sessionID, "python", args.Code)
	if err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}
	if result.IsError {
		payload, _ := json.Marshal(map[string]string{"error": result.Stderr})
		return toolclient.Result{IsError: true, Payload: payload}, nil
	}

	files, err := c.deps.Sandbox.ReadFiles(ctx, c.sessionID, []string{args.Filename})
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": "chart file not produced: " + err.Error()})
		return toolclient.Result{IsError: true, Payload: payload}, nil
	}
	c.generated[args.Filename] = files[args.Filename]

	payload, _ := json.Marshal(map[string]any{
		"filename":   args.Filename,
		"size_bytes": len(files[args.Filename]),
		"note":       "chart generated; call bring_and_insert_chart to place it once you're satisfied it's correct",
	})
	return toolclient.Result{Payload: payload}, nil
}

func (c *chartToolInvoker) bringAndInsertChart(arguments json.RawMessage) (toolclient.Result, error) {
	var args struct {
		Filename string `json:"filename"`
		Title    string `json:"title"`
		Caption  string `json:"caption"`
		Location string `json:"location"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	if c.inserted >= maxCharts {
		return toolclient.Result{IsError: true, Payload: json.RawMessage(`{"error":"maximum chart count reached"}`)}, nil
	}
	data, ok := c.generated[args.Filename]
	if !ok {
		return toolclient.Result{IsError: true, Payload: json.RawMessage(`{"error":"unknown filename; call generate_and_validate_chart first"}`)}, nil
	}

	lineNum, err := parseLineLocation(args.Location)
	if err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	destPath := filepath.Join(c.chartsDir, args.Filename)
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	unlock := lockDraftFile(c.draftPath)
	defer unlock()

	content, err := os.ReadFile(c.draftPath)
	if err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}
	updated := artifacts.InsertChart(string(content), lineNum, args.Title, "charts/"+args.Filename, args.Caption)
	if err := os.WriteFile(c.draftPath, []byte(updated), 0o644); err != nil {
		return toolclient.Result{IsError: true, Payload: errToolPayload(err)}, nil
	}

	c.inserted++
	payload, _ := json.Marshal(map[string]any{"status": "inserted", "charts_inserted": c.inserted})
	return toolclient.Result{Payload: payload}, nil
}

func parseLineLocation(location string) (int, error) {
	const prefix = "line:"
	if !strings.HasPrefix(location, prefix) {
		return 0, fmt.Errorf(`location must be of the form "line:N", got %q`, location)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(location, prefix))
	if err != nil {
		return 0, fmt.Errorf("invalid line number in location %q: %w", location, err)
	}
	return n, nil
}
