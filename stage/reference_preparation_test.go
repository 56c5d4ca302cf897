package stage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
)

type fakeProvider struct{ text string }

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Content: []llm.Message{{
		Role:  llm.RoleAssistant,
		Parts: []llm.Part{llm.TextPart{Text: p.text}},
	}}}, nil
}

type extractCaller struct{ content string }

func (c *extractCaller) Discover(ctx context.Context) ([]toolclient.Descriptor, error) {
	schema := json.RawMessage(`{"type":"object","properties":{"urls":{"type":"string"}},"required":["urls"]}`)
	return []toolclient.Descriptor{{Name: "mock___tavily_extract", InputSchema: schema}}, nil
}

func (c *extractCaller) Invoke(ctx context.Context, qualifiedName string, arguments json.RawMessage) (toolclient.Result, error) {
	payload, _ := json.Marshal(map[string]any{
		"results": []map[string]any{{"content": c.content, "url": "https://example.invalid/a"}},
	})
	return toolclient.Result{Payload: payload}, nil
}

func TestReferencePreparation_SkipsWhenNoMaterialsConfigured(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{}

	upd, err := deps.ReferencePreparation(context.Background(), state.WorkflowState{
		Config: config.ResearchConfig{},
	})
	require.NoError(t, err)
	assert.Empty(t, upd.References)
}

func TestReferencePreparation_SummarizesURLReference(t *testing.T) {
	deps, _ := newTestDeps(&extractCaller{content: "a very long article about orbital mechanics"})
	deps.Provider = &fakeProvider{text: "1. Main Topic: orbital mechanics\n- Key point about thrust vectors and payload mass\n"}

	upd, err := deps.ReferencePreparation(context.Background(), state.WorkflowState{
		SessionID: "session-1",
		Config: config.ResearchConfig{
			ReferenceMaterials: []config.ReferenceMaterial{
				{Type: "url", Source: "https://example.invalid/article"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, upd.References, 1)
	assert.Equal(t, "example.invalid", upd.References[0].Title)
	assert.Contains(t, upd.References[0].Summary, "orbital mechanics")
	assert.NotEmpty(t, upd.References[0].KeyPoints)
}

func TestReferencePreparation_SummarizesPDFReference(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: "PDF summary body"}

	encoded := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake content"))
	upd, err := deps.ReferencePreparation(context.Background(), state.WorkflowState{
		Config: config.ResearchConfig{
			ReferenceMaterials: []config.ReferenceMaterial{
				{Type: "pdf", Source: encoded, Title: "Annual Report.pdf"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, upd.References, 1)
	assert.Equal(t, "PDF summary body", upd.References[0].Summary)
}

func TestReferencePreparation_DropsUnknownAndUndecodableReferences(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: "summary"}

	upd, err := deps.ReferencePreparation(context.Background(), state.WorkflowState{
		Config: config.ResearchConfig{
			ReferenceMaterials: []config.ReferenceMaterial{
				{Type: "video", Source: "https://example.invalid/video"},
				{Type: "pdf", Source: "not-base64!!"},
			},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, upd.References)
}

func TestSanitizePDFName_StripsDisallowedCharacters(t *testing.T) {
	assert.Equal(t, "annual-report-(2024)", sanitizePDFName("annual_report_(2024).pdf"))
	assert.Equal(t, "---", sanitizePDFName("___...pdf"))
}

func TestExtractKeyPoints_LimitsToFiveMeaningfulLines(t *testing.T) {
	summary := `
- This is a sufficiently long bullet point one
- This is a sufficiently long bullet point two
- This is a sufficiently long bullet point three
- This is a sufficiently long bullet point four
- This is a sufficiently long bullet point five
- This one should never be reached at all
- short
`
	points := extractKeyPoints(summary)
	assert.Len(t, points, 5)
}

func TestReferenceContextPrompt_CompressedUsesKeyPointsOnly(t *testing.T) {
	materials := []config.ReferenceMaterial{
		{Type: "url", Title: "Orbital Mechanics", Source: "https://example.invalid", KeyPoints: []string{"thrust vectors matter"}},
	}
	prompt := ReferenceContextPrompt(materials, true)
	assert.Contains(t, prompt, "REF-1")
	assert.Contains(t, prompt, "thrust vectors matter")
	assert.NotContains(t, prompt, "Use the assigned citation ID")
}
