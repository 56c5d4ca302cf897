package stage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/statusstore"
	"github.com/dimensional-research/orchestrator/toolclient"
	"github.com/dimensional-research/orchestrator/workspace"
)

// memBlobStore is a minimal in-memory blobstore.Store for exercising
// Finalize's upload path without a real S3-backed store.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (m *memBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if m.failOn != "" && key == m.failOn {
		return fmt.Errorf("simulated put failure for %s", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	return data, nil
}

func (m *memBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func finalizeTestSetup(t *testing.T) (*Deps, *statusstore.MemStore, *memBlobStore) {
	deps, store := newTestDeps(toolclient.NewMockCaller())
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	deps.Workspace = ws
	blobs := newMemBlobStore()
	deps.Blobs = blobs
	return deps, store, blobs
}

func TestFinalize_CompletesAndUploadsAllArtifacts(t *testing.T) {
	deps, store, blobs := finalizeTestSetup(t)

	s := baseWorkflowState()
	s.SessionID = "session-1"
	s.UserID = "user-1"
	s.StartedAt = time.Now().Add(-2 * time.Minute)
	s.Dimensions = []string{"Economic Viability"}
	s.DimensionDocs = map[string]string{"Economic Viability": deps.Workspace.DimensionFile("Economic Viability")}
	s.AspectsByDim = map[string][]state.Aspect{"Economic Viability": {{Name: "Grid Costs", Completed: true}}}

	s.DraftReportFile = deps.Workspace.FinalFile("md")
	require.NoError(t, os.WriteFile(s.DraftReportFile, []byte("# Report"), 0o644))
	s.ReportFile = deps.Workspace.FinalFile("docx")
	require.NoError(t, os.WriteFile(s.ReportFile, []byte("docx-bytes"), 0o644))
	s.ReportPDFFile = deps.Workspace.FinalFile("pdf")
	require.NoError(t, os.WriteFile(s.ReportPDFFile, []byte("pdf-bytes"), 0o644))

	chartsDir, err := deps.Workspace.ChartsDir(s.SessionID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(chartsDir+"/growth.png", []byte("png-bytes"), 0o644))

	upd, err := deps.Finalize(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)

	assert.Contains(t, blobs.objects, "research-outputs/session-1/versions/draft/report.md")
	assert.Contains(t, blobs.objects, "research-outputs/session-1/versions/draft/report.docx")
	assert.Contains(t, blobs.objects, "research-outputs/session-1/versions/draft/report.pdf")
	assert.Contains(t, blobs.objects, "research-outputs/session-1/charts/growth.png")

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "completed", item.Status)
	assert.Equal(t, "draft", item.CurrentVersion)
}

func TestFinalize_MarksFailedWhenDimensionDocMissing(t *testing.T) {
	deps, store, _ := finalizeTestSetup(t)

	s := baseWorkflowState()
	s.SessionID = "session-1"
	s.StartedAt = time.Now()
	s.Dimensions = []string{"Economic Viability", "Policy"}
	s.DimensionDocs = map[string]string{"Economic Viability": deps.Workspace.DimensionFile("Economic Viability")}
	s.ReportFile = deps.Workspace.FinalFile("docx")
	require.NoError(t, os.WriteFile(s.ReportFile, []byte("docx-bytes"), 0o644))

	upd, err := deps.Finalize(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "failed", item.Status)
	require.NotEmpty(t, item.Errors)
	assert.Contains(t, item.Errors[len(item.Errors)-1].Message, "Policy")
}

func TestFinalize_MarksFailedWhenReportFileMissing(t *testing.T) {
	deps, store, _ := finalizeTestSetup(t)

	s := baseWorkflowState()
	s.SessionID = "session-1"
	s.StartedAt = time.Now()

	upd, err := deps.Finalize(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "failed", item.Status)
	require.NotEmpty(t, item.Errors)
	assert.Contains(t, item.Errors[len(item.Errors)-1].Message, "report writing/conversion failed")
}

func TestFinalize_UploadFailureIsFatal(t *testing.T) {
	deps, store, blobs := finalizeTestSetup(t)
	blobs.failOn = "research-outputs/session-1/versions/draft/report.md"

	s := baseWorkflowState()
	s.SessionID = "session-1"
	s.StartedAt = time.Now()
	s.DraftReportFile = deps.Workspace.FinalFile("md")
	require.NoError(t, os.WriteFile(s.DraftReportFile, []byte("# Report"), 0o644))
	s.ReportFile = deps.Workspace.FinalFile("docx")
	require.NoError(t, os.WriteFile(s.ReportFile, []byte("docx-bytes"), 0o644))

	_, err := deps.Finalize(context.Background(), s)
	require.Error(t, err, "an upload failure in finalize must propagate, unlike every other stage's swallow-into-placeholder pattern")

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "failed", item.Status)
}

func TestFinalize_NoUserIDSkipsEventLog(t *testing.T) {
	deps, _, _ := finalizeTestSetup(t)

	s := baseWorkflowState()
	s.SessionID = "session-1"
	s.StartedAt = time.Now()
	s.ReportFile = deps.Workspace.FinalFile("docx")
	require.NoError(t, os.WriteFile(s.ReportFile, []byte("docx-bytes"), 0o644))

	upd, err := deps.Finalize(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)
}
