package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockExecutor_ExecuteCodeProducesSeededFiles(t *testing.T) {
	m := NewMockExecutor()
	m.Seed = map[string]map[string][]byte{
		"plot()": {"chart_1.png": []byte("png-bytes")},
	}

	res, err := m.ExecuteCode(context.Background(), "session-1", "python", "plot()")
	require.NoError(t, err)
	assert.Equal(t, []string{"chart_1.png"}, res.Files)

	files, err := m.ReadFiles(context.Background(), "session-1", []string{"chart_1.png"})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), files["chart_1.png"])
}

func TestMockExecutor_ReadFiles_UnknownPathFails(t *testing.T) {
	m := NewMockExecutor()
	_, err := m.ReadFiles(context.Background(), "session-1", []string{"missing.png"})
	assert.Error(t, err)
}

func TestProcessExecutor_ResolveRejectsPathTraversal(t *testing.T) {
	e, err := NewProcessExecutor(t.TempDir(), "python3")
	require.NoError(t, err)

	_, err = e.resolve("session-1", "../../etc/passwd")
	assert.Error(t, err)

	ok, err := e.resolve("session-1", "chart_1.png")
	require.NoError(t, err)
	assert.Contains(t, ok, "session-1")
}

func TestProcessExecutor_ListFilesEmptySessionReturnsNilNotError(t *testing.T) {
	e, err := NewProcessExecutor(t.TempDir(), "python3")
	require.NoError(t, err)

	files, err := e.ListFiles(context.Background(), "never-created", ".")
	require.NoError(t, err)
	assert.Empty(t, files)
}
