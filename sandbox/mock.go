package sandbox

import (
	"context"
	"fmt"
	"sync"
)

// MockExecutor is a deterministic in-process Executor for tests and offline
// development: ExecuteCode never shells out, it just records the call and
// lets the caller seed the files it should appear to have produced.
type MockExecutor struct {
	mu    sync.Mutex
	files map[string]map[string][]byte // sessionID -> path -> bytes

	// Seed, if set, is consulted by ExecuteCode to decide which files a
	// given code string "produces" (keyed by the exact code passed in).
	Seed map[string]map[string][]byte
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{files: make(map[string]map[string][]byte)}
}

func (m *MockExecutor) ExecuteCode(ctx context.Context, sessionID, language, code string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	produced := m.Seed[code]
	if m.files[sessionID] == nil {
		m.files[sessionID] = make(map[string][]byte)
	}
	var names []string
	for name, data := range produced {
		m.files[sessionID][name] = data
		names = append(names, name)
	}
	return Result{Stdout: "", Files: names}, nil
}

func (m *MockExecutor) ReadFiles(ctx context.Context, sessionID string, paths []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		data, ok := m.files[sessionID][p]
		if !ok {
			return nil, fmt.Errorf("sandbox: mock: %q not found in session %q", p, sessionID)
		}
		out[p] = data
	}
	return out, nil
}

func (m *MockExecutor) ListFiles(ctx context.Context, sessionID, path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files[sessionID]))
	for name := range m.files[sessionID] {
		names = append(names, name)
	}
	return names, nil
}
