// Package sandbox implements the code executor (§6.4): a session-isolated
// namespace chart generation uses exclusively to run untrusted Python and
// retrieve the files it produces.
package sandbox

import "context"

// Result is the outcome of one ExecuteCode call.
type Result struct {
	Stdout  string
	Stderr  string
	IsError bool
	// Files lists paths (relative to the session namespace) written during
	// execution, newly present or modified since the call started.
	Files []string
}

// Executor is the contract chart generation drives (spec §6.4:
// "executeCode(code, language) -> {stdout, stderr, isError, files[]};
// readFiles(paths[]) -> bytes; listFiles(path) -> list").
type Executor interface {
	// ExecuteCode runs code in sessionID's namespace. language is currently
	// always "python" (spec §6.4); the parameter is carried for forward
	// compatibility rather than branched on today.
	ExecuteCode(ctx context.Context, sessionID, language, code string) (Result, error)
	// ReadFiles returns the raw bytes of each path in sessionID's
	// namespace. Callers must download artifacts they want to persist
	// before the sandbox is stopped (spec §6.4).
	ReadFiles(ctx context.Context, sessionID string, paths []string) (map[string][]byte, error)
	// ListFiles lists entries under path (relative to the namespace root)
	// in sessionID's namespace.
	ListFiles(ctx context.Context, sessionID, path string) ([]string, error)
}
