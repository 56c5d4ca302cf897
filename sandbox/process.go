package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProcessExecutor runs code as a local subprocess, one session-isolated
// directory per sessionID under BaseDir. It is the local-development /
// single-node stand-in for a real container sandbox; swap the Executor for
// a container-backed implementation in a multi-tenant deployment without
// touching chart generation (spec §6.4 "session-isolated namespace").
type ProcessExecutor struct {
	BaseDir   string
	PythonBin string
}

// NewProcessExecutor builds a ProcessExecutor rooted at baseDir, creating it
// if necessary. pythonBin defaults to "python3".
func NewProcessExecutor(baseDir, pythonBin string) (*ProcessExecutor, error) {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create base dir: %w", err)
	}
	return &ProcessExecutor{BaseDir: baseDir, PythonBin: pythonBin}, nil
}

func (e *ProcessExecutor) sessionDir(sessionID string) string {
	return filepath.Join(e.BaseDir, sessionID)
}

// resolve joins path under the session namespace, rejecting any attempt to
// escape it (spec §6.4 "session-isolated namespace").
func (e *ProcessExecutor) resolve(sessionID, path string) (string, error) {
	dir := e.sessionDir(sessionID)
	full := filepath.Join(dir, path)
	if full != dir && !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("sandbox: path %q escapes session namespace", path)
	}
	return full, nil
}

// ExecuteCode grounds on command_runner.go's exec.CommandContext pattern:
// write the script to the session directory, run it with that directory as
// its working directory, and report stdout/stderr separately so callers can
// distinguish a clean run with warnings from a failing one.
func (e *ProcessExecutor) ExecuteCode(ctx context.Context, sessionID, language, code string) (Result, error) {
	dir := e.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("sandbox: create session dir: %w", err)
	}

	before, err := snapshotFiles(dir)
	if err != nil {
		return Result{}, err
	}

	scriptPath := filepath.Join(dir, fmt.Sprintf("_exec_%s.py", uuid.NewString()))
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return Result{}, fmt.Errorf("sandbox: write script: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.PythonBin, scriptPath)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	after, err := snapshotFiles(dir)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		IsError: runErr != nil,
		Files:   diffFiles(before, after, filepath.Base(scriptPath)),
	}
	return result, nil
}

func (e *ProcessExecutor) ReadFiles(ctx context.Context, sessionID string, paths []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		full, err := e.resolve(sessionID, p)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("sandbox: read %q: %w", p, err)
		}
		out[p] = data
	}
	return out, nil
}

func (e *ProcessExecutor) ListFiles(ctx context.Context, sessionID, path string) ([]string, error) {
	full, err := e.resolve(sessionID, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sandbox: list %q: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		names = append(names, ent.Name())
	}
	return names, nil
}

func snapshotFiles(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: snapshot dir: %w", err)
	}
	out := make(map[string]time.Time, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out[ent.Name()] = info.ModTime()
	}
	return out, nil
}

func diffFiles(before, after map[string]time.Time, exclude string) []string {
	var out []string
	for name, modTime := range after {
		if name == exclude {
			continue
		}
		if prev, existed := before[name]; !existed || !prev.Equal(modTime) {
			out = append(out, name)
		}
	}
	return out
}
