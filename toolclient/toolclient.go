// Package toolclient implements the authenticated, pooled RPC client to the
// external tool plane (C2): discovery, schema-validated invocation, and
// qualified-name handling (spec §4.2).
package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/dimensional-research/orchestrator/telemetry"
)

// Descriptor describes one tool exposed by the tool plane.
type Descriptor struct {
	// Name is the short form exposed to callers (no target prefix).
	Name string
	// Qualified is the target___tool form preserved for the RPC, empty when
	// the tool plane did not namespace this tool.
	Qualified   string
	Description string
	InputSchema json.RawMessage
}

// Result is the outcome of a tool invocation.
type Result struct {
	Payload     json.RawMessage
	Attachments [][]byte
	IsError     bool
}

// Caller is the transport-level contract a concrete tool-plane client
// implements (HTTP/SSE, stdio, or the offline mock below).
type Caller interface {
	Discover(ctx context.Context) ([]Descriptor, error)
	Invoke(ctx context.Context, qualifiedName string, arguments json.RawMessage) (Result, error)
}

// Client is the authenticated, pooled facade the agent driver and stage
// handlers use. It caches discovery results, synthesizes schema validators
// so argument validity is checked before the RPC rather than drifting at
// runtime, retries transient connection failures with bounded backoff, and
// rate-limits outbound calls.
type Client struct {
	caller  Caller
	limiter *rate.Limiter

	mu         sync.Mutex
	descs      []Descriptor
	byShort    map[string]Descriptor
	validators map[string]*jsonschema.Schema

	retries int
}

// Options configures a Client.
type Options struct {
	// RetryAttempts bounds connection-error retries (default 2, spec §4.2).
	RetryAttempts int
	// RateLimit caps outbound calls per second; zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

// New builds a Client over caller.
func New(caller Caller, opts Options) *Client {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 2
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(opts.RateLimit, max(opts.RateBurst, 1))
	}
	return &Client{
		caller:     caller,
		limiter:    limiter,
		retries:    opts.RetryAttempts,
		byShort:    make(map[string]Descriptor),
		validators: make(map[string]*jsonschema.Schema),
	}
}

// Discover returns the tool plane's catalog, short-naming every qualified
// tool (target___tool becomes tool to callers) while preserving the
// qualified form for RPC dispatch. Results are cached; pass forceRefresh to
// bypass the cache.
func (c *Client) Discover(ctx context.Context, forceRefresh bool) ([]Descriptor, error) {
	c.mu.Lock()
	if !forceRefresh && c.descs != nil {
		defer c.mu.Unlock()
		return c.descs, nil
	}
	c.mu.Unlock()

	raw, err := c.caller.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("toolclient: discover: %w", err)
	}

	descs := make([]Descriptor, len(raw))
	byShort := make(map[string]Descriptor, len(raw))
	validators := make(map[string]*jsonschema.Schema, len(raw))
	for i, d := range raw {
		short, qualified := splitQualifiedName(d.Name)
		d.Name = short
		d.Qualified = qualified
		descs[i] = d
		byShort[short] = d

		if len(d.InputSchema) > 0 {
			schema, err := compileSchema(short, d.InputSchema)
			if err != nil {
				return nil, err
			}
			validators[short] = schema
		}
	}

	c.mu.Lock()
	c.descs = descs
	c.byShort = byShort
	c.validators = validators
	c.mu.Unlock()

	return descs, nil
}

// Invoke validates arguments against the tool's synthesized schema and
// dispatches to the tool plane using the qualified RPC name, retrying
// connection errors up to Options.RetryAttempts times with linear backoff.
// Non-retryable responses are surfaced verbatim; an unknown tool name is
// fatal.
func (c *Client) Invoke(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	c.mu.Lock()
	desc, ok := c.byShort[toolName]
	validator := c.validators[toolName]
	c.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("toolclient: unknown tool %q", toolName)
	}

	if validator != nil {
		var doc any
		if err := json.Unmarshal(arguments, &doc); err != nil {
			return Result{}, fmt.Errorf("toolclient: tool %q: decode arguments: %w", toolName, err)
		}
		if err := validator.Validate(doc); err != nil {
			return Result{}, fmt.Errorf("toolclient: tool %q: arguments do not match input schema: %w", toolName, err)
		}
	}

	rpcName := desc.Qualified
	if rpcName == "" {
		rpcName = toolName
	}

	bundle := telemetry.FromContext(ctx)
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Result{}, fmt.Errorf("toolclient: rate limiter: %w", err)
			}
		}
		res, err := c.caller.Invoke(ctx, rpcName, arguments)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return Result{}, err
		}
		bundle.Logger.Warn(ctx, "toolclient: retrying after connection error", "tool", toolName, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		}
	}
	return Result{}, fmt.Errorf("toolclient: tool %q: exhausted retries: %w", toolName, lastErr)
}

func splitQualifiedName(name string) (short, qualified string) {
	if idx := strings.Index(name, "___"); idx != -1 {
		return name[idx+3:], name
	}
	return name, ""
}

// schemaName derives the name used internally for a compiled validator from
// the qualified tool name, per spec §9 naming discipline ("___" and "-"
// replaced by "_").
func schemaName(toolName string) string {
	r := strings.NewReplacer("___", "_", "-", "_")
	return r.Replace(toolName)
}

func compileSchema(toolName string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "mem://" + schemaName(toolName) + ".json"
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("toolclient: tool %q: decode input schema: %w", toolName, err)
	}
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("toolclient: tool %q: add schema resource: %w", toolName, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("toolclient: tool %q: compile input schema: %w", toolName, err)
	}
	return schema, nil
}

// retryableError marks connection-level failures eligible for a retry.
type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

// Retryable wraps err so Invoke treats it as a transient connection failure
// rather than a permanent tool response.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}
