package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dimensional-research/orchestrator/config"
)

// client is a minimal HTTP client for research-server's three endpoints.
// Its SSE frame reader is the same read-one-event-then-dispatch shape as
// goadesign-goa-ai's runtime/mcp SSECaller, adapted from an RPC response
// stream to a status/progress/complete event stream.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
}

type startRequest struct {
	Topic          string                `json:"topic"`
	ResearchConfig config.ResearchConfig `json:"researchConfig"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

func (c *client) start(ctx context.Context, req startRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/research", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("research-server: %s", out.Error)
	}
	return out.SessionID, nil
}

func (c *client) cancel(ctx context.Context, sessionID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/research/"+sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("research-server: %s", string(raw))
	}
	return nil
}

// streamEvent is one decoded SSE frame: event is the "event:" line, data is
// the joined "data:" lines, still JSON-encoded.
type streamEvent struct {
	event string
	data  []byte
}

// stream opens the session's event stream and delivers each decoded frame to
// onEvent until the stream closes or onEvent returns an error.
func (c *client) stream(ctx context.Context, sessionID string, onEvent func(streamEvent) error) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/research/"+sessionID+"/stream", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("research-server: stream status %d: %s", resp.StatusCode, string(raw))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		ev, data, err := readSSEEvent(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if ev == "" {
			continue
		}
		if err := onEvent(streamEvent{event: ev, data: data}); err != nil {
			return err
		}
	}
}

func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			chunk := strings.TrimPrefix(after, " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
			continue
		}
	}
}
