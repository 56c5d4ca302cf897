package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/dimensional-research/orchestrator/blobstore"
	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/events"
	"github.com/dimensional-research/orchestrator/graph"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/memorystore"
	"github.com/dimensional-research/orchestrator/sandbox"
	"github.com/dimensional-research/orchestrator/stage"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/status"
	"github.com/dimensional-research/orchestrator/statusstore"
	"github.com/dimensional-research/orchestrator/toolclient"
	"github.com/dimensional-research/orchestrator/workspace"
)

// ServerDeps bundles the shared, process-lifetime resources every session's
// per-run stage.Deps is built from.
type ServerDeps struct {
	Provider      llm.Provider
	Tools         *toolclient.Client
	Sandbox       sandbox.Executor
	Blobs         blobstore.Store
	Status        statusstore.Store
	Events        memorystore.Store
	MemoryID      string
	IDs           *snowflake.Node
	WorkspaceRoot string
}

// Server implements the caller-facing contract (spec §6.1): start a
// session, stream its status, request cancellation.
type Server struct {
	deps ServerDeps

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps, cancels: make(map[string]context.CancelFunc)}
}

type startRequest struct {
	Topic          string                `json:"topic"`
	ResearchConfig config.ResearchConfig `json:"researchConfig"`
	SessionID      string                `json:"sessionId"`
	BFFSessionID   string                `json:"bffSessionId"`
	UserID         string                `json:"userId"`
}

// StartResearch handles POST /research (spec §6.1 invocation). It validates
// the payload synchronously, then launches the workflow in the background
// and returns immediately so the caller can open the status stream.
func (s *Server) StartResearch(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}
	if err := req.ResearchConfig.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.BFFSessionID
	}
	if sessionID == "" {
		sessionID = "session_" + s.deps.IDs.Generate().Base32()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[sessionID] = cancel
	s.mu.Unlock()

	deps, err := s.buildSessionDeps(sessionID)
	if err != nil {
		cancel()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	initial := state.WorkflowState{
		Topic:      req.Topic,
		Config:     req.ResearchConfig,
		SessionID:  sessionID,
		UserID:     req.UserID,
		References: req.ResearchConfig.ReferenceMaterials,
	}

	go s.runSession(runCtx, cancel, deps, sessionID, initial)

	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})
}

func (s *Server) buildSessionDeps(sessionID string) (*stage.Deps, error) {
	ws, err := workspace.New(s.deps.WorkspaceRoot + "/" + sessionID)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	publisher := status.New(s.deps.Status, sessionID)
	tracker := events.New(s.deps.Events, s.deps.MemoryID)
	return &stage.Deps{
		Provider:  s.deps.Provider,
		Tools:     s.deps.Tools,
		Sandbox:   s.deps.Sandbox,
		Blobs:     s.deps.Blobs,
		Workspace: ws,
		Events:    tracker,
		Status:    publisher,
		IDs:       s.deps.IDs,
		CancelCheck: func(ctx context.Context) (bool, error) {
			item, found, err := publisher.GetStatus(ctx)
			if err != nil {
				return false, err
			}
			return found && item.Status == "cancelling", nil
		},
	}, nil
}

// runSession drives one workflow to completion, translating the terminal
// outcome into the status record the stream endpoint reads back (spec §7:
// cancellation -> status=cancelled, any other error -> status=failed).
func (s *Server) runSession(ctx context.Context, cancel context.CancelFunc, deps *stage.Deps, sessionID string, initial state.WorkflowState) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, sessionID)
		s.mu.Unlock()
		cancel()
	}()

	g := stage.BuildGraph(deps)
	started := time.Now()
	_, err := graph.NewEngine().Run(ctx, g, initial)

	finalCtx := context.Background()
	switch {
	case err == nil:
		_ = deps.Status.MarkCompleted(finalCtx, time.Since(started).Seconds())
	case ctx.Err() != nil:
		_ = deps.Status.MarkCancelled(finalCtx)
	default:
		_ = deps.Status.MarkFailed(finalCtx, err.Error())
	}
}

// CancelResearch handles DELETE /research/:session_id. It marks the session
// cancelling (observed cooperatively by CancelCheck) and cancels the run's
// context so any node between agent-driver calls unwinds promptly too.
func (s *Server) CancelResearch(c *gin.Context) {
	sessionID := c.Param("session_id")
	s.mu.Lock()
	cancel, ok := s.cancels[sessionID]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running session " + sessionID})
		return
	}
	_ = status.New(s.deps.Status, sessionID).MarkCancelling(c.Request.Context())
	cancel()
	c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionID, "status": "cancelling"})
}

// statusRecord, progressRecord, completeRecord, cancelledRecord and
// errorRecord are the five stream record shapes spec §6.1 names.
type statusRecord struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	Status       string `json:"status"`
	CurrentStage string `json:"currentStage"`
	Message      string `json:"message,omitempty"`
}

type progressRecord struct {
	Type         string      `json:"type"`
	SessionID    string      `json:"sessionId"`
	CurrentStage string      `json:"currentStage"`
	State        progressState `json:"state"`
}

type progressState struct {
	Dimensions         []string                                     `json:"dimensions,omitempty"`
	DimensionCount     int                                           `json:"dimensionCount,omitempty"`
	TotalAspects       int                                           `json:"totalAspects,omitempty"`
	ResearchByAspect   map[string]statusstore.ResearchResultSummary `json:"researchByAspect,omitempty"`
	DimensionDocuments map[string]statusstore.DimensionDocStatus    `json:"dimensionDocuments,omitempty"`
}

type completeResult struct {
	Topic              string                                     `json:"topic"`
	Dimensions         []string                                   `json:"dimensions"`
	AspectsByDim       map[string][]string                        `json:"aspectsByDim"`
	ResearchByAspect   map[string]statusstore.ResearchResultSummary `json:"researchByAspect"`
	ReportFile         string                                     `json:"reportFile"`
	DimensionDocuments map[string]statusstore.DimensionDocStatus `json:"dimensionDocuments"`
}

type completeRecord struct {
	Type        string         `json:"type"`
	SessionID   string         `json:"sessionId"`
	ElapsedTime float64        `json:"elapsedTime"`
	Result      completeResult `json:"result"`
}

type cancelledRecord struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type errorRecord struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

const streamPollInterval = 500 * time.Millisecond

// StreamStatus handles GET /research/:session_id/stream, polling the status
// store and translating transitions into the record stream spec §6.1
// describes. The stream closes itself once a terminal record (complete,
// cancelled, error) has been sent.
func (s *Server) StreamStatus(c *gin.Context) {
	sessionID := c.Param("session_id")
	setSSEHeaders(c.Writer)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	ctx := c.Request.Context()
	var lastStage, lastStatus string

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, found, err := s.deps.Status.Get(ctx, sessionID)
		if err != nil {
			writeSSE(c.Writer, "error", errorRecord{Type: "error", SessionID: sessionID, Error: err.Error()})
			flusher.Flush()
			return
		}
		if !found {
			writeSSE(c.Writer, "ping", "waiting")
			flusher.Flush()
			time.Sleep(streamPollInterval)
			continue
		}

		if item.Status != lastStatus || item.CurrentStage != lastStage {
			writeSSE(c.Writer, "status", statusRecord{
				Type: "status", SessionID: sessionID, Status: item.Status, CurrentStage: item.CurrentStage,
			})
			flusher.Flush()
			lastStatus, lastStage = item.Status, item.CurrentStage
		} else {
			writeSSE(c.Writer, "progress", progressRecord{
				Type: "progress", SessionID: sessionID, CurrentStage: item.CurrentStage,
				State: progressState{
					Dimensions:         item.Dimensions,
					DimensionCount:     item.DimensionCount,
					TotalAspects:       item.TotalAspects,
					ResearchByAspect:   item.ResearchByAspect,
					DimensionDocuments: item.DimensionDocuments,
				},
			})
			flusher.Flush()
		}

		switch item.Status {
		case "completed":
			writeSSE(c.Writer, "complete", completeRecord{
				Type: "complete", SessionID: sessionID, ElapsedTime: item.ElapsedTime,
				Result: completeResult{
					Topic:              item.Topic,
					Dimensions:         item.Dimensions,
					AspectsByDim:       item.AspectsByDimension,
					ResearchByAspect:   item.ResearchByAspect,
					ReportFile:         reportFileFromVersions(item),
					DimensionDocuments: item.DimensionDocuments,
				},
			})
			flusher.Flush()
			return
		case "cancelled":
			writeSSE(c.Writer, "cancelled", cancelledRecord{Type: "cancelled", SessionID: sessionID, Message: "research cancelled"})
			flusher.Flush()
			return
		case "failed":
			msg := "research failed"
			if n := len(item.Errors); n > 0 {
				msg = item.Errors[n-1].Message
			}
			writeSSE(c.Writer, "error", errorRecord{Type: "error", SessionID: sessionID, Error: msg})
			flusher.Flush()
			return
		}

		time.Sleep(streamPollInterval)
	}
}

func reportFileFromVersions(item statusstore.Status) string {
	if item.CurrentVersion == "" {
		return ""
	}
	version, ok := item.Versions[item.CurrentVersion]
	if !ok {
		return ""
	}
	if key := version.ArtifactKeys["docx"]; key != "" {
		return key
	}
	return version.ArtifactKeys["markdown"]
}

func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	body := string(payload)
	if err != nil {
		body = fmt.Sprintf("%v", data)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(body, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
