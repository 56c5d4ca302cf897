package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dimensional-research/orchestrator/config"
)

var (
	startDepth   string
	startType    string
	startModel   string
	startContext string
)

var startCmd = &cobra.Command{
	Use:   "start <topic>",
	Short: "Start a research run and follow it to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&startDepth, "depth", string(config.DepthBalanced), "research depth: quick, balanced, deep")
	startCmd.Flags().StringVar(&startType, "type", string(config.ResearchBasicWeb), "research type: basic_web, advanced_web, academic, financial, comprehensive, custom")
	startCmd.Flags().StringVar(&startModel, "model", "", "override the default LLM model id")
	startCmd.Flags().StringVar(&startContext, "context", "", "freeform context passed to dimension planning")
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := newClient(serverAddr)
	sessionID, err := c.start(ctx, startRequest{
		Topic: args[0],
		ResearchConfig: config.ResearchConfig{
			ResearchType:    config.ResearchType(startType),
			ResearchDepth:   config.ResearchDepth(startDepth),
			LLMModel:        startModel,
			ResearchContext: startContext,
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("started session %s\n", sessionID)
	return followSession(ctx, c, sessionID)
}

var followCmd = &cobra.Command{
	Use:   "follow <session-id>",
	Short: "Reattach to a session's event stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return followSession(ctx, newClient(serverAddr), args[0])
	},
}

func init() {
	rootCmd.AddCommand(followCmd)
}

// followSession prints each stream record as it arrives and returns once a
// terminal record (complete, cancelled, error) has been received.
func followSession(ctx context.Context, c *client, sessionID string) error {
	var runErr error
	err := c.stream(ctx, sessionID, func(ev streamEvent) error {
		switch ev.event {
		case "ping":
			return nil
		case "status":
			var rec struct {
				Status       string `json:"status"`
				CurrentStage string `json:"currentStage"`
			}
			if err := json.Unmarshal(ev.data, &rec); err != nil {
				return err
			}
			fmt.Printf("[%s] %s\n", rec.CurrentStage, rec.Status)
		case "progress":
			var rec struct {
				CurrentStage string `json:"currentStage"`
				State        struct {
					DimensionCount int `json:"dimensionCount,omitempty"`
					TotalAspects   int `json:"totalAspects,omitempty"`
				} `json:"state"`
			}
			if err := json.Unmarshal(ev.data, &rec); err != nil {
				return err
			}
			fmt.Printf("[%s] dimensions=%d aspects=%d\n", rec.CurrentStage, rec.State.DimensionCount, rec.State.TotalAspects)
		case "complete":
			var rec struct {
				ElapsedTime float64 `json:"elapsedTime"`
				Result      struct {
					ReportFile string `json:"reportFile"`
				} `json:"result"`
			}
			if err := json.Unmarshal(ev.data, &rec); err != nil {
				return err
			}
			fmt.Printf("completed in %.1fs, report: %s\n", rec.ElapsedTime, rec.Result.ReportFile)
		case "cancelled":
			fmt.Println("cancelled")
		case "error":
			var rec struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(ev.data, &rec); err != nil {
				return err
			}
			runErr = fmt.Errorf("research-server: %s", rec.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return runErr
}
