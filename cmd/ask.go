package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vaultmind/vaultmind/config"
	agentcore "github.com/vaultmind/vaultmind/internal/agent/core"
	"github.com/vaultmind/vaultmind/internal/agent/ratelimit"
	agenttele "github.com/vaultmind/vaultmind/internal/agent/telemetry"
	"github.com/vaultmind/vaultmind/internal/usage"
	"github.com/vaultmind/vaultmind/tools/web_search"
)

// askCMD runs a single question through the reasoning loop without the HTTP
// server, printing each event as it streams. Useful for smoke-testing
// provider and search credentials.
func askCMD() *cobra.Command {
	var cfgPath string
	var showSteps bool
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one question through the agent loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			provider, err := agentcore.NewCompletionProvider(cfg.LLM)
			if err != nil {
				return err
			}
			searchTool, err := web_search.NewTool(cfg.Search, log.New(os.Stderr, "[SEARCH] ", log.LstdFlags))
			if err != nil {
				return err
			}
			limiter := ratelimit.New(cfg.Agent.RateLimitCalls, cfg.Agent.RateLimitWindow)
			recorder := usage.NewRecorder(nil, log.New(os.Stderr, "[USAGE] ", log.LstdFlags))
			tele := agenttele.New(prometheus.NewRegistry())
			orch := agentcore.NewOrchestrator(
				cfg.Agent,
				log.New(os.Stderr, "[AGENT] ", log.LstdFlags),
				provider,
				searchTool,
				limiter,
				recorder,
				tele,
			)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for ev := range orch.Run(ctx, agentcore.Request{Query: query}) {
				switch ev.Type {
				case agentcore.EventStatus:
					fmt.Fprintf(os.Stderr, "... %s\n", ev.Content)
				case agentcore.EventAnswer:
					fmt.Println(ev.Response)
					if len(ev.Sources) > 0 {
						fmt.Printf("\nSources: %s\n", strings.Join(ev.Sources, ", "))
					}
					if showSteps && ev.Reasoning != nil {
						for _, s := range ev.Reasoning.Steps {
							fmt.Fprintf(os.Stderr, "step %d [%s] %s\n", s.Index, s.Action, s.Content)
						}
					}
				case agentcore.EventError:
					return fmt.Errorf("%s", ev.Content)
				}
			}
			return nil
		},
	}
	ask.Flags().BoolVar(&showSteps, "steps", false, "print the reasoning trace after the answer")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}
