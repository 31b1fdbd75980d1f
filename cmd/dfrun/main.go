// Command dfrun compiles and runs Dataform workflows, either one-shot from
// the command line or as a long-running service with a REST API, cron
// schedules and a lifecycle journal.
//
// Usage:
//
//	dfrun [--config FILE] [--json] <command> [flags]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/dataform-runner/internal/config"
	"github.com/seantiz/dataform-runner/internal/dataform"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

// version is set with -ldflags at build time.
var version = "dev"

var (
	configPath string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "dfrun",
		Short: "Dataform workflow runner",
		Long: `dfrun compiles a Dataform repository branch and runs the result as a
workflow invocation. The serve command keeps a pool of managed executions
behind an HTTP API and fires configured cron schedules.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return config.NewLogger(os.Stderr, cfg.LogLevel(), cfg.Log.Format)
}

// newService builds the REST client and the workflow service. Requests are
// unauthenticated when the endpoint is marked insecure.
func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*workflow.Service, error) {
	httpCfg := cfg.HTTPClient()
	if !cfg.Dataform.Insecure {
		ts, err := dataform.NewTokenSource(ctx, cfg.Dataform.AccessToken)
		if err != nil {
			return nil, err
		}
		httpCfg.TokenSource = ts
	}
	return workflow.NewService(cfg.Workflow(), dataform.NewHTTPClient(httpCfg), logger), nil
}
