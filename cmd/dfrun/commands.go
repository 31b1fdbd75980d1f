package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/dataform-runner/internal/model"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

var (
	runExecutionID  string
	runWait         bool
	runTimeout      time.Duration
	runPollInterval time.Duration
	runFullRefresh  bool

	compileVars         []string
	compileSchemaSuffix string

	listLimit int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Compile the branch and start a workflow invocation",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runExecutionID, "execution-id", "", "value passed to the compilation as "+workflow.ExecutionIDVar)
	runCmd.Flags().BoolVar(&runWait, "wait", false, "wait for the invocation to finish")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", workflow.DefaultTimeout, "how long --wait waits")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", workflow.DefaultPollInterval, "how often --wait polls")
	runCmd.Flags().BoolVar(&runFullRefresh, "full-refresh", true, "fully refresh incremental tables")
	rootCmd.AddCommand(runCmd)

	compileCmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the branch and print the compilation result",
		Args:  cobra.NoArgs,
		RunE:  runCompile,
	}
	compileCmd.Flags().StringArrayVar(&compileVars, "var", nil, "compilation variable as KEY=VALUE (repeatable)")
	compileCmd.Flags().StringVar(&compileSchemaSuffix, "schema-suffix", "", "suffix appended to output schemas")
	rootCmd.AddCommand(compileCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "get INVOCATION",
		Short: "Show one workflow invocation",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent workflow invocations",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 10, "maximum number of invocations")
	rootCmd.AddCommand(listCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	h, err := svc.RunWorkflow(cmd.Context(), workflow.RunOptions{
		ExecutionID:  runExecutionID,
		Wait:         runWait,
		Timeout:      runTimeout,
		PollInterval: runPollInterval,
		FullRefresh:  runFullRefresh,
	})
	if h != nil {
		if perr := newOutput(os.Stdout, jsonOutput).invocations([]model.Invocation{h.Snapshot()}); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}

	if state := h.Snapshot().State; runWait && state != model.StateSucceeded {
		return fmt.Errorf("invocation finished in state %s", state)
	}
	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(compileVars)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	name, err := svc.Compile(cmd.Context(), vars, compileSchemaSuffix)
	if err != nil {
		return err
	}

	out := newOutput(os.Stdout, jsonOutput)
	return out.print(
		[]string{"COMPILATION_RESULT", "BRANCH"},
		[][]string{{name, cfg.Dataform.GitBranch}},
		model.CompilationResult{Name: name, GitCommitish: cfg.Dataform.GitBranch, Vars: vars, SchemaSuffix: compileSchemaSuffix},
	)
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	name := args[0]
	if !strings.Contains(name, "/") {
		name = cfg.Workflow().RepoURI() + "/workflowInvocations/" + name
	}

	h, err := svc.GetWorkflow(cmd.Context(), name)
	if err != nil {
		return err
	}
	return newOutput(os.Stdout, jsonOutput).invocations([]model.Invocation{h.Snapshot()})
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	handles, err := svc.ListRecentWorkflows(cmd.Context(), listLimit)
	if err != nil {
		return err
	}

	invs := make([]model.Invocation, len(handles))
	for i, h := range handles {
		invs[i] = h.Snapshot()
	}
	return newOutput(os.Stdout, jsonOutput).invocations(invs)
}

// parseVars turns KEY=VALUE pairs into a map. Nil input yields a nil map.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid var %q, expected KEY=VALUE", kv)
		}
		vars[key] = value
	}
	return vars, nil
}
