// keyvexctl drives a keyvex server from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"keyvex/internal/tcc"

	"github.com/spf13/cobra"
)

// errInvalid is returned by validate when the code has errors, so the exit
// status reflects the result.
var errInvalid = errors.New("component is invalid")

type options struct {
	server  string
	timeout time.Duration
	raw     bool
}

// statusReport mirrors the status route's payload
type statusReport struct {
	JobID       string     `json:"jobId"`
	Status      tcc.Status `json:"status"`
	CurrentStep tcc.Step   `json:"currentStep"`
	Progress    int        `json:"progress"`
	Running     bool       `json:"running"`
	LastError   string     `json:"lastError,omitempty"`
	HasProduct  bool       `json:"hasFinalProduct"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "keyvexctl",
		Short:         "Generate and inspect keyvex tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	defaultServer := os.Getenv("KEYVEX_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", defaultServer, "Keyvex server URL (or set KEYVEX_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.raw, "json", false, "Print raw JSON responses")

	root.AddCommand(
		newGenerateCmd(opts),
		newStatusCmd(opts),
		newStepCmd(opts),
		newResumeCmd(opts),
		newTCCCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

func (o *options) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func newGenerateCmd(opts *options) *cobra.Command {
	var (
		input        tcc.UserInput
		model        string
		userID       string
		wait         bool
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate <description>",
		Short: "Start a tool generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Description = args[0]
			ctx := cmd.Context()
			client := opts.client()

			env, err := client.do(ctx, http.MethodPost, "/api/ai/orchestrate/start", map[string]any{
				"userInput":     input,
				"selectedModel": model,
				"userId":        userID,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %s started\n", env.JobID)
			if !wait {
				return nil
			}
			return waitForJob(ctx, client, out, env.JobID, pollInterval)
		},
	}

	cmd.Flags().StringVar(&input.ToolType, "tool-type", "", "calculator, quiz, assessment, comparison, planner or other")
	cmd.Flags().StringVar(&input.TargetAudience, "audience", "", "Target audience")
	cmd.Flags().StringVar(&input.Industry, "industry", "", "Industry")
	cmd.Flags().StringArrayVar(&input.Features, "feature", nil, "Requested feature (repeatable)")
	cmd.Flags().StringVar(&model, "model", "", "Model for every agent")
	cmd.Flags().StringVar(&userID, "user", "", "User ID recorded on the job")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().DurationVar(&pollInterval, "poll", 2*time.Second, "Status poll interval with --wait")
	return cmd
}

// waitForJob polls status until the job completes or fails.
func waitForJob(ctx context.Context, client *apiClient, out io.Writer, jobID string, every time.Duration) error {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	lastStep := tcc.Step("")
	for {
		report, err := fetchStatus(ctx, client, jobID)
		if err != nil {
			return err
		}
		if report.CurrentStep != lastStep {
			fmt.Fprintf(out, "%3d%%  %s\n", report.Progress, report.CurrentStep)
			lastStep = report.CurrentStep
		}
		switch report.Status {
		case tcc.StatusCompleted:
			fmt.Fprintf(out, "job %s completed\n", jobID)
			return nil
		case tcc.StatusError:
			if !report.Running {
				return fmt.Errorf("job %s failed: %s", jobID, report.LastError)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func fetchStatus(ctx context.Context, client *apiClient, jobID string) (*statusReport, error) {
	env, err := client.do(ctx, http.MethodGet, "/api/ai/orchestrate/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	var report statusReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		return nil, fmt.Errorf("invalid status payload: %w", err)
	}
	return &report, nil
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show a job's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := fetchStatus(cmd.Context(), opts.client(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.raw {
				return printJSON(out, report)
			}
			fmt.Fprintf(out, "%s  %s  %s  %d%%", report.JobID, report.Status, report.CurrentStep, report.Progress)
			if report.Running {
				fmt.Fprint(out, "  (running)")
			}
			fmt.Fprintln(out)
			if report.LastError != "" {
				fmt.Fprintf(out, "last error: %s\n", report.LastError)
			}
			return nil
		},
	}
}

func newStepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "step <jobId>",
		Short: "Run the next pending stage of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/ai/orchestrate/step", map[string]string{"jobId": args[0]})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.raw {
				return printJSON(out, env.Data)
			}
			var t tcc.Context
			if err := json.Unmarshal(env.Data, &t); err != nil {
				return fmt.Errorf("invalid step payload: %w", err)
			}
			fmt.Fprintf(out, "%s  %s  %s  %d%%\n", t.JobID, t.Status, t.CurrentOrchestrationStep, t.Progress())
			return nil
		},
	}
}

func newResumeCmd(opts *options) *cobra.Command {
	var (
		wait         bool
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resume <jobId>",
		Short: "Rerun the unfinished stages of a stopped or failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := opts.client()
			if _, err := client.do(ctx, http.MethodPost, "/api/ai/orchestrate/resume", map[string]string{"jobId": args[0]}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %s resumed\n", args[0])
			if !wait {
				return nil
			}
			return waitForJob(ctx, client, out, args[0], pollInterval)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().DurationVar(&pollInterval, "poll", 2*time.Second, "Status poll interval with --wait")
	return cmd
}

func newTCCCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tcc",
		Short: "Inspect stored Tool Construction Contexts",
	}

	var page, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List contexts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(limit))
			env, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/tcc?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.raw {
				return printJSON(out, env.Data)
			}
			var summaries []tcc.Summary
			if err := json.Unmarshal(env.Data, &summaries); err != nil {
				return fmt.Errorf("invalid list payload: %w", err)
			}
			for _, s := range summaries {
				fmt.Fprintf(out, "%s  %-11s  %-30s  %3d%%  v%d\n", s.JobID, s.Status, s.Step, s.Progress, s.Version)
			}
			return nil
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&limit, "limit", 20, "Page size")

	get := &cobra.Command{
		Use:   "get <jobId>",
		Short: "Print a context as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/tcc/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env.Data)
		},
	}

	del := &cobra.Command{
		Use:   "delete <jobId>",
		Short: "Delete a context, cancelling its job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client().do(cmd.Context(), http.MethodDelete, "/api/tcc/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a React component file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			env, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/validate", map[string]string{"code": string(code)})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var result tcc.ValidationResult
			if err := json.Unmarshal(env.Data, &result); err != nil {
				return fmt.Errorf("invalid validation payload: %w", err)
			}
			if opts.raw {
				if err := printJSON(out, result); err != nil {
					return err
				}
			} else {
				printResult(out, args[0], result)
			}
			if !result.IsValid {
				return errInvalid
			}
			return nil
		},
	}
}

func printResult(w io.Writer, name string, r tcc.ValidationResult) {
	verdict := "valid"
	if !r.IsValid {
		verdict = "invalid"
	}
	fmt.Fprintf(w, "%s: %s (%s)\n", name, verdict, r.Method)
	sections := []struct {
		label string
		items []string
	}{
		{"syntax error", r.SyntaxErrors},
		{"type error", r.TypeErrors},
		{"warning", r.Warnings},
		{"suggestion", r.Suggestions},
	}
	for _, s := range sections {
		for _, item := range s.items {
			fmt.Fprintf(w, "  %s: %s\n", s.label, item)
		}
	}
}
