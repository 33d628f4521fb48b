package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobwatch/pkg/client"
	"jobwatch/pkg/jobs"
)

type rootOptions struct {
	backendURL string
	output     string
	timeout    time.Duration
}

func main() {
	_ = godotenv.Load()

	env, err := client.LoadSettings(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCommand(env).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(env client.Settings) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect and record job executions in the jobwatch tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.backendURL, "backend-url", env.BackendURL, "Base URL of the tracking service")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newFinishCommand(opts))
	return cmd
}

func (o *rootOptions) client() (*client.Client, error) {
	return client.New(o.backendURL)
}

func (o *rootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		jobName, runID, status string
		startFrom, startTo     string
		endFrom, endTo         string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria := jobs.Criteria{JobName: jobName, RunID: runID}
			if status != "" {
				st, err := jobs.ParseStatus(status)
				if err != nil {
					return err
				}
				criteria.Status = st
			}

			var err error
			if criteria.StartTimeFrom, err = parseTimeFlag("start-from", startFrom, false); err != nil {
				return err
			}
			if criteria.StartTimeTo, err = parseTimeFlag("start-to", startTo, true); err != nil {
				return err
			}
			if criteria.EndTimeFrom, err = parseTimeFlag("end-from", endFrom, false); err != nil {
				return err
			}
			if criteria.EndTimeTo, err = parseTimeFlag("end-to", endTo, true); err != nil {
				return err
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			executions, err := c.ListJobs(ctx, criteria)
			if err != nil {
				return err
			}
			return printExecutions(cmd.OutOrStdout(), opts.output, executions)
		},
	}

	f := cmd.Flags()
	f.StringVar(&jobName, "job", "", "Job name substring (case-insensitive)")
	f.StringVar(&runID, "run", "", "Exact run id")
	f.StringVar(&status, "status", "", "RUNNING, SUCCESS or FAILED")
	f.StringVar(&startFrom, "start-from", "", "Earliest start time (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&startTo, "start-to", "", "Latest start time (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&endFrom, "end-from", "", "Earliest end time (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&endTo, "end-to", "", "Latest end time (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			execution, err := c.GetJob(ctx, id)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("execution %d not found", id)
				}
				return err
			}
			return printExecutions(cmd.OutOrStdout(), opts.output, []jobs.Execution{execution})
		},
	}
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count executions per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			counts, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), counts)
			}

			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			data := pterm.TableData{{"STATUS", "COUNT"}}
			for _, k := range keys {
				data = append(data, []string{k, strconv.FormatInt(counts[k], 10)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(cmd.OutOrStdout()).Render()
		},
	}
}

func newStartCommand(opts *rootOptions) *cobra.Command {
	var jobName, runID string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Record the start of an execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			execution, err := c.StartJob(ctx, jobs.NaturalKey{JobName: jobName, RunID: runID})
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), execution)
			}
			pterm.Success.Printf("Execution %d started for %s\n", execution.ID, execution.Key())
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "Job name")
	cmd.Flags().StringVar(&runID, "run", "", "Run id")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newFinishCommand(opts *rootOptions) *cobra.Command {
	var (
		id             int64
		jobName, runID string
		failed         bool
		message        string
	)

	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Record the end of an execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := finishRef(id, jobName, runID)
			if err != nil {
				return err
			}
			if message != "" && !failed {
				pterm.Warning.Println("--message is only recorded for failed executions")
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			execution, err := c.Update(ctx, ref, jobs.TerminalPatch(failed, message))
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), execution)
			}
			pterm.Success.Printf("Execution %d is %s\n", execution.ID, execution.Status)
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&id, "id", 0, "Execution id")
	f.StringVar(&jobName, "job", "", "Job name, with --run, when the id is unknown")
	f.StringVar(&runID, "run", "", "Run id, with --job, when the id is unknown")
	f.BoolVar(&failed, "failed", false, "Mark the execution as failed")
	f.StringVar(&message, "message", "", "Failure message")
	return cmd
}

func finishRef(id int64, jobName, runID string) (jobs.Ref, error) {
	switch {
	case id > 0 && (jobName != "" || runID != ""):
		return jobs.Ref{}, errors.New("use either --id or --job/--run, not both")
	case id > 0:
		return jobs.ByID(id), nil
	case jobName != "" && runID != "":
		return jobs.ByKey(jobName, runID), nil
	default:
		return jobs.Ref{}, errors.New("--id or both --job and --run are required")
	}
}

// parseTimeFlag accepts RFC3339 or a plain date. A date used as an upper bound covers
// the whole day.
func parseTimeFlag(name, value string, upper bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: want RFC3339 or YYYY-MM-DD", name, value)
	}
	if upper {
		day = day.Add(24*time.Hour - time.Microsecond)
	}
	return &day, nil
}

func printExecutions(w io.Writer, format string, executions []jobs.Execution) error {
	switch format {
	case "json":
		return writeJSON(w, executions)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(executions) == 0 {
		pterm.Info.Println("No executions found")
		return nil
	}

	data := pterm.TableData{{"ID", "JOB", "RUN", "STATUS", "STARTED", "ENDED", "ERROR"}}
	for _, e := range executions {
		ended := "-"
		if e.EndTime != nil {
			ended = e.EndTime.Format(time.RFC3339)
		}
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			e.JobName,
			e.RunID,
			string(e.Status),
			e.StartTime.Format(time.RFC3339),
			ended,
			e.ErrorMessage,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
