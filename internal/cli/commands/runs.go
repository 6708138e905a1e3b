package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit int
}

// NewRunsCommand creates the run history commands.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent pipeline runs",
		Long: `List recent pipeline runs from the state database, newest first.

Use "runs show" to inspect the partition events and table loads of a
single run.`,
		Example: `  # The last ten runs
  gridetl runs

  # One run in detail
  gridetl runs show 0198f2a4-73c1-7e5e-9f3a-d1f026a1c3b7`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsList(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "Number of runs to show")

	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func runRunsList(cmd *cobra.Command, opts *RunsOptions) error {
	cfg := getConfig(cmd)

	st, err := openState(cfg, getLogger(cmd))
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(opts.Limit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"RUN", "STATUS", "STARTED", "DURATION", "ERROR"})
	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := r.Error
		if errMsg == "" {
			errMsg = "-"
		}
		t.AppendRow(table.Row{r.ID, r.Status, r.StartedAt.Format(time.RFC3339), dur, errMsg})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(runs))
	return nil
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the partition events and table loads of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(cmd, args[0])
		},
	}
}

func runRunsShow(cmd *cobra.Command, id string) error {
	cfg := getConfig(cmd)

	st, err := openState(cfg, getLogger(cmd))
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Run %s: %s\n", run.ID, run.Status)
	_, _ = fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Completed: %s (%s)\n",
			run.CompletedAt.Format(time.RFC3339),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", run.Error)
	}

	events, err := st.ListPartitionEvents(id)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		_, _ = fmt.Fprintln(w, "\nPartition events:")
		t := newTable(w)
		t.AppendHeader(table.Row{"TIME", "SOURCE", "TABLE", "YEAR", "EVENT", "DETAIL"})
		for _, ev := range events {
			year := "-"
			if ev.Year != 0 {
				year = strconv.Itoa(ev.Year)
			}
			detail := ev.Detail
			if detail == "" {
				detail = "-"
			}
			t.AppendRow(table.Row{ev.CreatedAt.Format("15:04:05"), ev.Source, ev.Table, year, ev.Event, detail})
		}
		t.Render()
	}

	loads, err := st.ListTableLoads(id)
	if err != nil {
		return err
	}
	if len(loads) > 0 {
		_, _ = fmt.Fprintln(w, "\nTable loads:")
		t := newTable(w)
		t.AppendHeader(table.Row{"TABLE", "ROWS", "DURATION", "DESTINATION"})
		for _, tl := range loads {
			t.AppendRow(table.Row{tl.Table, tl.Rows, tl.Duration.Round(time.Millisecond), tl.Destination})
		}
		t.Render()
	}
	return nil
}
