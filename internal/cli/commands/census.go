package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridetl/internal/census"
	"github.com/leapstack-labs/gridetl/internal/schema"
)

// CensusOptions holds options for the census lookup command.
type CensusOptions struct {
	State  string
	County string
}

// NewCensusCommand groups the census geography commands.
func NewCensusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "census",
		Short: "Census geography lookups",
	}

	cmd.AddCommand(newCensusLookupCommand())

	return cmd
}

func newCensusLookupCommand() *cobra.Command {
	opts := &CensusOptions{}

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up census geographies by state and county",
		Long: `Resolve state and county identifiers against the census DP1 geography
table, fetching it into the cache on first use.`,
		Example: `  # Every geography in Idaho
  gridetl census lookup --state ID

  # One county, by name or FIPS code
  gridetl census lookup --state ID --county "Ada County"
  gridetl census lookup --state 16 --county 001`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCensusLookup(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "State postal abbreviation or FIPS code (required)")
	cmd.Flags().StringVar(&opts.County, "county", "", "County name or FIPS code")
	_ = cmd.MarkFlagRequired("state")

	return cmd
}

func runCensusLookup(cmd *cobra.Command, opts *CensusOptions) error {
	cfg := getConfig(cmd)
	logger := getLogger(cmd)

	store, err := newDatastore(cfg, logger)
	if err != nil {
		return err
	}
	cat, err := schema.Load()
	if err != nil {
		return err
	}

	lookup, err := census.Load(cmd.Context(), store, cat, logger)
	if err != nil {
		return err
	}
	rows, err := lookup.Find(opts.State, opts.County)
	if err != nil {
		return &UsageError{Err: err}
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"GEOID", "NAME", "STATE", "COUNTY", "AREA KM2", "POPULATION"})
	for _, g := range rows {
		county := g.CountyFIPS
		if county == "" {
			county = "-"
		}
		t.AppendRow(table.Row{g.GEOID, g.Name, g.StateFIPS, county, fmt.Sprintf("%.2f", g.LandAreaKm2), g.Population})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return nil
}
