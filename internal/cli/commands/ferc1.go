package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridetl/internal/pipeline"
)

// NewFERC1Command groups the FERC Form 1 shortcuts.
func NewFERC1Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ferc1",
		Short: "FERC Form 1 shortcuts",
	}

	cmd.AddCommand(newFERC1ToDBCommand())

	return cmd
}

func newFERC1ToDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "to-db",
		Short: "Load the FERC Form 1 tables into the relational destination",
		Long: `Run the pipeline for the ferc1 source alone and load its canonical
tables into the configured relational destination. Entity tables are
built from FERC evidence only; re-run the full pipeline to link them
against the EIA sources.`,
		Example: `  # Every available year into the default sqlite database
  gridetl ferc1 to-db

  # Two years into duckdb
  gridetl ferc1 to-db --years 2020,2021 --destination duckdb --db-path ferc1.duckdb`,
		RunE: runFERC1ToDB,
	}
}

func runFERC1ToDB(cmd *cobra.Command, _ []string) error {
	cfg := getConfig(cmd)
	logger := getLogger(cmd)

	st, err := openState(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := newPipeline(cfg, logger, st, nil)
	if err != nil {
		return err
	}

	sel := pipeline.Selection{
		Sources: []string{"ferc1"},
		Years:   cfg.Years,
	}
	dest := pipeline.Destination{Relational: relationalDestination(cfg)}

	res, err := p.Run(cmd.Context(), sel, dest)
	if err != nil {
		return err
	}
	printRunResult(cmd.OutOrStdout(), res)
	return nil
}
