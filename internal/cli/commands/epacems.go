package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridetl/internal/pipeline"
)

// NewEPACEMSCommand groups the hourly emissions shortcuts.
func NewEPACEMSCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epacems",
		Short: "Hourly emissions shortcuts",
	}

	cmd.AddCommand(newEPACEMSToParquetCommand())

	return cmd
}

func newEPACEMSToParquetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "to-parquet",
		Short: "Write the hourly emissions table as a parquet dataset",
		Long: `Run the pipeline for the epacems source alone and write its hourly
emissions table as a year-partitioned parquet dataset. The volume of
this source dwarfs the others; parquet is the only destination that
handles it comfortably.`,
		Example: `  # Every available year and state
  gridetl epacems to-parquet

  # One year into a custom directory
  gridetl epacems to-parquet --years 2020 --parquet-dir /data/epacems`,
		RunE: runEPACEMSToParquet,
	}
}

func runEPACEMSToParquet(cmd *cobra.Command, _ []string) error {
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
		Sources: []string{"epacems"},
		Years:   cfg.Years,
	}
	dest := pipeline.Destination{Parquet: parquetDestination(cfg)}

	res, err := p.Run(cmd.Context(), sel, dest)
	if err != nil {
		return err
	}
	printRunResult(cmd.OutOrStdout(), res)
	return nil
}
