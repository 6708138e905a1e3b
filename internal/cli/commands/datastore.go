package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridetl/internal/datastore"
)

// DatastoreOptions holds options shared by the datastore subcommands.
type DatastoreOptions struct {
	Source    string
	Partition string
}

// NewDatastoreCommand groups the raw archive cache commands.
func NewDatastoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datastore",
		Short: "Manage the raw archive cache",
		Long: `Work with the local cache of raw source archives.

Resources are downloaded from the archive service once, verified
against their published checksums, and reused by every later run.`,
	}

	cmd.AddCommand(newDatastoreFetchCommand())
	cmd.AddCommand(newDatastoreListCommand())
	cmd.AddCommand(newDatastoreValidateCommand())

	return cmd
}

func newDatastoreFetchCommand() *cobra.Command {
	opts := &DatastoreOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download source archives into the local cache",
		Example: `  # Fetch every eia860 archive
  gridetl datastore fetch --source eia860

  # Fetch a single year
  gridetl datastore fetch --source eia860 --partition year=2020

  # Fetch one state of the hourly emissions data
  gridetl datastore fetch --source epacems --partition year=2020,state=ID`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDatastoreFetch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "Source to fetch (required)")
	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "Partition selector, e.g. year=2020,state=ID")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runDatastoreFetch(cmd *cobra.Command, opts *DatastoreOptions) error {
	cfg := getConfig(cmd)
	store, err := newDatastore(cfg, getLogger(cmd))
	if err != nil {
		return err
	}

	filter, err := datastore.ParseFilter(opts.Partition)
	if err != nil {
		return &UsageError{Err: err}
	}

	ctx := cmd.Context()
	resources, err := store.ListAvailable(ctx, opts.Source, filter)
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		return fmt.Errorf("no resources of %s match %q", opts.Source, opts.Partition)
	}

	w := cmd.OutOrStdout()
	var total int64
	for _, res := range resources {
		key, err := store.Key(opts.Source, res.Name)
		if err != nil {
			return err
		}
		path, err := store.Ensure(ctx, key)
		if err != nil {
			return err
		}
		total += res.Bytes
		_, _ = fmt.Fprintf(w, "%s -> %s\n", res.Name, path)
	}
	_, _ = fmt.Fprintf(w, "%d resource(s), %s\n", len(resources), formatBytes(total))
	return nil
}

func newDatastoreListCommand() *cobra.Command {
	opts := &DatastoreOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the resources a source publishes",
		Long: `List the resources of one source, or of every known source, along
with their size, partition parts and cache status.`,
		Example: `  # Everything the eia860 release publishes
  gridetl datastore list --source eia860

  # All sources, without touching the network
  gridetl datastore list --cached-only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDatastoreList(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "Source to list (default: all)")
	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "Partition selector, e.g. year=2020")

	return cmd
}

func runDatastoreList(cmd *cobra.Command, opts *DatastoreOptions) error {
	cfg := getConfig(cmd)
	store, err := newDatastore(cfg, getLogger(cmd))
	if err != nil {
		return err
	}

	filter, err := datastore.ParseFilter(opts.Partition)
	if err != nil {
		return &UsageError{Err: err}
	}

	sources := []string{opts.Source}
	if opts.Source == "" {
		sources = store.KnownSources()
	}

	w := cmd.OutOrStdout()
	t := newTable(w)
	t.AppendHeader(table.Row{"SOURCE", "RESOURCE", "SIZE", "PARTS", "CACHED"})

	rows := 0
	for _, src := range sources {
		resources, err := store.ListAvailable(cmd.Context(), src, filter)
		if err != nil {
			return err
		}
		for _, res := range resources {
			key, err := store.Key(src, res.Name)
			if err != nil {
				return err
			}
			cached := "no"
			if _, err := os.Stat(store.Path(key)); err == nil {
				cached = "yes"
			}
			t.AppendRow(table.Row{src, res.Name, formatBytes(res.Bytes), formatParts(res.Parts), cached})
			rows++
		}
	}

	if rows == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", rows)
	return nil
}

func newDatastoreValidateCommand() *cobra.Command {
	opts := &DatastoreOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-hash cached archives against their published checksums",
		Long: `Verify every cached resource of a source against the checksum its
descriptor publishes. Nothing is fetched; resources that are not
cached are reported as such.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDatastoreValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "Source to validate (required)")
	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "Partition selector, e.g. year=2020")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runDatastoreValidate(cmd *cobra.Command, opts *DatastoreOptions) error {
	cfg := getConfig(cmd)
	store, err := newDatastore(cfg, getLogger(cmd))
	if err != nil {
		return err
	}

	filter, err := datastore.ParseFilter(opts.Partition)
	if err != nil {
		return &UsageError{Err: err}
	}

	results, err := store.ValidateCache(cmd.Context(), opts.Source, filter)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	t := newTable(w)
	t.AppendHeader(table.Row{"RESOURCE", "CACHED", "VALID"})

	corrupt, missing := 0, 0
	for _, r := range results {
		cached, valid := "yes", "yes"
		switch {
		case !r.Cached:
			cached, valid = "no", "-"
			missing++
		case !r.Valid:
			valid = "no"
			corrupt++
		}
		t.AppendRow(table.Row{r.Key.Name, cached, valid})
	}
	t.Render()

	if corrupt > 0 {
		return fmt.Errorf("%d cached resource(s) failed checksum validation", corrupt)
	}
	_, _ = fmt.Fprintf(w, "%d resource(s) valid, %d not cached\n", len(results)-missing, missing)
	return nil
}
