package cli

import (
	"errors"

	"github.com/leapstack-labs/gridetl/internal/cli/commands"
	"github.com/leapstack-labs/gridetl/internal/datastore"
	"github.com/leapstack-labs/gridetl/internal/extract"
	"github.com/leapstack-labs/gridetl/internal/glue"
	"github.com/leapstack-labs/gridetl/internal/load"
	"github.com/leapstack-labs/gridetl/internal/transform"
	"github.com/leapstack-labs/gridetl/pkg/adapter"
)

// Exit codes, one per failure class, so CI jobs can tell a flaky
// download from bad source data or a broken destination.
const (
	ExitFailure = 1
	ExitUsage   = 2
	ExitFetch   = 3
	ExitData    = 4
	ExitLink    = 5
	ExitLoad    = 6
)

// exitCode classifies err by the stage that produced it. Joined errors
// take the class of the first stage that matches.
func exitCode(err error) int {
	var (
		usageErr     *commands.UsageError
		adapterErr   *adapter.UnknownAdapterError
		fetchErr     *datastore.FetchError
		checksumErr  *datastore.ChecksumError
		extractErr   *extract.ExtractionError
		schemaErr    *transform.SchemaError
		glueErr      *glue.GlueError
		integrityErr *load.IntegrityError
		loadErr      *load.LoadError
	)

	switch {
	case errors.As(err, &usageErr), errors.As(err, &adapterErr):
		return ExitUsage
	case errors.As(err, &fetchErr), errors.As(err, &checksumErr):
		return ExitFetch
	case errors.As(err, &extractErr), errors.As(err, &schemaErr):
		return ExitData
	case errors.As(err, &glueErr):
		return ExitLink
	case errors.As(err, &integrityErr), errors.As(err, &loadErr):
		return ExitLoad
	}
	return ExitFailure
}
