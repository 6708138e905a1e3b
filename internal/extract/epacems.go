package extract

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// epacemsExtractor reads one hourly emissions file: a gzipped CSV per
// year and state. Files run to millions of rows, so rows stream
// straight off the decompressor. Malformed rows are skipped by
// default; a handful per file is normal for this feed.
type epacemsExtractor struct{}

var _ Extractor = epacemsExtractor{}

func (epacemsExtractor) Source() string { return "epacems" }

func (epacemsExtractor) Tables() []string {
	return []string{"hourly_emissions_epacems"}
}

func (x epacemsExtractor) Extract(ctx context.Context, path string, part Partition, opts Options) (*RawTable, Stats, error) {
	if part.Table != "hourly_emissions_epacems" {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: fmt.Errorf("epacems does not feed table %s", part.Table)}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: err}
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: fmt.Errorf("opening gzip stream: %w", err)}
	}
	defer gz.Close()
	member := filepath.Base(path)
	return readCSV(ctx, gz, part, csvSpec{member: member, policy: opts.policy(PolicySkip)}, opts)
}
