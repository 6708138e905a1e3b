package extract

import (
	"context"
	"fmt"
	"strings"
)

// censusExtractor reads the census DP1 tract archive: a single
// attribute-table CSV inside a zip. The member name tracks the
// geodatabase export it came from, so it is matched by suffix.
type censusExtractor struct{}

var _ Extractor = censusExtractor{}

func (censusExtractor) Source() string { return "censusdp1tract" }

func (censusExtractor) Tables() []string {
	return []string{"census_geographies"}
}

func (x censusExtractor) Extract(ctx context.Context, path string, part Partition, opts Options) (*RawTable, Stats, error) {
	if part.Table != "census_geographies" {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: fmt.Errorf("censusdp1tract does not feed table %s", part.Table)}
	}
	rc, err := zipMemberMatch(path, func(name string) bool {
		return strings.HasSuffix(name, ".csv")
	}, "*.csv")
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: err}
	}
	defer rc.Close()
	member := "*.csv"
	if zr, ok := rc.(*zipMemberReader); ok {
		member = zr.name
	}
	return readCSV(ctx, rc, part, csvSpec{member: member, policy: opts.policy(PolicyAbort)}, opts)
}
