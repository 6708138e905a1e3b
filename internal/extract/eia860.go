package extract

import (
	"context"
	"fmt"
)

// eia860Extractor reads the per-year EIA-860 archive: zipped CSV
// exports of the utility and plant workbooks with one preamble row
// above the header. Column names drift year to year; the normalizer's
// column maps absorb that.
type eia860Extractor struct{}

var _ Extractor = eia860Extractor{}

func (eia860Extractor) Source() string { return "eia860" }

func (eia860Extractor) Tables() []string {
	return []string{"utilities_eia860", "plants_eia860"}
}

func (x eia860Extractor) Extract(ctx context.Context, path string, part Partition, opts Options) (*RawTable, Stats, error) {
	var member string
	switch part.Table {
	case "utilities_eia860":
		member = fmt.Sprintf("1___Utility_Y%d.csv", part.Year)
	case "plants_eia860":
		member = fmt.Sprintf("2___Plant_Y%d.csv", part.Year)
	default:
		return nil, Stats{}, &ExtractionError{Partition: part, Err: fmt.Errorf("eia860 does not feed table %s", part.Table)}
	}
	rc, err := zipMember(path, member)
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: err}
	}
	defer rc.Close()
	return readCSV(ctx, rc, part, csvSpec{member: member, skipRows: 1, policy: opts.policy(PolicyAbort)}, opts)
}
