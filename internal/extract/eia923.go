package extract

import (
	"context"
	"fmt"
)

// eia923 archives hold several schedule tables as separate CSV members
// under a shared five-row banner preamble.
var eia923Members = map[string]string{
	"generation_fuel_eia923": "gen_fuel.csv",
	"fuel_receipts_eia923":   "fuel_receipts.csv",
}

const eia923SkipRows = 5

type eia923Extractor struct{}

var _ Extractor = eia923Extractor{}

func (eia923Extractor) Source() string { return "eia923" }

func (eia923Extractor) Tables() []string {
	return []string{"generation_fuel_eia923", "fuel_receipts_eia923"}
}

func (x eia923Extractor) Extract(ctx context.Context, path string, part Partition, opts Options) (*RawTable, Stats, error) {
	member, ok := eia923Members[part.Table]
	if !ok {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: fmt.Errorf("eia923 does not feed table %s", part.Table)}
	}
	rc, err := zipMember(path, member)
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: err}
	}
	defer rc.Close()
	return readCSV(ctx, rc, part, csvSpec{member: member, skipRows: eia923SkipRows, policy: opts.policy(PolicyAbort)}, opts)
}
