package extract

import (
	"context"
	"fmt"
	"sort"
)

// Extractor parses one source's cached archives. Implementations are
// pure: no network, no shared mutable state, same bytes in, same rows
// out.
type Extractor interface {
	Source() string
	// Tables lists the canonical tables this source feeds.
	Tables() []string
	// Extract parses the partition's table out of the archive at path.
	Extract(ctx context.Context, path string, part Partition, opts Options) (*RawTable, Stats, error)
}

// For returns the extractor for a source id. The set is fixed at
// compile time.
func For(source string) (Extractor, error) {
	switch source {
	case "ferc1":
		return ferc1Extractor{}, nil
	case "eia860":
		return eia860Extractor{}, nil
	case "eia923":
		return eia923Extractor{}, nil
	case "epacems":
		return epacemsExtractor{}, nil
	case "censusdp1tract":
		return censusExtractor{}, nil
	}
	return nil, fmt.Errorf("no extractor for source %q", source)
}

// Sources returns the extractable source ids, sorted.
func Sources() []string {
	out := []string{"ferc1", "eia860", "eia923", "epacems", "censusdp1tract"}
	sort.Strings(out)
	return out
}
