package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// fixedField is one column of a fixed-width record, as half-open byte
// offsets into the undecoded Latin-1 line.
type fixedField struct {
	name  string
	start int
	end   int
}

// fixedLayout describes one revision of a fixed-width file. A revision
// applies from its first report year until a later revision starts.
type fixedLayout struct {
	from   int
	member string
	fields []fixedField
}

// FERC widened the name fields in the 2010 filing software refresh.
var ferc1Layouts = map[string][]fixedLayout{
	"utilities_ferc1": {
		{
			from:   1994,
			member: "f1_respondent.txt",
			fields: []fixedField{
				{"respondent_id", 0, 6},
				{"respondent_name", 6, 46},
				{"state", 46, 48},
			},
		},
		{
			from:   2010,
			member: "f1_respondent.txt",
			fields: []fixedField{
				{"respondent_id", 0, 6},
				{"respondent_name", 6, 66},
				{"state", 66, 68},
			},
		},
	},
	"plants_steam_ferc1": {
		{
			from:   1994,
			member: "f1_steam.txt",
			fields: []fixedField{
				{"respondent_id", 0, 6},
				{"plant_name", 6, 36},
				{"tot_capacity", 36, 48},
				{"net_generation", 48, 64},
			},
		},
		{
			from:   2010,
			member: "f1_steam.txt",
			fields: []fixedField{
				{"respondent_id", 0, 6},
				{"plant_name", 6, 46},
				{"tot_capacity", 46, 58},
				{"net_generation", 58, 74},
			},
		},
	},
}

// ferc1Extractor reads the per-year FERC Form 1 archive: a zip of
// fixed-width Latin-1 text files, one per form schedule.
type ferc1Extractor struct{}

var _ Extractor = ferc1Extractor{}

func (ferc1Extractor) Source() string { return "ferc1" }

func (ferc1Extractor) Tables() []string {
	return []string{"utilities_ferc1", "plants_steam_ferc1"}
}

func (x ferc1Extractor) Extract(ctx context.Context, path string, part Partition, opts Options) (*RawTable, Stats, error) {
	layout, err := ferc1LayoutFor(part.Table, part.Year)
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: err}
	}
	rc, err := zipMember(path, layout.member)
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Err: err}
	}
	defer rc.Close()
	return readFixed(ctx, rc, part, layout, opts)
}

func ferc1LayoutFor(table string, year int) (fixedLayout, error) {
	revs, ok := ferc1Layouts[table]
	if !ok {
		return fixedLayout{}, fmt.Errorf("ferc1 does not feed table %s", table)
	}
	best := -1
	for i, rev := range revs {
		if year >= rev.from {
			best = i
		}
	}
	if best < 0 {
		return fixedLayout{}, fmt.Errorf("no %s record layout covers year %d", table, year)
	}
	return revs[best], nil
}

func readFixed(ctx context.Context, r io.Reader, part Partition, layout fixedLayout, opts Options) (*RawTable, Stats, error) {
	rt := &RawTable{Columns: make([]string, len(layout.fields))}
	for i, f := range layout.fields {
		rt.Columns[i] = f.name
	}
	minLen := layout.fields[len(layout.fields)-1].end
	policy := opts.policy(PolicyAbort)
	logger := opts.logger()
	decoder := charmap.ISO8859_1.NewDecoder()

	var stats Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	row := 0
	for sc.Scan() {
		row++
		if row%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			// page breaks between record blocks
			continue
		}
		if len(line) < minLen {
			bad := fmt.Errorf("record is %d bytes, layout needs %d", len(line), minLen)
			if policy == PolicyAbort {
				return nil, stats, &ExtractionError{Partition: part, Member: layout.member, Row: row, Err: bad}
			}
			stats.Skipped++
			logger.Warn("skipping malformed row",
				"partition", part.String(), "member", layout.member, "row", row, "error", bad)
			continue
		}
		cells := make([]string, len(layout.fields))
		decodeErr := error(nil)
		for i, f := range layout.fields {
			cell, err := decoder.Bytes(line[f.start:f.end])
			if err != nil {
				decodeErr = fmt.Errorf("decoding field %s: %w", f.name, err)
				break
			}
			cells[i] = strings.TrimSpace(string(cell))
		}
		if decodeErr != nil {
			if policy == PolicyAbort {
				return nil, stats, &ExtractionError{Partition: part, Member: layout.member, Row: row, Err: decodeErr}
			}
			stats.Skipped++
			logger.Warn("skipping malformed row",
				"partition", part.String(), "member", layout.member, "row", row, "error", decodeErr)
			continue
		}
		if cells[0] == "" {
			// page footer artifacts carry a blank id field
			stats.Skipped++
			logger.Debug("skipping footer artifact",
				"partition", part.String(), "member", layout.member, "row", row)
			continue
		}
		rt.Rows = append(rt.Rows, cells)
		stats.Rows++
	}
	if err := sc.Err(); err != nil {
		return nil, stats, &ExtractionError{Partition: part, Member: layout.member, Err: err}
	}
	return rt, stats, nil
}
