package extract

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// csvSpec locates one CSV stream inside a source archive.
type csvSpec struct {
	member string
	// skipRows is the count of preamble rows above the header.
	skipRows int
	policy   RowPolicy
}

// readCSV parses a header-led CSV stream. Row counts in errors and
// logs are 1-based data row ordinals below the header.
func readCSV(ctx context.Context, r io.Reader, part Partition, spec csvSpec, opts Options) (*RawTable, Stats, error) {
	cr := csv.NewReader(r)
	// Field counts are enforced here, not by the reader, so the row
	// policy can decide what a short row does.
	cr.FieldsPerRecord = -1

	for i := 0; i < spec.skipRows; i++ {
		if _, err := cr.Read(); err != nil {
			return nil, Stats{}, &ExtractionError{Partition: part, Member: spec.member, Err: fmt.Errorf("reading preamble: %w", err)}
		}
	}
	header, err := cr.Read()
	if err != nil {
		return nil, Stats{}, &ExtractionError{Partition: part, Member: spec.member, Err: fmt.Errorf("reading header: %w", err)}
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rt := &RawTable{Columns: header}
	var stats Stats
	logger := opts.logger()
	row := 0
	for {
		row++
		if row%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		bad := err
		if bad == nil && len(rec) != len(header) {
			bad = fmt.Errorf("expected %d fields, got %d", len(header), len(rec))
		}
		if bad != nil {
			if spec.policy == PolicyAbort {
				return nil, stats, &ExtractionError{Partition: part, Member: spec.member, Row: row, Err: bad}
			}
			stats.Skipped++
			logger.Warn("skipping malformed row",
				"partition", part.String(), "member", spec.member, "row", row, "error", bad)
			continue
		}
		rt.Rows = append(rt.Rows, rec)
		stats.Rows++
	}
	return rt, stats, nil
}

// zipMember opens the named member of the archive at path. Closing the
// returned reader closes the archive.
func zipMember(path, member string) (io.ReadCloser, error) {
	return zipMemberMatch(path, func(name string) bool { return name == member }, member)
}

// zipMemberMatch opens the first member accepted by match, smallest
// name first so repeated runs pick the same one.
func zipMemberMatch(path string, match func(string) bool, desc string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	var names []string
	for _, f := range zr.File {
		if match(f.Name) {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		zr.Close()
		return nil, fmt.Errorf("archive member %s not found", desc)
	}
	sort.Strings(names)
	for _, f := range zr.File {
		if f.Name == names[0] {
			rc, err := f.Open()
			if err != nil {
				zr.Close()
				return nil, fmt.Errorf("opening member %s: %w", f.Name, err)
			}
			return &zipMemberReader{name: f.Name, rc: rc, zr: zr}, nil
		}
	}
	zr.Close()
	return nil, fmt.Errorf("archive member %s not found", desc)
}

type zipMemberReader struct {
	name string
	rc   io.ReadCloser
	zr   *zip.ReadCloser
}

func (r *zipMemberReader) Read(p []byte) (int, error) {
	return r.rc.Read(p)
}

func (r *zipMemberReader) Close() error {
	err := r.rc.Close()
	if cerr := r.zr.Close(); err == nil {
		err = cerr
	}
	return err
}
