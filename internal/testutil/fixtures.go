package testutil

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

// Zip builds an in-memory zip archive, members in sorted name order.
func Zip(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(members[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Gzip compresses content.
func Gzip(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

// Latin1 encodes UTF-8 text as ISO 8859-1 bytes.
func Latin1(t *testing.T, s string) []byte {
	t.Helper()
	out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return out
}

// FixedRow left-aligns each cell into its width. Widths are in
// encoded bytes, which for Latin-1 text equals the rune count.
func FixedRow(t *testing.T, widths []int, cells ...string) string {
	t.Helper()
	require.Equal(t, len(widths), len(cells), "cell count")
	var b strings.Builder
	for i, cell := range cells {
		n := utf8.RuneCountInString(cell)
		require.LessOrEqual(t, n, widths[i], "cell %q overflows width %d", cell, widths[i])
		b.WriteString(cell)
		b.WriteString(strings.Repeat(" ", widths[i]-n))
	}
	return b.String()
}

// WriteFile drops data into dir and returns the full path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
