package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/gridetl/internal/schema"
)

// dateLayouts are tried in order. The unambiguous forms come first so
// ISO dates never fall through to the US layouts.
var dateLayouts = []string{"2006-01-02", "20060102", "01-02-2006", "01/02/2006"}

// coerce turns one raw cell into its canonical value. Empty cells are
// the null sentinel, not an error; required-ness is the caller's
// concern.
func coerce(cell string, col schema.Column, cats map[string]string) (any, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil, nil
	}
	switch col.Kind {
	case schema.KindInteger:
		n, err := strconv.ParseInt(stripCommas(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as integer", s)
		}
		return n, nil
	case schema.KindDecimal:
		f, err := strconv.ParseFloat(stripCommas(s), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as decimal", s)
		}
		return roundTo(f, col.Scale), nil
	case schema.KindText:
		return s, nil
	case schema.KindDate:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as date", s)
	case schema.KindBool:
		return parseBool(s)
	case schema.KindCategory:
		v := s
		if cats != nil {
			mapped, ok := cats[s]
			if !ok {
				return nil, fmt.Errorf("unmapped category code %q", s)
			}
			v = mapped
		}
		if !col.InEnum(v) {
			return nil, fmt.Errorf("value %q is not in the %s category", v, col.Name)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported column kind %s", col.Kind)
}

func parseBool(s string) (any, error) {
	switch strings.ToUpper(s) {
	case "Y", "YES", "TRUE", "T", "1":
		return true, nil
	case "N", "NO", "FALSE", "F", "0":
		return false, nil
	}
	return nil, fmt.Errorf("cannot parse %q as bool", s)
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

// roundTo keeps scale fractional digits. This is the declared decimal
// conversion, applied on every decimal write path.
func roundTo(f float64, scale int) float64 {
	p := math.Pow10(scale)
	return math.Round(f*p) / p
}

// compareValues orders canonical values of one column. Nulls sort
// first; mixed types never happen within a column.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch av := a.(type) {
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case time.Time:
		return av.Compare(b.(time.Time))
	}
	return 0
}

// valueKey renders a canonical value for key building and logs.
func valueKey(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case time.Time:
		return tv.Format("2006-01-02")
	}
	return fmt.Sprintf("%v", v)
}
