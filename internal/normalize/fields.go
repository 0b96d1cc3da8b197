package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-insights/internal/domain"
)

var separatorRun = regexp.MustCompile(`[\s-]+`)

// normalizeToken trims, lowercases and collapses whitespace/hyphen runs into "_".
func normalizeToken(v any) string {
	s, ok := stringValue(v)
	if !ok {
		return ""
	}
	return separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
}

// stringValue renders scalar values as text. nil and composite values are not strings.
func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case *string:
		if x == nil {
			return "", false
		}
		return *x, true
	case fmt.Stringer:
		return x.String(), true
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x), true
	}
	return "", false
}

// numberValue converts v to a finite float64. Blank and non-numeric strings are rejected.
func numberValue(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case *float64:
		if x == nil {
			return 0, false
		}
		f = *x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case *big.Rat:
		// BigQuery NUMERIC and BIGNUMERIC columns
		if x == nil {
			return 0, false
		}
		f, _ = x.Float64()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// firstPresent returns the first non-nil value among fields.
func firstPresent(raw domain.RawRecord, fields []string) (any, bool) {
	for _, f := range fields {
		if v, ok := raw[f]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// firstNumber returns the first field holding a finite number.
func firstNumber(raw domain.RawRecord, fields []string) (float64, bool) {
	for _, f := range fields {
		if n, ok := numberValue(raw[f]); ok {
			return n, true
		}
	}
	return 0, false
}

// firstLabel returns the first non-blank text value among fields.
func firstLabel(raw domain.RawRecord, fields []string) *string {
	for _, f := range fields {
		s, ok := stringValue(raw[f])
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		return &s
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999 MST",
	"2006-01-02",
}

// timeValue interprets v as an instant. Zoneless values are read in loc.
func timeValue(v any, loc *time.Location) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, false
		}
		return *x, true
	case civil.Date:
		if !x.IsValid() {
			return time.Time{}, false
		}
		return x.In(loc), true
	case civil.DateTime:
		if !x.IsValid() {
			return time.Time{}, false
		}
		return x.In(loc), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	}
	// Bare numbers are unix milliseconds.
	if ms, ok := numberValue(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

// firstTime returns the first field that parses as an instant.
func firstTime(raw domain.RawRecord, fields []string, loc *time.Location) (time.Time, bool) {
	for _, f := range fields {
		if t, ok := timeValue(raw[f], loc); ok {
			return t, true
		}
	}
	return time.Time{}, false
}
