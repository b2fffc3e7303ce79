package sqldb

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Date is a value read from a DATE column. It renders without a clock part.
type Date struct {
	time.Time
}

// FormatRows renders rows as a list of tuples. Empty input renders as "".
func FormatRows(rows [][]any) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(formatTuple(row))
	}
	b.WriteByte(']')
	return b.String()
}

func formatTuple(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = FormatValue(v)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// FormatValue renders a single scanned value as a Python literal.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return formatFloat(t)
	case string:
		return quote(truncate(t))
	case []byte:
		return "b" + quote(truncate(string(t)))
	case Date:
		return quote(t.Format("2006-01-02"))
	case time.Time:
		return quote(t.Format("2006-01-02 15:04:05"))
	default:
		return quote(truncate(asString(t)))
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	// Same switch-over points as Python's float repr.
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// truncate cuts strings longer than maxStringLength characters on a word
// boundary and appends "...".
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxStringLength {
		return s
	}
	const suffix = "..."
	cut := string([]rune(s)[:maxStringLength-len(suffix)])
	if i := strings.LastIndex(cut, " "); i >= 0 {
		cut = cut[:i]
	}
	return cut + suffix
}

// quote mimics Python's repr for str: single quotes unless the value holds a
// single quote and no double quote.
func quote(s string) string {
	q := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}
