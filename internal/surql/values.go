package surql

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forgo/surrealembed/pkg/models"
)

// Normalize converts a value produced by an expression into the value model
// used on the wire: int64 for integers, float64 for floats and the types of
// package models for datetimes, durations, uuids and decimals.
func Normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return t
	case float32:
		return float64(t)
	case time.Time:
		return models.Datetime{Time: t.UTC()}
	case time.Duration:
		return models.Duration{Duration: t}
	case uuid.UUID:
		return models.UUID{UUID: t}
	case decimal.Decimal:
		return models.Decimal{Decimal: t}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	}
	return v
}

// toEnv converts model values into the forms expr-lang can compare and do
// arithmetic on.
func toEnv(v any) any {
	switch t := v.(type) {
	case models.Datetime:
		return t.Time
	case models.Duration:
		return t.Duration
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toEnv(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = toEnv(item)
		}
		return out
	}
	return v
}

// Truthy reports whether v counts as true in a WHERE clause.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case models.Decimal:
		return !t.IsZero()
	case models.Duration:
		return t.Duration != 0
	}
	return true
}

// typeRank orders values of different types: none, bool, number, string,
// duration, datetime, uuid, array, object, record id, anything else.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64, models.Decimal:
		return 2
	case string:
		return 3
	case models.Duration:
		return 4
	case models.Datetime:
		return 5
	case models.UUID:
		return 6
	case []any:
		return 7
	case map[string]any:
		return 8
	case models.RecordID:
		return 9
	}
	return 10
}

// Compare orders two normalized values. Values of different types order by
// type; numbers compare numerically regardless of representation.
func Compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int64, float64, models.Decimal:
		if xi, ok := x.(int64); ok {
			if yi, ok := b.(int64); ok {
				return cmpInt(xi, yi)
			}
		}
		return toDecimal(a).Cmp(toDecimal(b))
	case string:
		return strings.Compare(x, b.(string))
	case models.Duration:
		return cmpInt(int64(x.Duration), int64(b.(models.Duration).Duration))
	case models.Datetime:
		return x.Compare(b.(models.Datetime).Time)
	case models.UUID:
		y := b.(models.UUID)
		return bytes.Compare(x.UUID[:], y.UUID[:])
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(x)), int64(len(y)))
	case map[string]any:
		y := b.(map[string]any)
		return strings.Compare(fmt.Sprint(sortedPairs(x)), fmt.Sprint(sortedPairs(y)))
	case models.RecordID:
		y := b.(models.RecordID)
		if c := strings.Compare(x.Table, y.Table); c != 0 {
			return c
		}
		return Compare(x.ID, y.ID)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortedPairs(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case int64:
		return decimal.NewFromInt(t)
	case float64:
		return decimal.NewFromFloat(t)
	case models.Decimal:
		return t.Decimal
	}
	return decimal.Zero
}

// GetField reads a dotted path such as address.city from doc.
func GetField(doc map[string]any, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// SetField writes value at a dotted path, creating intermediate objects.
func SetField(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if value == nil {
		delete(cur, last)
		return
	}
	cur[last] = value
}

// ParseDuration parses a SurrealQL duration such as 1h30m, 2w or 150ms.
// A year is 365 days.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrParse)
	}
	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("%w: invalid duration %q", ErrParse, s)
		}
		n, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid duration %q", ErrParse, s)
		}
		unit := durationUnit(rest[i:])
		if unit == "" {
			return 0, fmt.Errorf("%w: invalid duration unit in %q", ErrParse, s)
		}
		total += time.Duration(n) * unitSize[unit]
		rest = rest[i+len(unit):]
	}
	return total, nil
}

var unitSize = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

// FormatDuration renders d the way SurrealQL prints durations, largest unit
// first.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0ns"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, unit := range []string{"y", "w", "d", "h", "m", "s", "ms", "µs", "ns"} {
		size := unitSize[unit]
		if d >= size {
			fmt.Fprintf(&b, "%d%s", d/size, unit)
			d %= size
		}
	}
	return b.String()
}

// Literal renders v as SurrealQL source.
func Literal(v any) string {
	switch t := Normalize(v).(type) {
	case nil:
		return "NONE"
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += "f"
		}
		return s
	case string:
		return quote(t)
	case models.Decimal:
		return t.String() + "dec"
	case models.Duration:
		return FormatDuration(t.Duration)
	case models.Datetime:
		return "d" + quote(t.UTC().Format(time.RFC3339Nano))
	case models.UUID:
		return "u" + quote(t.String())
	case models.Table:
		return string(t)
	case models.RecordID:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = Literal(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			key := k
			if !isPlainIdent(k) {
				key = quote(k)
			}
			parts[i] = key + ": " + Literal(t[k])
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	}
	return quote(fmt.Sprint(v))
}

func quote(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
