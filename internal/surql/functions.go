package surql

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgo/surrealembed/pkg/models"
)

// function implements one SurrealQL function. Arguments arrive normalized.
type function func(env *Env, args []any) (any, error)

// Functions returns the names of every built-in function, sorted.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var functions map[string]function

func init() {
	functions = map[string]function{
		"count": fnCount,

		"string::len":         str1(func(s string) any { return int64(utf8.RuneCountInString(s)) }),
		"string::lowercase":   str1(func(s string) any { return strings.ToLower(s) }),
		"string::uppercase":   str1(func(s string) any { return strings.ToUpper(s) }),
		"string::trim":        str1(func(s string) any { return strings.TrimSpace(s) }),
		"string::reverse":     str1(reverseString),
		"string::concat":      fnConcat,
		"string::contains":    str2(func(a, b string) any { return strings.Contains(a, b) }),
		"string::starts_with": str2(func(a, b string) any { return strings.HasPrefix(a, b) }),
		"string::ends_with":   str2(func(a, b string) any { return strings.HasSuffix(a, b) }),
		"string::split":       str2(splitString),
		"string::join":        fnJoin,
		"string::replace":     fnReplace,
		"string::repeat":      fnRepeat,

		"array::len":      arr1(func(a []any) any { return int64(len(a)) }),
		"array::distinct": arr1(distinct),
		"array::first":    arr1(func(a []any) any { return elem(a, 0) }),
		"array::last":     arr1(func(a []any) any { return elem(a, len(a)-1) }),
		"array::flatten":  arr1(flatten),
		"array::reverse":  arr1(reverseArray),
		"array::sort":     arr1(sortArray),
		"array::append":   fnAppend,
		"array::includes": fnIncludes,

		"math::abs":   num1(math.Abs, absInt),
		"math::ceil":  num1(math.Ceil, nil),
		"math::floor": num1(math.Floor, nil),
		"math::round": num1(math.Round, nil),
		"math::sqrt":  fnSqrt,
		"math::pow":   fnPow,
		"math::max":   arr1(func(a []any) any { return extreme(a, 1) }),
		"math::min":   arr1(func(a []any) any { return extreme(a, -1) }),
		"math::sum":   arr1(sum),
		"math::mean":  arr1(mean),

		"type::thing":    fnThing,
		"type::table":    str1(func(s string) any { return models.Table(s) }),
		"type::string":   fnString,
		"type::int":      fnInt,
		"type::float":    fnFloat,
		"type::bool":     fnBool,
		"type::datetime": fnDatetime,
		"type::decimal":  fnDecimal,

		"time::now":  func(env *Env, _ []any) (any, error) { return models.Datetime{Time: env.now().UTC()}, nil },
		"time::unix": fnUnix,

		"rand":           func(*Env, []any) (any, error) { return mrand.Float64(), nil },
		"rand::float":    fnRandFloat,
		"rand::int":      fnRandInt,
		"rand::uuid":     func(*Env, []any) (any, error) { return models.UUID{UUID: uuid.New()}, nil },
		"rand::uuid::v4": func(*Env, []any) (any, error) { return models.UUID{UUID: uuid.New()}, nil },
		"rand::uuid::v7": fnUUIDv7,

		"crypto::sha256":           str1(sha256Hex),
		"crypto::bcrypt::generate": fnBcryptGenerate,
		"crypto::bcrypt::compare":  fnBcryptCompare,
		"crypto::argon2::generate": fnArgon2Generate,
		"crypto::argon2::compare":  fnArgon2Compare,

		"meta::id":   fnMetaID,
		"meta::tb":   fnMetaTable,
		"record::id": fnMetaID,
		"record::tb": fnMetaTable,

		"session::ns": func(env *Env, _ []any) (any, error) { return orNone(env.NS), nil },
		"session::db": func(env *Env, _ []any) (any, error) { return orNone(env.DB), nil },
	}
}

// helpers back literal syntax and are never subject to capabilities.
var helpers = map[string]interface{}{
	"__rid": func(tb string, id interface{}) interface{} {
		return models.NewRecordID(tb, Normalize(id))
	},
	"__rid_parse": func(s string) interface{} {
		id, err := models.ParseRecordID(s)
		if err != nil {
			panic(err)
		}
		return id
	},
	"__datetime": func(s string) interface{} {
		t, err := parseTime(s)
		if err != nil {
			panic(err)
		}
		return t
	},
	"__uuid": func(s string) interface{} {
		u, err := uuid.Parse(s)
		if err != nil {
			panic(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		}
		return models.UUID{UUID: u}
	},
	"__duration": func(s string) interface{} {
		d, err := ParseDuration(s)
		if err != nil {
			panic(err)
		}
		return d
	},
	"__decimal": func(s string) interface{} {
		d, err := models.NewDecimal(s)
		if err != nil {
			panic(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		}
		return d
	},
}

func orNone(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func argc(args []any, min, max int) error {
	if len(args) < min || max >= 0 && len(args) > max {
		if min == max {
			return fmt.Errorf("%w: expected %d arguments, got %d", ErrInvalidArgument, min, len(args))
		}
		return fmt.Errorf("%w: expected %d to %d arguments, got %d", ErrInvalidArgument, min, max, len(args))
	}
	return nil
}

func argString(args []any, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d must be a string, got %T", ErrInvalidArgument, i+1, args[i])
	}
	return s, nil
}

func argArray(args []any, i int) ([]any, error) {
	a, ok := args[i].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: argument %d must be an array, got %T", ErrInvalidArgument, i+1, args[i])
	}
	return a, nil
}

func argInt(args []any, i int) (int64, error) {
	switch n := args[i].(type) {
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	}
	return 0, fmt.Errorf("%w: argument %d must be an integer, got %T", ErrInvalidArgument, i+1, args[i])
}

func argFloat(args []any, i int) (float64, error) {
	if f, ok := toFloat(args[i]); ok {
		return f, nil
	}
	return 0, fmt.Errorf("%w: argument %d must be a number, got %T", ErrInvalidArgument, i+1, args[i])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case models.Decimal:
		f, _ := n.Float64()
		return f, true
	}
	return 0, false
}

func str1(fn func(string) any) function {
	return func(_ *Env, args []any) (any, error) {
		if err := argc(args, 1, 1); err != nil {
			return nil, err
		}
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func str2(fn func(a, b string) any) function {
	return func(_ *Env, args []any) (any, error) {
		if err := argc(args, 2, 2); err != nil {
			return nil, err
		}
		a, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		b, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		return fn(a, b), nil
	}
}

func arr1(fn func([]any) any) function {
	return func(_ *Env, args []any) (any, error) {
		if err := argc(args, 1, 1); err != nil {
			return nil, err
		}
		a, err := argArray(args, 0)
		if err != nil {
			return nil, err
		}
		return fn(a), nil
	}
}

// num1 applies f to a number. Integers go through i when it is set and are
// otherwise returned unchanged.
func num1(f func(float64) float64, i func(int64) int64) function {
	return func(_ *Env, args []any) (any, error) {
		if err := argc(args, 1, 1); err != nil {
			return nil, err
		}
		if n, ok := args[0].(int64); ok {
			if i != nil {
				return i(n), nil
			}
			return n, nil
		}
		x, err := argFloat(args, 0)
		if err != nil {
			return nil, err
		}
		return f(x), nil
	}
}

func fnSqrt(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	x, err := argFloat(args, 0)
	if err != nil {
		return nil, err
	}
	return math.Sqrt(x), nil
}

func absInt(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// =============================================================================
// Counting and strings
// =============================================================================

func fnCount(env *Env, args []any) (any, error) {
	if err := argc(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		if env.Group != nil {
			return int64(len(env.Group)), nil
		}
		return int64(1), nil
	}
	if a, ok := args[0].([]any); ok {
		var n int64
		for _, item := range a {
			if Truthy(item) {
				n++
			}
		}
		return n, nil
	}
	if Truthy(args[0]) {
		return int64(1), nil
	}
	return int64(0), nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case models.Datetime:
		return t.UTC().Format(time.RFC3339Nano)
	case models.Duration:
		return FormatDuration(t.Duration)
	case models.UUID:
		return t.String()
	case models.Decimal:
		return t.String()
	case models.RecordID:
		return t.String()
	case []any, map[string]any:
		return Literal(t)
	}
	return fmt.Sprint(v)
}

func fnConcat(_ *Env, args []any) (any, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(toString(a))
	}
	return b.String(), nil
}

func fnJoin(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, -1); err != nil {
		return nil, err
	}
	sep, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		parts = append(parts, toString(a))
	}
	return strings.Join(parts, sep), nil
}

func fnReplace(_ *Env, args []any) (any, error) {
	if err := argc(args, 3, 3); err != nil {
		return nil, err
	}
	var s [3]string
	for i := range s {
		v, err := argString(args, i)
		if err != nil {
			return nil, err
		}
		s[i] = v
	}
	return strings.ReplaceAll(s[0], s[1], s[2]), nil
}

func fnRepeat(_ *Env, args []any) (any, error) {
	if err := argc(args, 2, 2); err != nil {
		return nil, err
	}
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	n, err := argInt(args, 1)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: repeat count must be a non-negative integer", ErrInvalidArgument)
	}
	return strings.Repeat(s, int(n)), nil
}

func reverseString(s string) any {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func splitString(s, sep string) any {
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

// =============================================================================
// Arrays and math
// =============================================================================

func elem(a []any, i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

func distinct(a []any) any {
	out := make([]any, 0, len(a))
	for _, item := range a {
		seen := false
		for _, o := range out {
			if Compare(o, item) == 0 {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, item)
		}
	}
	return out
}

func flatten(a []any) any {
	out := make([]any, 0, len(a))
	for _, item := range a {
		if inner, ok := item.([]any); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, item)
	}
	return out
}

func reverseArray(a []any) any {
	out := make([]any, len(a))
	for i, item := range a {
		out[len(a)-1-i] = item
	}
	return out
}

func sortArray(a []any) any {
	out := append([]any(nil), a...)
	sort.SliceStable(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}

func fnAppend(_ *Env, args []any) (any, error) {
	if err := argc(args, 2, 2); err != nil {
		return nil, err
	}
	a, err := argArray(args, 0)
	if err != nil {
		return nil, err
	}
	return append(append([]any(nil), a...), args[1]), nil
}

func fnIncludes(_ *Env, args []any) (any, error) {
	if err := argc(args, 2, 2); err != nil {
		return nil, err
	}
	a, err := argArray(args, 0)
	if err != nil {
		return nil, err
	}
	for _, item := range a {
		if Compare(item, args[1]) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func fnPow(_ *Env, args []any) (any, error) {
	if err := argc(args, 2, 2); err != nil {
		return nil, err
	}
	x, err := argFloat(args, 0)
	if err != nil {
		return nil, err
	}
	y, err := argFloat(args, 1)
	if err != nil {
		return nil, err
	}
	out := math.Pow(x, y)
	_, xi := args[0].(int64)
	_, yi := args[1].(int64)
	if xi && yi && out == math.Trunc(out) && math.Abs(out) < 1<<63 {
		return int64(out), nil
	}
	return out, nil
}

func extreme(a []any, sign int) any {
	var best any
	for _, item := range a {
		if _, ok := toFloat(item); !ok {
			continue
		}
		if best == nil || Compare(item, best)*sign > 0 {
			best = item
		}
	}
	return best
}

func sum(a []any) any {
	var (
		ints   int64
		floats float64
		float  bool
	)
	for _, item := range a {
		switch n := item.(type) {
		case int64:
			ints += n
		case float64, models.Decimal:
			f, _ := toFloat(n)
			floats += f
			float = true
		}
	}
	if float {
		return floats + float64(ints)
	}
	return ints
}

func mean(a []any) any {
	var (
		total float64
		n     int
	)
	for _, item := range a {
		if f, ok := toFloat(item); ok {
			total += f
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return total / float64(n)
}

// =============================================================================
// Types and time
// =============================================================================

func fnThing(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 2); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		switch v := args[0].(type) {
		case models.RecordID:
			return v, nil
		case string:
			id, err := models.ParseRecordID(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			return id, nil
		}
		return nil, fmt.Errorf("%w: cannot convert %T to a record id", ErrInvalidArgument, args[0])
	}
	var tb string
	switch v := args[0].(type) {
	case string:
		tb = v
	case models.Table:
		tb = string(v)
	default:
		return nil, fmt.Errorf("%w: table must be a string, got %T", ErrInvalidArgument, args[0])
	}
	if id, ok := args[1].(models.RecordID); ok {
		if id.Table != tb {
			return nil, fmt.Errorf("%w: record %s is not in table %s", ErrInvalidArgument, id, tb)
		}
		return id, nil
	}
	if args[1] == nil {
		return nil, fmt.Errorf("%w: record id key must not be NONE", ErrInvalidArgument)
	}
	return models.NewRecordID(tb, args[1]), nil
}

func fnString(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	return toString(args[0]), nil
}

func fnInt(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case models.Decimal:
		return v.IntPart(), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		var n int64
		if _, err := fmt.Sscan(strings.TrimSpace(v), &n); err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidArgument, v)
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T to int", ErrInvalidArgument, args[0])
}

func fnFloat(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	if f, ok := toFloat(args[0]); ok {
		return f, nil
	}
	if s, ok := args[0].(string); ok {
		var f float64
		if _, err := fmt.Sscan(strings.TrimSpace(s), &f); err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidArgument, s)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T to float", ErrInvalidArgument, args[0])
}

func fnBool(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	if s, ok := args[0].(string); ok {
		switch strings.ToLower(s) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a bool", ErrInvalidArgument, s)
	}
	return Truthy(args[0]), nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a datetime", ErrInvalidArgument, s)
}

func fnDatetime(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case models.Datetime:
		return v, nil
	case string:
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		return models.Datetime{Time: t}, nil
	case int64:
		return models.Datetime{Time: time.Unix(v, 0).UTC()}, nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T to datetime", ErrInvalidArgument, args[0])
}

func fnDecimal(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case models.Decimal:
		return v, nil
	case string:
		d, err := models.NewDecimal(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a decimal", ErrInvalidArgument, v)
		}
		return d, nil
	case int64, float64:
		return models.Decimal{Decimal: toDecimal(v)}, nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T to decimal", ErrInvalidArgument, args[0])
}

func fnUnix(env *Env, args []any) (any, error) {
	if err := argc(args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return env.now().Unix(), nil
	}
	d, ok := args[0].(models.Datetime)
	if !ok {
		return nil, fmt.Errorf("%w: argument 1 must be a datetime, got %T", ErrInvalidArgument, args[0])
	}
	return d.Unix(), nil
}

// =============================================================================
// Random values
// =============================================================================

func fnRandFloat(_ *Env, args []any) (any, error) {
	if err := argc(args, 0, 2); err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return mrand.Float64(), nil
	}
	lo, err := argFloat(args, 0)
	if err != nil {
		return nil, err
	}
	hi, err := argFloat(args, 1)
	if err != nil {
		return nil, err
	}
	return lo + mrand.Float64()*(hi-lo), nil
}

func fnRandInt(_ *Env, args []any) (any, error) {
	if err := argc(args, 0, 2); err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return mrand.Int64(), nil
	}
	lo, err := argInt(args, 0)
	if err != nil {
		return nil, err
	}
	hi, err := argInt(args, 1)
	if err != nil {
		return nil, err
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + mrand.Int64N(hi-lo+1), nil
}

func fnUUIDv7(*Env, []any) (any, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return models.UUID{UUID: u}, nil
}

// =============================================================================
// Crypto
// =============================================================================

func sha256Hex(s string) any {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fnBcryptGenerate(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	pw, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return string(hash), nil
}

func fnBcryptCompare(_ *Env, args []any) (any, error) {
	if err := argc(args, 2, 2); err != nil {
		return nil, err
	}
	hash, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	pw, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil, nil
}

const (
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

func fnArgon2Generate(_ *Env, args []any) (any, error) {
	if err := argc(args, 1, 1); err != nil {
		return nil, err
	}
	pw, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(pw), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key)), nil
}

func fnArgon2Compare(_ *Env, args []any) (any, error) {
	if err := argc(args, 2, 2); err != nil {
		return nil, err
	}
	hash, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	pw, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, nil
	}
	var (
		memory, iterations uint32
		threads            uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, nil
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, nil
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, nil
	}
	got := argon2.IDKey([]byte(pw), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// =============================================================================
// Records
// =============================================================================

func argRecord(args []any) (models.RecordID, error) {
	if err := argc(args, 1, 1); err != nil {
		return models.RecordID{}, err
	}
	id, ok := args[0].(models.RecordID)
	if !ok {
		return models.RecordID{}, fmt.Errorf("%w: argument 1 must be a record id, got %T", ErrInvalidArgument, args[0])
	}
	return id, nil
}

func fnMetaID(_ *Env, args []any) (any, error) {
	id, err := argRecord(args)
	if err != nil {
		return nil, err
	}
	return id.ID, nil
}

func fnMetaTable(_ *Env, args []any) (any, error) {
	id, err := argRecord(args)
	if err != nil {
		return nil, err
	}
	return id.Table, nil
}
