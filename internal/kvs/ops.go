package kvs

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgo/surrealembed/internal/surql"
	"github.com/forgo/surrealembed/pkg/models"
)

// increment implements SET field += value.
func increment(cur, v any) (any, error) {
	switch c := cur.(type) {
	case nil:
		return v, nil
	case []any:
		if add, ok := v.([]any); ok {
			return append(append([]any{}, c...), add...), nil
		}
		return append(append([]any{}, c...), v), nil
	case string:
		if s, ok := v.(string); ok {
			return c + s, nil
		}
	case models.Duration:
		if d, ok := v.(models.Duration); ok {
			return models.Duration{Duration: c.Duration + d.Duration}, nil
		}
	case models.Datetime:
		if d, ok := v.(models.Duration); ok {
			return models.Datetime{Time: c.Time.Add(d.Duration)}, nil
		}
	}
	if n, ok := arith(cur, v, 1); ok {
		return n, nil
	}
	return nil, fmt.Errorf("cannot add %s to %s", surql.Literal(v), surql.Literal(cur))
}

// decrement implements SET field -= value. Arrays lose every element equal
// to value, or to any element of value when it is an array.
func decrement(cur, v any) (any, error) {
	switch c := cur.(type) {
	case nil:
		if n, ok := arith(int64(0), v, -1); ok {
			return n, nil
		}
		return nil, nil
	case []any:
		drop := []any{v}
		if arr, ok := v.([]any); ok {
			drop = arr
		}
		out := []any{}
	next:
		for _, item := range c {
			for _, d := range drop {
				if surql.Compare(item, d) == 0 {
					continue next
				}
			}
			out = append(out, item)
		}
		return out, nil
	case models.Duration:
		if d, ok := v.(models.Duration); ok {
			return models.Duration{Duration: c.Duration - d.Duration}, nil
		}
	case models.Datetime:
		if d, ok := v.(models.Duration); ok {
			return models.Datetime{Time: c.Time.Add(-d.Duration)}, nil
		}
	}
	if n, ok := arith(cur, v, -1); ok {
		return n, nil
	}
	return nil, fmt.Errorf("cannot subtract %s from %s", surql.Literal(v), surql.Literal(cur))
}

// arith adds sign*b to a. Integers stay integers, decimals win over floats.
func arith(a, b any, sign int64) (any, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x + sign*y, true
		case float64:
			return float64(x) + float64(sign)*y, true
		case models.Decimal:
			return arithDecimal(models.Decimal{Decimal: decimal.NewFromInt(x)}, y, sign), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return x + float64(sign*y), true
		case float64:
			return x + float64(sign)*y, true
		case models.Decimal:
			return arithDecimal(models.Decimal{Decimal: decimal.NewFromFloat(x)}, y, sign), true
		}
	case models.Decimal:
		switch y := b.(type) {
		case int64:
			return arithDecimal(x, models.Decimal{Decimal: decimal.NewFromInt(y)}, sign), true
		case float64:
			return arithDecimal(x, models.Decimal{Decimal: decimal.NewFromFloat(y)}, sign), true
		case models.Decimal:
			return arithDecimal(x, y, sign), true
		}
	}
	return nil, false
}

func arithDecimal(a, b models.Decimal, sign int64) models.Decimal {
	if sign < 0 {
		return models.Decimal{Decimal: a.Sub(b.Decimal)}
	}
	return models.Decimal{Decimal: a.Add(b.Decimal)}
}

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomKey returns a 20 character record key, as CREATE tb picks.
func randomKey() string {
	b := make([]byte, 20)
	for i := range b {
		b[i] = keyAlphabet[mrand.IntN(len(keyAlphabet))]
	}
	return string(b)
}

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// entropy feeds the random part of generated ULIDs.
var entropy io.Reader = rand.Reader

// newULID returns a ULID for now: a 48-bit millisecond timestamp and 80
// random bits in Crockford base32.
func newULID(now time.Time, src io.Reader) (string, error) {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(now.UnixMilli())<<16)
	if _, err := io.ReadFull(src, raw[6:]); err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}

	out := make([]byte, 26)
	// 128 bits encode as 26 groups of 5, the first group holding 3 bits.
	hi := binary.BigEndian.Uint64(raw[:8])
	lo := binary.BigEndian.Uint64(raw[8:])
	for i := 25; i >= 0; i-- {
		out[i] = crockford[lo&0x1f]
		lo = lo>>5 | hi<<59
		hi >>= 5
	}
	return string(out), nil
}
