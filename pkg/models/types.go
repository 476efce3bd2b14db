package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CBOR tag numbers used by the SurrealDB wire format.
const (
	TagSpecDatetime   = 0
	TagNone           = 6
	TagTable          = 7
	TagRecordID       = 8
	TagStringUUID     = 9
	TagStringDecimal  = 10
	TagCustomDatetime = 12
	TagStringDuration = 13
	TagCustomDuration = 14
	TagSpecBinaryUUID = 37
)

var errUnexpectedTag = errors.New("unexpected cbor tag")

// Table names a table, as opposed to a plain string.
type Table string

// MarshalCBOR encodes the table as tag 7.
func (t Table) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagTable, Content: string(t)})
}

// UnmarshalCBOR decodes tag 7.
func (t *Table) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	name, ok := tag.Content.(string)
	if tag.Number != TagTable || !ok {
		return fmt.Errorf("%w: %d", errUnexpectedTag, tag.Number)
	}
	*t = Table(name)
	return nil
}

// Decimal is an arbitrary precision number, carried as a string on the wire.
type Decimal struct {
	decimal.Decimal
}

// NewDecimal parses s as a decimal.
func NewDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Decimal: d}, nil
}

// MarshalCBOR encodes the decimal as tag 10.
func (d Decimal) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagStringDecimal, Content: d.String()})
}

// UnmarshalCBOR decodes tag 10.
func (d *Decimal) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	s, ok := tag.Content.(string)
	if tag.Number != TagStringDecimal || !ok {
		return fmt.Errorf("%w: %d", errUnexpectedTag, tag.Number)
	}
	parsed, err := NewDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UUID wraps uuid.UUID so that it travels as tag 37.
type UUID struct {
	uuid.UUID
}

// NewUUID returns a random (v4) UUID.
func NewUUID() UUID {
	return UUID{UUID: uuid.New()}
}

// MarshalCBOR encodes the uuid as tag 37 wrapping its 16 bytes.
func (u UUID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagSpecBinaryUUID, Content: u.UUID[:]})
}

// UnmarshalCBOR decodes tag 37 (bytes) or tag 9 (string).
func (u *UUID) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := uuidFromTag(tag)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Datetime is a point in time, encoded as [seconds, nanoseconds].
type Datetime struct {
	time.Time
}

// MarshalCBOR encodes the datetime as tag 12.
func (d Datetime) MarshalCBOR() ([]byte, error) {
	t := d.UTC()
	return cbor.Marshal(cbor.Tag{Number: TagCustomDatetime, Content: []int64{t.Unix(), int64(t.Nanosecond())}})
}

// UnmarshalCBOR decodes tag 12 or tag 0.
func (d *Datetime) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := datetimeFromTag(tag)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Duration is a span of time, encoded as [seconds, nanoseconds].
type Duration struct {
	time.Duration
}

// MarshalCBOR encodes the duration as tag 14.
func (d Duration) MarshalCBOR() ([]byte, error) {
	secs := int64(d.Duration / time.Second)
	nanos := int64(d.Duration % time.Second)
	return cbor.Marshal(cbor.Tag{Number: TagCustomDuration, Content: []int64{secs, nanos}})
}

// UnmarshalCBOR decodes tag 14 or tag 13.
func (d *Duration) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := durationFromTag(tag)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON renders the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// FromTag converts a decoded tag into its model type. The second return value
// is false for tags this package does not know, which callers keep as-is.
func FromTag(tag cbor.Tag) (any, bool, error) {
	switch tag.Number {
	case TagNone:
		return nil, true, nil
	case TagTable:
		name, ok := tag.Content.(string)
		if !ok {
			return nil, true, fmt.Errorf("%w: table content %T", errUnexpectedTag, tag.Content)
		}
		return Table(name), true, nil
	case TagRecordID:
		id, err := recordIDFromContent(tag.Content)
		return id, true, err
	case TagStringUUID, TagSpecBinaryUUID:
		u, err := uuidFromTag(tag)
		return u, true, err
	case TagStringDecimal:
		s, ok := tag.Content.(string)
		if !ok {
			return nil, true, fmt.Errorf("%w: decimal content %T", errUnexpectedTag, tag.Content)
		}
		d, err := NewDecimal(s)
		return d, true, err
	case TagSpecDatetime, TagCustomDatetime:
		d, err := datetimeFromTag(tag)
		return d, true, err
	case TagStringDuration, TagCustomDuration:
		d, err := durationFromTag(tag)
		return d, true, err
	}
	return nil, false, nil
}

func uuidFromTag(tag cbor.Tag) (UUID, error) {
	switch c := tag.Content.(type) {
	case []byte:
		u, err := uuid.FromBytes(c)
		return UUID{UUID: u}, err
	case string:
		u, err := uuid.Parse(c)
		return UUID{UUID: u}, err
	}
	return UUID{}, fmt.Errorf("%w: uuid content %T", errUnexpectedTag, tag.Content)
}

func datetimeFromTag(tag cbor.Tag) (Datetime, error) {
	switch c := tag.Content.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, c)
		return Datetime{Time: t}, err
	case []any:
		secs, nanos, err := pair(c)
		if err != nil {
			return Datetime{}, err
		}
		return Datetime{Time: time.Unix(secs, nanos).UTC()}, nil
	}
	return Datetime{}, fmt.Errorf("%w: datetime content %T", errUnexpectedTag, tag.Content)
}

func durationFromTag(tag cbor.Tag) (Duration, error) {
	switch c := tag.Content.(type) {
	case string:
		d, err := time.ParseDuration(c)
		return Duration{Duration: d}, err
	case []any:
		secs, nanos, err := pair(c)
		if err != nil {
			return Duration{}, err
		}
		return Duration{Duration: time.Duration(secs)*time.Second + time.Duration(nanos)}, nil
	}
	return Duration{}, fmt.Errorf("%w: duration content %T", errUnexpectedTag, tag.Content)
}

// pair reads the [seconds, nanoseconds] content of tags 12 and 14. Either
// element may be omitted, in which case it is zero.
func pair(c []any) (int64, int64, error) {
	var out [2]int64
	for i := 0; i < len(c) && i < 2; i++ {
		switch n := c[i].(type) {
		case uint64:
			out[i] = int64(n)
		case int64:
			out[i] = n
		default:
			return 0, 0, fmt.Errorf("%w: expected integer, got %T", errUnexpectedTag, c[i])
		}
	}
	return out[0], out[1], nil
}
