package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidRecordID is returned when a string cannot be parsed as table:id.
var ErrInvalidRecordID = errors.New("invalid record id")

// RecordID identifies one record: the table it lives in and its key. The key
// is usually a string or an int64 but may be any CBOR value.
type RecordID struct {
	Table string
	ID    any
}

// NewRecordID returns the record id table:id.
func NewRecordID(table string, id any) RecordID {
	return RecordID{Table: table, ID: id}
}

// ParseRecordID parses "table:id". Numeric keys become int64, keys wrapped in
// ⟨⟩ or backticks are taken verbatim.
func ParseRecordID(s string) (RecordID, error) {
	table, key, ok := strings.Cut(s, ":")
	if !ok || table == "" || key == "" {
		return RecordID{}, fmt.Errorf("%w: %q", ErrInvalidRecordID, s)
	}
	switch {
	case strings.HasPrefix(key, "⟨") && strings.HasSuffix(key, "⟩"):
		return RecordID{Table: table, ID: strings.TrimSuffix(strings.TrimPrefix(key, "⟨"), "⟩")}, nil
	case len(key) >= 2 && key[0] == '`' && key[len(key)-1] == '`':
		return RecordID{Table: table, ID: key[1 : len(key)-1]}, nil
	}
	if n, err := strconv.ParseInt(key, 10, 64); err == nil {
		return RecordID{Table: table, ID: n}, nil
	}
	return RecordID{Table: table, ID: key}, nil
}

// String renders the id the way SurrealQL prints it.
func (r RecordID) String() string {
	switch id := r.ID.(type) {
	case string:
		if isIdent(id) {
			return r.Table + ":" + id
		}
		return r.Table + ":⟨" + id + "⟩"
	case int, int64, uint64:
		return fmt.Sprintf("%s:%d", r.Table, id)
	default:
		return fmt.Sprintf("%s:%v", r.Table, id)
	}
}

// MarshalCBOR encodes the id as tag 8 wrapping [table, id].
func (r RecordID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagRecordID, Content: []any{r.Table, r.ID}})
}

// UnmarshalCBOR accepts both the array form and the legacy "table:id" string.
func (r *RecordID) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != TagRecordID {
		return fmt.Errorf("%w: unexpected tag %d", ErrInvalidRecordID, tag.Number)
	}
	id, err := recordIDFromContent(tag.Content)
	if err != nil {
		return err
	}
	*r = id
	return nil
}

// MarshalJSON renders the id as its string form.
func (r RecordID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(r.String())), nil
}

func recordIDFromContent(content any) (RecordID, error) {
	switch c := content.(type) {
	case string:
		return ParseRecordID(c)
	case []any:
		if len(c) != 2 {
			return RecordID{}, fmt.Errorf("%w: expected [table, id], got %d elements", ErrInvalidRecordID, len(c))
		}
		table, ok := c[0].(string)
		if !ok {
			return RecordID{}, fmt.Errorf("%w: table must be a string", ErrInvalidRecordID)
		}
		return RecordID{Table: table, ID: normalizeInt(c[1])}, nil
	default:
		return RecordID{}, fmt.Errorf("%w: unsupported content %T", ErrInvalidRecordID, content)
	}
}

func isIdent(s string) bool {
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

func normalizeInt(v any) any {
	if u, ok := v.(uint64); ok && u <= 1<<63-1 {
		return int64(u)
	}
	return v
}
