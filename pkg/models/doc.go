// Package models holds the value types that cross the CBOR boundary between
// the driver and an engine.
//
// Plain Go values (strings, numbers, bools, nil, []any, map[string]any) map
// onto CBOR directly. Everything SurrealDB expresses with a CBOR tag has a
// dedicated type here:
//
//	Tag  6  NONE            -> nil
//	Tag  7  Table           -> Table
//	Tag  8  RecordID        -> RecordID
//	Tag  9  UUID (string)   -> UUID
//	Tag 10  Decimal         -> Decimal
//	Tag 12  Datetime        -> Datetime
//	Tag 14  Duration        -> Duration
//	Tag 37  UUID (binary)   -> UUID
//
// Each type implements cbor.Marshaler and cbor.Unmarshaler so it encodes with
// its tag wherever it appears. Decoding into an empty interface yields
// cbor.Tag values; FromTag turns those back into the types above.
package models
