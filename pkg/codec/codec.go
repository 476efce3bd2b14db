// Package codec is the binary codec shared by the driver and the engines: it
// turns request and response values into CBOR and back.
//
// Encoding is deterministic (core deterministic map ordering), so equal values
// always produce equal bytes. Decoding into an empty interface produces
// map[string]any for objects, []any for arrays, int64 for integers that fit and
// the types from package models for tagged values.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/forgo/surrealembed/pkg/models"
)

// ErrDecode wraps every failure to turn bytes back into a value.
var ErrDecode = errors.New("cbor decode error")

// Codec serializes values to CBOR and back. It is safe for concurrent use.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var (
	defaultOnce  sync.Once
	defaultCodec *Codec
)

// New builds a codec with the SurrealDB encoding options.
func New() (*Codec, error) {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encOpts.TimeTag = cbor.EncTagRequired
	enc, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("build cbor encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: 256,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("build cbor decoder: %w", err)
	}

	return &Codec{enc: enc, dec: dec}, nil
}

// Default returns a process-wide codec.
func Default() *Codec {
	defaultOnce.Do(func() {
		c, err := New()
		if err != nil {
			panic(err)
		}
		defaultCodec = c
	})
	return defaultCodec
}

// Marshal encodes v.
func (c *Codec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Unmarshal decodes data into v. When v is *any the decoded tree is
// normalized (see Normalize).
func (c *Codec) Unmarshal(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if p, ok := v.(*any); ok {
		n, err := Normalize(*p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		*p = n
	}
	return nil
}

// Decode decodes data into a normalized value.
func (c *Codec) Decode(data []byte) (any, error) {
	var v any
	if err := c.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Normalize walks a freshly decoded value, converting known tags to model
// types and unsigned integers to int64 where they fit.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case uint64:
		if t <= 1<<63-1 {
			return int64(t), nil
		}
		return t, nil
	case []any:
		for i := range t {
			n, err := Normalize(t[i])
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case map[string]any:
		for k, item := range t {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case time.Time:
		return models.Datetime{Time: t}, nil
	case cbor.Tag:
		content, err := Normalize(t.Content)
		if err != nil {
			return nil, err
		}
		t.Content = content
		m, known, err := models.FromTag(t)
		if err != nil {
			return nil, err
		}
		if !known {
			return t, nil
		}
		return m, nil
	}
	return v, nil
}
