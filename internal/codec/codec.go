// Package codec implements the wire encoding of spec.md §4.6: a stable
// gob encoding wrapped in zstd, used both for device→server Delta pushes
// and server→device Globals responses. gob is the teacher's corpus's
// binary serialization idiom (see liliang-cn-sqvect's index snapshot
// encoder); zstd is not demonstrated elsewhere in the corpus but is the
// library the spec names directly, so it is adopted as-is rather than
// hand-rolled.
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/exogenesis-omega/constellation/internal/errs"
	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// MaxDeltaCompressed bounds an accepted compressed Delta payload.
const MaxDeltaCompressed = 2 * 1024

// MaxGlobalCompressed bounds an accepted compressed Globals payload.
const MaxGlobalCompressed = 10 * 1024

// DeltaLevel and GlobalLevel are the zstd compression levels spec.md §4.6
// assigns to each payload kind.
var (
	DeltaLevel  = zstd.SpeedDefault            // level 3
	GlobalLevel = zstd.EncoderLevelFromZstd(5) // level 5
)

// EncodeDelta serializes and compresses a Delta at zstd level 3, rejecting
// the result if it exceeds MaxDeltaCompressed (spec.md §8: callers must
// reduce the delta, e.g. by raising the quality threshold, and retry).
func EncodeDelta(d pattern.Delta) ([]byte, error) {
	b, err := encode(d, DeltaLevel)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxDeltaCompressed {
		return nil, fmt.Errorf("encoded delta %d bytes exceeds %d limit: %w", len(b), MaxDeltaCompressed, errs.ErrCompressionLimit)
	}
	return b, nil
}

// DecodeDelta decompresses and deserializes a Delta, rejecting inputs
// larger than MaxDeltaCompressed before attempting to decode them.
func DecodeDelta(b []byte) (pattern.Delta, error) {
	var d pattern.Delta
	if len(b) > MaxDeltaCompressed {
		return d, fmt.Errorf("delta payload %d bytes exceeds %d limit: %w", len(b), MaxDeltaCompressed, errs.ErrCompressionLimit)
	}
	err := decode(b, &d)
	return d, err
}

// EncodeGlobals serializes and compresses a Globals response at zstd
// level 5.
func EncodeGlobals(g pattern.Globals) ([]byte, error) {
	return encode(g, GlobalLevel)
}

// DecodeGlobals decompresses and deserializes a Globals response,
// rejecting inputs larger than MaxGlobalCompressed before decoding.
func DecodeGlobals(b []byte) (pattern.Globals, error) {
	var g pattern.Globals
	if len(b) > MaxGlobalCompressed {
		return g, fmt.Errorf("globals payload %d bytes exceeds %d limit: %w", len(b), MaxGlobalCompressed, errs.ErrCompressionLimit)
	}
	err := decode(b, &g)
	return g, err
}

func encode(v any, level zstd.EncoderLevel) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(v); err != nil {
		return nil, fmt.Errorf("codec: gob encode: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("codec: new zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

func decode(b []byte, v any) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("codec: new zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return fmt.Errorf("codec: zstd decompress: %w: %w", err, errs.ErrProtocolError)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return fmt.Errorf("codec: gob decode: %w: %w", err, errs.ErrProtocolError)
	}
	return nil
}
