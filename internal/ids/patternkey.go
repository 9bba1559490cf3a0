package ids

import (
	"math"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// PatternKeyLen is the number of embedding dimensions folded into a
// candidate-grouping key during federation.
const PatternKeyLen = 8

// PatternKey is an 8-byte quantization of a pattern's leading embedding
// dimensions, used to group near-identical patterns across shards by exact
// key match (spec.md §4.11 step 2); no cosine comparison follows.
type PatternKey [PatternKeyLen]byte

// QuantizeKey computes the pattern key for v. Dimensions beyond the first
// PatternKeyLen are ignored; a vector shorter than PatternKeyLen pads the
// remaining bytes with the quantization of 0.
func QuantizeKey(v pattern.Vector) PatternKey {
	var key PatternKey
	for i := 0; i < PatternKeyLen; i++ {
		var x float64
		if i < len(v) {
			x = float64(v[i])
		}
		q := math.Round((x + 1) * 127.5)
		if q < 0 {
			q = 0
		}
		if q > 255 {
			q = 255
		}
		key[i] = byte(q)
	}
	return key
}
