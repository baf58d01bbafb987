// Package fingerprint memoizes step results keyed by a deterministic hash of
// the step's fully-resolved inputs
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Compute returns the fingerprint of a step invocation. Equal inputs by
// value always produce equal fingerprints: the hash is taken over the
// canonical JSON encoding, which orders map keys deterministically.
func Compute(step string, inputs ...interface{}) (string, error) {
	h := sha256.New()
	h.Write([]byte(step))
	h.Write([]byte{0})

	for _, input := range inputs {
		data, err := json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("failed to encode step input: %w", err)
		}

		h.Write(data)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
