package cache

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint computes the stable cache key: a blake2b sum over normalized
// text, verbosity, resolution strategy, and consensus algorithm, so two
// requests with identical effective inputs always collapse to one entry.
func Fingerprint(normalizedText, verbosity, resolutionStrategy, consensusAlgorithm string) string {
	h := blake2b.Sum256([]byte(strings.Join([]string{
		normalizedText, verbosity, resolutionStrategy, consensusAlgorithm,
	}, "\x1f")))
	return hex.EncodeToString(h[:])
}
