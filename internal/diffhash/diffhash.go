// Package diffhash digests before/after state transitions.
package diffhash

import (
	"github.com/jmerrifield20/auditchain/internal/canonical"
	"github.com/jmerrifield20/auditchain/internal/digest"
)

// Domain tags every diff digest so it can never be confused with a chain link.
const Domain = "auditchain/diff/v1"

// Hasher computes diff hashes with a fixed algorithm.
type Hasher struct {
	alg digest.Algorithm
}

// New returns a Hasher using alg. The zero Algorithm selects digest.Default.
func New(alg digest.Algorithm) Hasher {
	if alg == "" {
		alg = digest.Default
	}
	return Hasher{alg: alg}
}

// Algorithm reports the hash function in use.
func (h Hasher) Algorithm() digest.Algorithm {
	if h.alg == "" {
		return digest.Default
	}
	return h.alg
}

// Compute returns the hex digest of the transition before -> after. Either
// side may be nil for a create or delete; nil and an explicit JSON null are
// the same state.
func (h Hasher) Compute(before, after any) string {
	return h.Algorithm().Sum(Domain,
		canonical.Encode(before),
		canonical.Encode(after),
	)
}

// Compute hashes with the default algorithm.
func Compute(before, after any) string {
	return Hasher{}.Compute(before, after)
}
