// Package digest computes domain-separated 256-bit digests over framed byte
// sequences.
//
// Every part is written with a big-endian uint64 length prefix after a
// domain tag and a part count, so ("ab", "c") and ("a", "bc") never collide
// the way naive concatenation would.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm names a 256-bit hash function.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// Default is the algorithm used when none is configured.
const Default = SHA256

// HexLen is the length of a hex-encoded digest.
const HexLen = 64

// Zero is the all-zero hex digest. No real input hashes to it.
var Zero = strings.Repeat("0", HexLen)

// Parse resolves a configured algorithm name. The empty string selects Default.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case SHA3_256:
		return SHA3_256, nil
	case BLAKE2b256:
		return BLAKE2b256, nil
	}
	return "", fmt.Errorf("unsupported hash algorithm %q", name)
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA3_256:
		return sha3.New256()
	case BLAKE2b256:
		// Only a key longer than 64 bytes makes New256 fail.
		h, _ := blake2b.New256(nil)
		return h
	default:
		return sha256.New()
	}
}

// Sum frames domain and parts and returns the lowercase hex digest.
func (a Algorithm) Sum(domain string, parts ...[]byte) string {
	h := a.New()
	Frame(h, domain, parts...)
	return hex.EncodeToString(h.Sum(nil))
}

// Frame writes the unambiguous encoding of domain and parts to w.
func Frame(w io.Writer, domain string, parts ...[]byte) {
	var n [8]byte
	put := func(b []byte) {
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		w.Write(n[:]) //nolint:errcheck
		w.Write(b)    //nolint:errcheck
	}
	put([]byte(domain))
	binary.BigEndian.PutUint64(n[:], uint64(len(parts)))
	w.Write(n[:]) //nolint:errcheck
	for _, p := range parts {
		put(p)
	}
}

// IsHex reports whether s looks like a digest: HexLen lowercase hex characters.
func IsHex(s string) bool {
	if len(s) != HexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
