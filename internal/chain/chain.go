// Package chain implements per-chain hash-linked record streams.
//
// Every record commits to its canonical content and to the hash of its
// predecessor; the first record of a chain links to GenesisHash (64 hex
// zeros). Appends are serialised per chain by a compare-and-swap on the
// chain head held by a Store, so two writers racing against the same head
// can never fork a chain. Corrections patch a record's Current fields and
// leave its Hash and PreviousHash untouched, so an amended chain still
// verifies from genesis.
//
// Three Store implementations are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
//   - SQLStore: database/sql over SQLite, for single-node deployments.
package chain

import (
	"strings"
	"time"

	"github.com/jmerrifield20/auditchain/internal/canonical"
	"github.com/jmerrifield20/auditchain/internal/digest"
)

// GenesisHash is the previous hash of the first record in every chain. No
// real content hashes to it.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// LinkDomain separates chain link digests from every other digest.
const LinkDomain = "auditchain/link/v1"

// Record is one link in a chain.
type Record struct {
	ID       string `json:"id"`
	Chain    string `json:"chain"`
	Position int64  `json:"position"`

	// Content is the business payload as given at creation. It is the only
	// input to Hash besides PreviousHash and never changes.
	Content canonical.Node `json:"content"`

	// Current starts equal to Content and carries every later correction.
	Current canonical.Node `json:"current"`

	Hash         string     `json:"hash"`
	PreviousHash string     `json:"previousHash"`
	EditCount    int        `json:"editCount"`
	EditedAt     *time.Time `json:"editedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (r *Record) clone() *Record {
	cp := *r
	if r.EditedAt != nil {
		t := *r.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}

// Head is the register a Store keeps per chain: the hash of the last record
// and the number of records. An empty chain has head {GenesisHash, 0}.
type Head struct {
	Hash   string `json:"hash"`
	Length int64  `json:"length"`
}

// GenesisHead is the head of a chain with no records.
var GenesisHead = Head{Hash: GenesisHash}

// ChainHead names a chain together with its head.
type ChainHead struct {
	Chain string `json:"chain"`
	Head
}

// Key builds a chain key from its parts, e.g.
// Key("attendance", "tenant-T", "session-S") == "attendance/tenant-T/session-S".
// Empty parts are skipped.
func Key(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// LinkHash computes the stored hash of a record with the given content and
// predecessor hash.
func LinkHash(alg digest.Algorithm, content canonical.Node, previousHash string) string {
	return alg.Sum(LinkDomain, canonical.Marshal(content), []byte(previousHash))
}
