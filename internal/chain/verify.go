package chain

import (
	"fmt"

	"github.com/jmerrifield20/auditchain/internal/digest"
)

// Verify replays records from genesis with the default algorithm.
func Verify(records []Record) error {
	return VerifyWith(digest.Default, records)
}

// VerifyWith replays records, which must be one chain in position order,
// recomputing every link from the predecessor's stored hash. It stops at the
// first position that does not check out and returns an *IntegrityError for
// it. An empty slice is a valid empty chain.
func VerifyWith(alg digest.Algorithm, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	chain := records[0].Chain
	prev := GenesisHash

	for i := range records {
		r := &records[i]
		pos := int64(i)
		fail := func(reason, expected, actual string) error {
			return &IntegrityError{Chain: chain, Position: pos, Reason: reason, Expected: expected, Actual: actual}
		}

		if r.Position != pos {
			return fail("position out of sequence", fmt.Sprint(pos), fmt.Sprint(r.Position))
		}
		if r.Chain != chain {
			return fail("record belongs to another chain", chain, r.Chain)
		}
		if r.PreviousHash != prev {
			return fail("previousHash does not match predecessor", prev, r.PreviousHash)
		}
		if want := LinkHash(alg, r.Content, r.PreviousHash); r.Hash != want {
			return fail("hash does not match content", want, r.Hash)
		}
		prev = r.Hash
	}
	return nil
}
