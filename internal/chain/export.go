package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/jmerrifield20/auditchain/internal/canonical"
	"github.com/jmerrifield20/auditchain/internal/digest"
)

// ExportDomain separates export digests from every other digest.
const ExportDomain = "auditchain/export/v1"

// Export is a self-contained, independently verifiable copy of one chain.
type Export struct {
	Chain       string           `json:"chain"`
	Algorithm   digest.Algorithm `json:"algorithm"`
	GenesisHash string           `json:"genesisHash"`
	Head        string           `json:"head"`
	Length      int64            `json:"length"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Records     []Record         `json:"records"`

	// ExportHash covers every field above except GeneratedAt.
	ExportHash string `json:"exportHash"`

	// Attestation is an optional signed token over the chain, head, length
	// and export hash.
	Attestation string `json:"attestation,omitempty"`
}

// Hash computes the export hash of x from its current fields.
func (x *Export) Hash() (string, error) {
	alg, err := digest.Parse(string(x.Algorithm))
	if err != nil {
		return "", err
	}
	body := canonical.Encode(map[string]any{
		"chain":       x.Chain,
		"algorithm":   string(alg),
		"genesisHash": x.GenesisHash,
		"head":        x.Head,
		"length":      x.Length,
		"records":     x.Records,
	})
	return alg.Sum(ExportDomain, body), nil
}

// Export builds a verifiable export of chain. A chain that fails
// verification is not exported.
func (l *Ledger) Export(ctx context.Context, chain string) (*Export, error) {
	if err := l.VerifyChain(ctx, chain); err != nil {
		return nil, fmt.Errorf("export chain %q: %w", chain, err)
	}
	records, err := l.store.List(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("export chain %q: %w", chain, err)
	}

	x := &Export{
		Chain:       chain,
		Algorithm:   l.alg,
		GenesisHash: GenesisHash,
		Head:        GenesisHash,
		Length:      int64(len(records)),
		GeneratedAt: l.now().UTC(),
		Records:     records,
	}
	if n := len(records); n > 0 {
		x.Head = records[n-1].Hash
	}
	if x.ExportHash, err = x.Hash(); err != nil {
		return nil, fmt.Errorf("export chain %q: %w", chain, err)
	}
	if l.attestor != nil {
		if x.Attestation, err = l.attestor.Sign(x); err != nil {
			return nil, fmt.Errorf("attest export %q: %w", chain, err)
		}
	}
	return x, nil
}

// VerifyExport re-verifies an export without access to the store: the chain
// replay, the head and length summary and the export hash.
func VerifyExport(x *Export) error {
	alg, err := digest.Parse(string(x.Algorithm))
	if err != nil {
		return fmt.Errorf("verify export: %w", err)
	}
	if x.GenesisHash != GenesisHash {
		return &IntegrityError{Chain: x.Chain, Reason: "unexpected genesis hash", Expected: GenesisHash, Actual: x.GenesisHash}
	}
	if len(x.Records) > 0 && x.Records[0].Chain != x.Chain {
		return &IntegrityError{Chain: x.Chain, Reason: "records belong to another chain", Expected: x.Chain, Actual: x.Records[0].Chain}
	}
	if err := VerifyWith(alg, x.Records); err != nil {
		return err
	}
	if err := checkHead(x.Chain, x.Records, Head{Hash: x.Head, Length: x.Length}); err != nil {
		return err
	}
	want, err := x.Hash()
	if err != nil {
		return fmt.Errorf("verify export: %w", err)
	}
	if want != x.ExportHash {
		return &IntegrityError{
			Chain:    x.Chain,
			Position: x.Length,
			Reason:   "export hash does not match contents",
			Expected: want,
			Actual:   x.ExportHash,
		}
	}
	return nil
}
