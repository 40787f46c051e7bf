// Package attest signs chain exports so a holder of the shared secret can
// confirm an export was produced by this service and not edited afterwards.
package attest

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmerrifield20/auditchain/internal/chain"
)

// DefaultIssuer is the "iss" claim used when none is configured.
const DefaultIssuer = "auditchain"

// ErrMismatch is returned when a valid token describes a different export.
var ErrMismatch = errors.New("attest: token does not match export")

// Claims bind a token to one export.
type Claims struct {
	jwt.RegisteredClaims
	Chain      string `json:"chain"`
	Head       string `json:"head"`
	Length     int64  `json:"length"`
	Algorithm  string `json:"alg_name"`
	ExportHash string `json:"export_hash"`
}

// Signer issues and checks HS256 attestation tokens. Attestations do not
// expire; the export hash they carry is the thing being vouched for.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner returns a Signer keyed by secret. An empty issuer uses DefaultIssuer.
func NewSigner(secret []byte, issuer string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("attest: secret must be at least 16 bytes")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Signer{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Sign implements chain.Attestor.
func (s *Signer) Sign(x *chain.Export) (string, error) {
	if x.ExportHash == "" {
		return "", fmt.Errorf("sign attestation: export hash not computed")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  x.Chain,
			IssuedAt: jwt.NewNumericDate(s.now().UTC()),
			ID:       uuid.New().String(),
		},
		Chain:      x.Chain,
		Head:       x.Head,
		Length:     x.Length,
		Algorithm:  string(x.Algorithm),
		ExportHash: x.ExportHash,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign attestation: %w", err)
	}
	return signed, nil
}

// Parse validates token and returns its claims without comparing them to an export.
func (s *Signer) Parse(token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(
		token,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("verify attestation: %w", err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid attestation claims")
	}
	return claims, nil
}

// Verify checks x.Attestation and that it names x's chain, head, length,
// algorithm and export hash. It does not replay the chain; call
// chain.VerifyExport for that.
func (s *Signer) Verify(x *chain.Export) (*Claims, error) {
	if x.Attestation == "" {
		return nil, fmt.Errorf("verify attestation: export is not attested")
	}
	claims, err := s.Parse(x.Attestation)
	if err != nil {
		return nil, err
	}
	switch {
	case claims.Chain != x.Chain:
		return nil, fmt.Errorf("%w: chain %q, export has %q", ErrMismatch, claims.Chain, x.Chain)
	case claims.Head != x.Head:
		return nil, fmt.Errorf("%w: head %s, export has %s", ErrMismatch, claims.Head, x.Head)
	case claims.Length != x.Length:
		return nil, fmt.Errorf("%w: length %d, export has %d", ErrMismatch, claims.Length, x.Length)
	case claims.Algorithm != string(x.Algorithm):
		return nil, fmt.Errorf("%w: algorithm %s, export has %s", ErrMismatch, claims.Algorithm, x.Algorithm)
	case claims.ExportHash != x.ExportHash:
		return nil, fmt.Errorf("%w: export hash %s, export has %s", ErrMismatch, claims.ExportHash, x.ExportHash)
	}
	return claims, nil
}
