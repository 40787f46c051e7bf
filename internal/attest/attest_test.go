package attest_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/attest"
	"github.com/jmerrifield20/auditchain/internal/chain"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newSigner(t *testing.T) *attest.Signer {
	t.Helper()
	s, err := attest.NewSigner(secret, "https://audit.example.test")
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}
	return s
}

func attestedExport(t *testing.T, s *attest.Signer) *chain.Export {
	t.Helper()
	ctx := context.Background()
	l := chain.NewLedger(chain.NewMemoryStore(), nil, zap.NewNop())
	l.SetAttestor(s)
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, "grades/T/S", map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	x, err := l.Export(ctx, "grades/T/S")
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	return x
}

func TestNewSigner_shortSecret(t *testing.T) {
	if _, err := attest.NewSigner([]byte("short"), ""); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestSigner_roundTrip(t *testing.T) {
	s := newSigner(t)
	x := attestedExport(t, s)

	if parts := strings.Split(x.Attestation, "."); len(parts) != 3 {
		t.Fatalf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := s.Verify(x)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Chain != "grades/T/S" {
		t.Errorf("Chain: got %q", claims.Chain)
	}
	if claims.Length != 3 {
		t.Errorf("Length: got %d, want 3", claims.Length)
	}
	if claims.ExportHash != x.ExportHash {
		t.Errorf("ExportHash: got %q, want %q", claims.ExportHash, x.ExportHash)
	}
	if claims.Issuer != "https://audit.example.test" {
		t.Errorf("Issuer: got %q", claims.Issuer)
	}
}

func TestSigner_detectsSwappedExport(t *testing.T) {
	s := newSigner(t)
	x := attestedExport(t, s)

	x.ExportHash = strings.Repeat("0", 64)
	_, err := s.Verify(x)
	if !errors.Is(err, attest.ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestSigner_detectsTruncatedExport(t *testing.T) {
	s := newSigner(t)
	x := attestedExport(t, s)

	x.Length--
	_, err := s.Verify(x)
	if !errors.Is(err, attest.ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestSigner_wrongSecret(t *testing.T) {
	x := attestedExport(t, newSigner(t))

	other, err := attest.NewSigner([]byte("fedcba9876543210fedcba9876543210"), "https://audit.example.test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(x); err == nil {
		t.Fatal("expected signature error with a different secret")
	}
}

func TestSigner_wrongIssuer(t *testing.T) {
	x := attestedExport(t, newSigner(t))

	other, err := attest.NewSigner(secret, "someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(x); err == nil {
		t.Fatal("expected issuer error")
	}
}

func TestSigner_unattested(t *testing.T) {
	s := newSigner(t)
	x := attestedExport(t, s)
	x.Attestation = ""
	if _, err := s.Verify(x); err == nil {
		t.Fatal("expected error for export without attestation")
	}
}

func TestSigner_requiresExportHash(t *testing.T) {
	s := newSigner(t)
	if _, err := s.Sign(&chain.Export{Chain: "c"}); err == nil {
		t.Fatal("expected error when export hash is empty")
	}
}
