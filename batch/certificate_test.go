package batch

import (
	"testing"

	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/ids"
)

func mustHeader(t *testing.T, priv crypto.PrivateKey, author ids.Address, round uint64) *BatchHeader {
	t.Helper()
	h, err := NewHeader(author, priv, round, 1000, nil, nil)
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}
	return h
}

// TestNewCertificateRejectsEmptySignatures enforces that a certificate
// always carries at least one witness.
func TestNewCertificateRejectsEmptySignatures(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	h := mustHeader(t, priv, "author", 1)
	if _, err := NewCertificate(h, map[ids.Address]BatchSignature{}); err == nil {
		t.Error("expected error for empty signature set")
	}
}

// TestNewCertificateRejectsMismatchedBatchID catches a signature that
// references a different batch than the header being certified.
func TestNewCertificateRejectsMismatchedBatchID(t *testing.T) {
	privA, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	privB, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	h := mustHeader(t, privA, "author", 1)
	otherID := ids.BatchIDFromBytes([]byte("unrelated"))
	sig := SignBatch(privB, "signer", otherID, h.Timestamp)
	if _, err := NewCertificate(h, map[ids.Address]BatchSignature{"signer": sig}); err == nil {
		t.Error("expected error for signature referencing a different batch")
	}
}

// TestVerifyWellFormedRejectsNonMemberAuthor ensures an author outside the
// committee fails well-formedness even with valid signatures.
func TestVerifyWellFormedRejectsNonMemberAuthor(t *testing.T) {
	privAuthor, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	privSigner, pubSigner, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	h := mustHeader(t, privAuthor, "author", 1)
	sig := SignBatch(privSigner, "signer", h.ID, h.Timestamp)
	cert, err := NewCertificate(h, map[ids.Address]BatchSignature{"signer": sig})
	if err != nil {
		t.Fatalf("NewCertificate: %v", err)
	}
	committee := NewCommittee(map[ids.Address]Member{
		"signer": {PublicKey: pubSigner, Stake: 1},
	})
	if err := cert.VerifyWellFormed(committee); err == nil {
		t.Error("expected error: author is not a committee member")
	}
}

// TestVerifyWellFormedAccepts checks the happy path: author and signer are
// both committee members and every signature verifies.
func TestVerifyWellFormedAccepts(t *testing.T) {
	privAuthor, pubAuthor, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	privSigner, pubSigner, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	h := mustHeader(t, privAuthor, "author", 1)
	sig := SignBatch(privSigner, "signer", h.ID, h.Timestamp)
	cert, err := NewCertificate(h, map[ids.Address]BatchSignature{"signer": sig})
	if err != nil {
		t.Fatalf("NewCertificate: %v", err)
	}
	committee := NewCommittee(map[ids.Address]Member{
		"author": {PublicKey: pubAuthor, Stake: 1},
		"signer": {PublicKey: pubSigner, Stake: 1},
	})
	if err := cert.VerifyWellFormed(committee); err != nil {
		t.Errorf("expected well-formed certificate to verify: %v", err)
	}
}

// TestSignerAddressesIncludesAuthor checks the author is unioned in even
// though it never appears in the Signatures map.
func TestSignerAddressesIncludesAuthor(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	privSigner, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	h := mustHeader(t, priv, "author", 1)
	sig := SignBatch(privSigner, "signer", h.ID, h.Timestamp)
	cert, err := NewCertificate(h, map[ids.Address]BatchSignature{"signer": sig})
	if err != nil {
		t.Fatal(err)
	}
	addrs := cert.SignerAddresses()
	if _, ok := addrs["author"]; !ok {
		t.Error("expected author to be included in SignerAddresses")
	}
	if _, ok := addrs["signer"]; !ok {
		t.Error("expected signer to be included in SignerAddresses")
	}
}
