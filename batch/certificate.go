package batch

import (
	"fmt"

	"github.com/tolelom/tolchain/ids"
)

// BatchCertificate is a batch header plus a quorum of peer signatures: a DAG
// vertex. Once constructed it is never mutated.
type BatchCertificate struct {
	Header     *BatchHeader                  `json:"header"`
	Signatures map[ids.Address]BatchSignature `json:"signatures"`
}

// NewCertificate aggregates header with signatures into a certificate.
// Construction fails (a "protocol violation by self" per the error taxonomy)
// if any signature does not reference this header's batch id, or if the
// certificate would carry no witnesses at all.
func NewCertificate(header *BatchHeader, signatures map[ids.Address]BatchSignature) (*BatchCertificate, error) {
	if header == nil {
		return nil, fmt.Errorf("certificate: nil header")
	}
	if len(signatures) == 0 {
		return nil, fmt.Errorf("certificate: no signatures supplied for batch %s", header.ID)
	}
	for addr, sig := range signatures {
		if sig.BatchID != header.ID {
			return nil, fmt.Errorf("certificate: signature from %s references batch %s, want %s", addr, sig.BatchID, header.ID)
		}
		if sig.SignerAddress != addr {
			return nil, fmt.Errorf("certificate: signature keyed by %s but signed as %s", addr, sig.SignerAddress)
		}
	}
	return &BatchCertificate{Header: header, Signatures: signatures}, nil
}

// ID returns the certificate's id, equal to its header's batch id.
func (c *BatchCertificate) ID() ids.CertificateID { return c.Header.ID }

// Round returns the round the certificate was produced for.
func (c *BatchCertificate) Round() uint64 { return c.Header.Round }

// Author returns the certified batch's proposer.
func (c *BatchCertificate) Author() ids.Address { return c.Header.Author }

// SignerAddresses returns the set of addresses that co-signed this
// certificate, unioned with the author (who self-signs the header).
func (c *BatchCertificate) SignerAddresses() map[ids.Address]struct{} {
	out := make(map[ids.Address]struct{}, len(c.Signatures)+1)
	for addr := range c.Signatures {
		out[addr] = struct{}{}
	}
	out[c.Author()] = struct{}{}
	return out
}

// VerifyWellFormed checks that the header's self-signature and every peer
// signature verify under the given committee's keys, and that the author and
// every signer are members of committee. It does NOT check quorum or
// previous-certificate linkage; callers perform those checks separately
// since they require Storage lookups the batch package does not have access
// to.
func (c *BatchCertificate) VerifyWellFormed(committee *Committee) error {
	authorKey, ok := committee.PublicKey(c.Author())
	if !ok {
		return fmt.Errorf("certificate author %s is not a committee member", c.Author())
	}
	if err := c.Header.Verify(authorKey); err != nil {
		return fmt.Errorf("certificate header self-signature invalid: %w", err)
	}
	for addr, sig := range c.Signatures {
		pub, ok := committee.PublicKey(addr)
		if !ok {
			return fmt.Errorf("certificate signer %s is not a committee member", addr)
		}
		if err := sig.Verify(pub); err != nil {
			return fmt.Errorf("certificate signature from %s invalid: %w", addr, err)
		}
	}
	return nil
}
