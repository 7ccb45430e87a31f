package batch

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/ids"
)

// BatchHeader is the content a validator proposes and self-signs each round.
// Its ID is derived from the header content and is stable under
// re-serialization; Verify recomputes it from the signingBody, never trusts
// the stored value blindly.
type BatchHeader struct {
	ID                     ids.BatchID            `json:"id"`
	Author                 ids.Address            `json:"author"`
	Round                  uint64                 `json:"round"`
	Timestamp              int64                  `json:"timestamp"`
	TransmissionIDs        []ids.TransmissionID   `json:"transmission_ids"`
	PreviousCertificateIDs []ids.CertificateID    `json:"previous_certificate_ids"`
	Signature              string                 `json:"signature"`
}

// headerSigningBody holds the fields covered by the author's signature:
// everything except the signature itself and the derived ID.
type headerSigningBody struct {
	Author                 ids.Address          `json:"author"`
	Round                  uint64               `json:"round"`
	Timestamp              int64                `json:"timestamp"`
	TransmissionIDs        []ids.TransmissionID `json:"transmission_ids"`
	PreviousCertificateIDs []ids.CertificateID  `json:"previous_certificate_ids"`
}

func (h *BatchHeader) signingBody() headerSigningBody {
	return headerSigningBody{
		Author:                 h.Author,
		Round:                  h.Round,
		Timestamp:              h.Timestamp,
		TransmissionIDs:        h.TransmissionIDs,
		PreviousCertificateIDs: h.PreviousCertificateIDs,
	}
}

// computeID returns the content hash of the header's signing body.
func (h *BatchHeader) computeID() (ids.BatchID, error) {
	data, err := json.Marshal(h.signingBody())
	if err != nil {
		return ids.BatchID{}, fmt.Errorf("marshal batch header: %w", err)
	}
	return ids.BatchIDFromBytes(data), nil
}

// NewHeader builds, ids, and self-signs a batch header in one step. The
// header is always self-signed at creation, unlike a block, which is signed
// only after its height/prev-hash are known.
func NewHeader(
	author ids.Address,
	priv crypto.PrivateKey,
	round uint64,
	timestamp int64,
	transmissionIDs []ids.TransmissionID,
	previousCertificateIDs []ids.CertificateID,
) (*BatchHeader, error) {
	sort.Slice(transmissionIDs, func(i, j int) bool {
		return transmissionIDs[i].String() < transmissionIDs[j].String()
	})
	sort.Slice(previousCertificateIDs, func(i, j int) bool {
		return previousCertificateIDs[i].String() < previousCertificateIDs[j].String()
	})
	h := &BatchHeader{
		Author:                 author,
		Round:                  round,
		Timestamp:              timestamp,
		TransmissionIDs:        transmissionIDs,
		PreviousCertificateIDs: previousCertificateIDs,
	}
	id, err := h.computeID()
	if err != nil {
		return nil, err
	}
	h.ID = id
	h.Signature = crypto.Sign(priv, id[:])
	return h, nil
}

// Verify recomputes the header ID from its content and checks the author's
// self-signature against pub. Returns an error if either check fails.
func (h *BatchHeader) Verify(pub crypto.PublicKey) error {
	computed, err := h.computeID()
	if err != nil {
		return err
	}
	if computed != h.ID {
		return fmt.Errorf("batch header id mismatch: stored %s computed %s", h.ID, computed)
	}
	return crypto.Verify(pub, h.ID[:], h.Signature)
}
