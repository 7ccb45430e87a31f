package batch

import (
	"encoding/binary"

	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/ids"
)

// BatchSignature is one committee member's co-signature over a proposed
// batch's (batch_id, timestamp) pair.
type BatchSignature struct {
	BatchID       ids.BatchID  `json:"batch_id"`
	SignerAddress ids.Address  `json:"signer_address"`
	Timestamp     int64        `json:"timestamp"`
	Signature     string       `json:"signature"`
}

// signingMessage embeds batch_id and timestamp into the byte string that is
// actually signed: a fixed, deterministic byte encoding, id bytes followed
// by a big-endian uint64 timestamp.
func signingMessage(id ids.BatchID, timestamp int64) []byte {
	msg := make([]byte, len(id)+8)
	copy(msg, id[:])
	binary.BigEndian.PutUint64(msg[len(id):], uint64(timestamp))
	return msg
}

// SignBatch produces a fresh co-signature over (batchID, timestamp) under
// priv, attributing it to signer.
func SignBatch(priv crypto.PrivateKey, signer ids.Address, batchID ids.BatchID, timestamp int64) BatchSignature {
	sig := crypto.Sign(priv, signingMessage(batchID, timestamp))
	return BatchSignature{BatchID: batchID, SignerAddress: signer, Timestamp: timestamp, Signature: sig}
}

// Verify checks that the signature was produced by pub over
// (s.BatchID, s.Timestamp).
func (s BatchSignature) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, signingMessage(s.BatchID, s.Timestamp), s.Signature)
}
