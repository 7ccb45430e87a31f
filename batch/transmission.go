package batch

import "github.com/tolelom/tolchain/ids"

// TransmissionKind distinguishes the two kinds of unconfirmed work the
// Primary accepts from the embedding node.
type TransmissionKind string

const (
	TransmissionTransaction TransmissionKind = "transaction"
	TransmissionSolution    TransmissionKind = "solution"
)

// Transmission is an uncommitted unit of work awaiting inclusion in a batch:
// a transaction or a prover solution, identified by the hash of its payload.
type Transmission struct {
	ID      ids.TransmissionID `json:"id"`
	Kind    TransmissionKind   `json:"kind"`
	Payload []byte             `json:"payload"`
}

// NewTransmission hashes payload to derive the transmission's id.
func NewTransmission(kind TransmissionKind, payload []byte) Transmission {
	return Transmission{
		ID:      ids.TransmissionIDFromBytes(payload),
		Kind:    kind,
		Payload: payload,
	}
}
