package batch

import "github.com/tolelom/tolchain/ids"

// Batch is a BatchHeader plus the Transmissions it includes. The header's ID
// is stable under re-serialization of the batch regardless of which
// transmissions are attached, since the header only carries transmission IDs.
type Batch struct {
	Header        *BatchHeader                        `json:"header"`
	Transmissions map[ids.TransmissionID]Transmission `json:"transmissions"`
}

// NewBatch pairs a signed header with its transmissions.
func NewBatch(header *BatchHeader, transmissions map[ids.TransmissionID]Transmission) *Batch {
	return &Batch{Header: header, Transmissions: transmissions}
}

// ID returns the batch's id (the header's id).
func (b *Batch) ID() ids.BatchID { return b.Header.ID }

// Round returns the round the batch was proposed for.
func (b *Batch) Round() uint64 { return b.Header.Round }

// Author returns the proposing validator's address.
func (b *Batch) Author() ids.Address { return b.Header.Author }

// Timestamp returns the proposal timestamp (UTC seconds).
func (b *Batch) Timestamp() int64 { return b.Header.Timestamp }
