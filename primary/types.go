package primary

import (
	"time"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
)

// Gateway is the wire-networking collaborator the Primary drives. The real
// implementation is *network.Gateway; tests substitute an in-memory double.
type Gateway interface {
	Account() ids.Address
	NumWorkers() uint8
	Resolver() *network.Resolver
	Handle(typ network.MsgType, h network.MessageHandler)
	Broadcast(typ network.MsgType, payload any)
	Send(peerID string, typ network.MsgType, payload any) error
	ShutDown()
}

// WorkerPool is the transmission-mempool collaborator the Primary drains on
// every proposal tick and dispatches fetch/intake requests to. The real
// implementation is *worker.Pool; tests substitute an in-memory double.
type WorkerPool interface {
	NumWorkers() uint8
	DrainAll() []batch.Transmission
	ProcessTransmissionID(peerID string, id ids.TransmissionID, done chan<- error)
	ProcessUnconfirmedSolution(commitment ids.TransmissionID, payload []byte) error
	ProcessUnconfirmedTransaction(txID ids.TransmissionID, payload []byte) error
	ShutDown()
}

// Config holds the Primary's tunable constants.
type Config struct {
	MaxWorkers            uint8
	MaxBatchDelay         time.Duration
	MaxExpirationTimeSecs int64
	MaxTimestampDeltaSecs int64
}

// DefaultConfig returns reasonable defaults for a single-node test run.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:            4,
		MaxBatchDelay:         5 * time.Second,
		MaxExpirationTimeSecs: 30,
		MaxTimestampDeltaSecs: 10,
	}
}

// proposedSlot is the validator's own in-flight batch proposal awaiting
// co-signatures. At most one is ever populated at a time.
type proposedSlot struct {
	batch      *batch.Batch
	signatures map[ids.Address]batch.BatchSignature
	createdAt  time.Time
}

// roundAuthorKey identifies a (round, author) pair for the equivocation
// table: at most one distinct batch_id may be signed per pair.
type roundAuthorKey struct {
	round  uint64
	author ids.Address
}

// Wire payloads exchanged over the Gateway. Kept separate from the domain
// types in package batch so the wire format can evolve independently of the
// signed content it carries.

type batchProposeWire struct {
	Header *batch.BatchHeader `json:"header"`
}

type batchSignatureWire struct {
	Signature batch.BatchSignature `json:"signature"`
}

type batchCertifiedWire struct {
	Certificate *batch.BatchCertificate `json:"certificate"`
}

type certificateRequestWire struct {
	ID ids.CertificateID `json:"id"`
}

type certificateResponseWire struct {
	Certificate *batch.BatchCertificate `json:"certificate"`
}

type unconfirmedSolutionWire struct {
	Commitment ids.TransmissionID `json:"commitment"`
	Solution   []byte             `json:"solution"`
}

type unconfirmedTransactionWire struct {
	TransactionID ids.TransmissionID `json:"transaction_id"`
	Transaction   []byte             `json:"transaction"`
}

// Internal, already-decoded events handed from the Gateway's read goroutines
// to this Primary's one-goroutine-per-channel handlers.

type proposeEvent struct {
	peerID string
	header *batch.BatchHeader
}

type signatureEvent struct {
	peerID string
	sig    batch.BatchSignature
}

type certifiedEvent struct {
	peerID string
	cert   *batch.BatchCertificate
}

type certRequestEvent struct {
	peerID string
	id     ids.CertificateID
}

type certResponseEvent struct {
	peerID string
	cert   *batch.BatchCertificate
}

type unconfirmedSolutionEvent struct {
	commitment ids.TransmissionID
	payload    []byte
}

type unconfirmedTxEvent struct {
	txID    ids.TransmissionID
	payload []byte
}

// channelCapacity bounds each inbound channel; the Gateway's own read
// goroutines block on send when a channel is full, giving the only
// backpressure this layer applies.
const channelCapacity = 256
