// Package ids defines the content-addressed identifier types used across
// the DAG mempool: transmissions, batches, and certificates are all named
// by the SHA-256 hash of their canonical content, never by a random value.
package ids

import (
	"encoding/hex"
	"fmt"

	"github.com/tolelom/tolchain/crypto"
)

// idLen is the length in bytes of every ID in this package (SHA-256 output).
const idLen = 32

// TransmissionID identifies a single transaction or prover solution.
type TransmissionID [idLen]byte

// BatchID identifies a batch header by the hash of its signed content.
type BatchID [idLen]byte

// CertificateID identifies a batch certificate; equal to the BatchID of the
// header it certifies, since a certificate never re-hashes its header.
type CertificateID = BatchID

// Address identifies a committee member (derived from its ed25519 public key).
type Address string

func fromHash(data []byte) [idLen]byte {
	var out [idLen]byte
	copy(out[:], crypto.HashBytes(data))
	return out
}

// TransmissionIDFromBytes hashes payload into a TransmissionID.
func TransmissionIDFromBytes(payload []byte) TransmissionID {
	return TransmissionID(fromHash(payload))
}

// BatchIDFromBytes hashes canonical header content into a BatchID.
func BatchIDFromBytes(data []byte) BatchID {
	return BatchID(fromHash(data))
}

// String returns the lowercase hex encoding of the id.
func (id TransmissionID) String() string { return hex.EncodeToString(id[:]) }

// String returns the lowercase hex encoding of the id.
func (id BatchID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value (never a valid content hash
// in practice, used as a sentinel for "no id").
func (id TransmissionID) IsZero() bool { return id == TransmissionID{} }

// IsZero reports whether id is the zero value.
func (id BatchID) IsZero() bool { return id == BatchID{} }

// TransmissionIDFromHex decodes a hex string produced by String().
func TransmissionIDFromHex(s string) (TransmissionID, error) {
	var id TransmissionID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid transmission id hex: %w", err)
	}
	if len(b) != idLen {
		return id, fmt.Errorf("transmission id must be %d bytes, got %d", idLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// BatchIDFromHex decodes a hex string produced by String().
func BatchIDFromHex(s string) (BatchID, error) {
	var id BatchID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid batch id hex: %w", err)
	}
	if len(b) != idLen {
		return id, fmt.Errorf("batch id must be %d bytes, got %d", idLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MarshalText allows TransmissionID to be used directly as a JSON string and
// as a map key under encoding/json.
func (id TransmissionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TransmissionID) UnmarshalText(text []byte) error {
	v, err := TransmissionIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// MarshalText allows BatchID to be used directly as a JSON string and as a
// map key under encoding/json.
func (id BatchID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *BatchID) UnmarshalText(text []byte) error {
	v, err := BatchIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// AssignToWorker deterministically maps a transmission id to a worker shard.
// numWorkers must be > 0.
func AssignToWorker(id TransmissionID, numWorkers uint8) (uint8, error) {
	if numWorkers == 0 {
		return 0, fmt.Errorf("numWorkers must be greater than zero")
	}
	// Use the first 8 bytes of the id as a uint64 to avoid bias from a
	// single byte's modulo when numWorkers does not divide 256 evenly.
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return uint8(v % uint64(numWorkers)), nil
}
