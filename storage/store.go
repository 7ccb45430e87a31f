package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/ids"
)

const (
	prefixCertificate     = "cert:"
	prefixCertificateByRd = "certround:"
	prefixCommittee       = "committee:"
	prefixTransmission    = "tx:"
	keyGCRound            = "meta:gc_round"
)

// Store is the durable associative store the Primary treats as an external
// collaborator: certificates by id and by round, committees by round, and
// transmissions by id, with a GC watermark below which data is discarded.
type Store interface {
	ContainsBatch(id ids.BatchID) bool
	ContainsCertificate(id ids.CertificateID) bool
	GetCertificate(id ids.CertificateID) (*batch.BatchCertificate, bool)
	CertificatesForRound(round uint64) []*batch.BatchCertificate
	InsertCertificate(cert *batch.BatchCertificate) error
	GetCommitteeForRound(round uint64) (*batch.Committee, bool)
	InsertCommittee(c *batch.Committee)
	GCRound() uint64
	MaxGCRounds() uint64
	AdvanceGC(round uint64)
	ContainsTransmission(id ids.TransmissionID) bool
	InsertTransmission(t batch.Transmission) error
	GetTransmission(id ids.TransmissionID) (batch.Transmission, bool)
}

// LevelStore implements Store over a generic DB, using a key-prefix
// convention for certificate/round/committee/transmission keys. A small
// in-memory index (certsByRound) avoids a full-prefix scan on the hot path.
type LevelStore struct {
	mu          sync.RWMutex
	db          DB
	maxGCRounds uint64
	gcRound     uint64
	certsByRound map[uint64]map[ids.CertificateID]struct{}
}

// NewLevelStore wraps db as a Store. maxGCRounds bounds how far behind the
// current round GC'd data may lag.
func NewLevelStore(db DB, maxGCRounds uint64) *LevelStore {
	return &LevelStore{
		db:           db,
		maxGCRounds:  maxGCRounds,
		certsByRound: make(map[uint64]map[ids.CertificateID]struct{}),
	}
}

func certKey(id ids.CertificateID) []byte   { return []byte(prefixCertificate + id.String()) }
func committeeKey(round uint64) []byte      { return []byte(fmt.Sprintf("%s%d", prefixCommittee, round)) }
func txKey(id ids.TransmissionID) []byte    { return []byte(prefixTransmission + id.String()) }
func certRoundKey(round uint64, id ids.CertificateID) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", prefixCertificateByRd, round, id.String()))
}

func (s *LevelStore) ContainsBatch(id ids.BatchID) bool {
	return s.ContainsCertificate(id)
}

func (s *LevelStore) ContainsCertificate(id ids.CertificateID) bool {
	_, err := s.db.Get(certKey(id))
	return err == nil
}

func (s *LevelStore) GetCertificate(id ids.CertificateID) (*batch.BatchCertificate, bool) {
	data, err := s.db.Get(certKey(id))
	if err != nil {
		return nil, false
	}
	var cert batch.BatchCertificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, false
	}
	return &cert, true
}

func (s *LevelStore) CertificatesForRound(round uint64) []*batch.BatchCertificate {
	s.mu.RLock()
	certIDs := make([]ids.CertificateID, 0, len(s.certsByRound[round]))
	for id := range s.certsByRound[round] {
		certIDs = append(certIDs, id)
	}
	s.mu.RUnlock()

	out := make([]*batch.BatchCertificate, 0, len(certIDs))
	for _, id := range certIDs {
		if cert, ok := s.GetCertificate(id); ok {
			out = append(out, cert)
		}
	}
	return out
}

func (s *LevelStore) InsertCertificate(cert *batch.BatchCertificate) error {
	data, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("marshal certificate: %w", err)
	}
	wb := s.db.NewBatch()
	wb.Set(certKey(cert.ID()), data)
	wb.Set(certRoundKey(cert.Round(), cert.ID()), []byte{1})
	if err := wb.Write(); err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byRound, ok := s.certsByRound[cert.Round()]
	if !ok {
		byRound = make(map[ids.CertificateID]struct{})
		s.certsByRound[cert.Round()] = byRound
	}
	byRound[cert.ID()] = struct{}{}
	return nil
}

func (s *LevelStore) GetCommitteeForRound(round uint64) (*batch.Committee, bool) {
	data, err := s.db.Get(committeeKey(round))
	if err != nil {
		return nil, false
	}
	var c batch.Committee
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false
	}
	return &c, true
}

func (s *LevelStore) InsertCommittee(c *batch.Committee) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = s.db.Set(committeeKey(c.Round), data)
}

// GCRound returns the smallest round not yet discarded by storage.
func (s *LevelStore) GCRound() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gcRound
}

// MaxGCRounds returns the configured GC lag window.
func (s *LevelStore) MaxGCRounds() uint64 {
	return s.maxGCRounds
}

// AdvanceGC raises the GC watermark to round (a no-op if round is not
// greater than the current watermark) and drops the in-memory round index
// for everything below it. Certificate/committee blobs on disk are left in
// place; only the fast-lookup index is pruned. GCRound reports the smallest
// round not yet discarded rather than triggering an immediate hard delete.
func (s *LevelStore) AdvanceGC(round uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if round <= s.gcRound {
		return
	}
	s.gcRound = round
	for r := range s.certsByRound {
		if r < round {
			delete(s.certsByRound, r)
		}
	}
}

func (s *LevelStore) ContainsTransmission(id ids.TransmissionID) bool {
	_, err := s.db.Get(txKey(id))
	return err == nil
}

func (s *LevelStore) InsertTransmission(t batch.Transmission) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transmission: %w", err)
	}
	return s.db.Set(txKey(t.ID), data)
}

func (s *LevelStore) GetTransmission(id ids.TransmissionID) (batch.Transmission, bool) {
	data, err := s.db.Get(txKey(id))
	if err != nil {
		return batch.Transmission{}, false
	}
	var t batch.Transmission
	if err := json.Unmarshal(data, &t); err != nil {
		return batch.Transmission{}, false
	}
	return t, true
}
