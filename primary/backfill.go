package primary

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
)

// fetchMissingTransmissions asks peer for every transmission in header not
// already in storage, routing each request to the worker that owns it by
// the same hash partition the workers use, and waits for all outstanding
// requests to complete. The correlation id is for logging only; it
// is never used as a domain identifier.
func (p *Primary) fetchMissingTransmissions(peerID string, header *batch.BatchHeader) error {
	g, ctx := errgroup.WithContext(p.ctx)
	correlation := uuid.NewString()
	for _, id := range header.TransmissionIDs {
		if p.store.ContainsTransmission(id) {
			continue
		}
		id := id
		g.Go(func() error {
			done := make(chan error, 1)
			p.workers.ProcessTransmissionID(peerID, id, done)
			select {
			case err := <-done:
				if err != nil {
					return fmt.Errorf("[%s] transmission %s: %w", correlation, id, err)
				}
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// fetchMissingCertificates asks peer for every previous-certificate-id in
// header not already in storage and not already pending, registering a
// one-shot waiter per id in the Pending table, and waits for all to
// complete.
func (p *Primary) fetchMissingCertificates(peerID string, header *batch.BatchHeader) error {
	g, ctx := errgroup.WithContext(p.ctx)
	correlation := uuid.NewString()
	prevRound := uint64(0)
	if header.Round > 0 {
		prevRound = header.Round - 1
	}
	for _, id := range header.PreviousCertificateIDs {
		if p.store.ContainsCertificate(id) {
			continue
		}
		id := id
		g.Go(func() error {
			return p.awaitCertificate(ctx, peerID, id, prevRound, correlation)
		})
	}
	return g.Wait()
}

// awaitCertificate registers a pending fetch for id from peer and blocks
// until it is fulfilled (by ProcessCertificateResponse), the Pending entry
// is GCed, or ctx is cancelled. If id is already pending from a concurrent
// fetch, this call joins that entry's waiters instead of sending a second,
// redundant CertificateRequest.
func (p *Primary) awaitCertificate(ctx context.Context, peerID string, id ids.CertificateID, round uint64, correlation string) error {
	done := make(chan error, 1)
	isNew := p.pending.request(id, round, peerID, done)

	if isNew {
		if err := p.gateway.Send(peerID, network.MsgCertificateRequest, certificateRequestWire{ID: id}); err != nil {
			p.pending.fail(id, err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("[%s] certificate %s: %w", correlation, id, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
