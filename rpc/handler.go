package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/primary"
	"github.com/tolelom/tolchain/storage"
	"github.com/tolelom/tolchain/worker"
)

// Handler holds all dependencies needed to serve RPC methods against the
// running Primary.
type Handler struct {
	p       *primary.Primary
	store   storage.Store
	workers *worker.Pool
}

// NewHandler creates an RPC Handler.
func NewHandler(p *primary.Primary, store storage.Store, workers *worker.Pool) *Handler {
	return &Handler{p: p, store: store, workers: workers}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getRound":
		return okResponse(req.ID, h.p.Round())

	case "getCertificate":
		return h.getCertificate(req)

	case "getCertificatesForRound":
		return h.getCertificatesForRound(req)

	case "getCommittee":
		return h.getCommittee(req)

	case "getPendingCount":
		return okResponse(req.ID, h.p.PendingCount())

	case "getProposedSlot":
		return h.getProposedSlot(req)

	case "submitTransaction":
		return h.submitTransaction(req)

	case "submitSolution":
		return h.submitSolution(req)

	case "getWorkerQueueSize":
		return h.getWorkerQueueSize(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getCertificate(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	id, err := ids.BatchIDFromHex(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	cert, ok := h.store.GetCertificate(id)
	if !ok {
		return errResponse(req.ID, CodeInternalError, "certificate not found")
	}
	return okResponse(req.ID, cert)
}

func (h *Handler) getCertificatesForRound(req Request) Response {
	var params struct {
		Round uint64 `json:"round"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	return okResponse(req.ID, h.store.CertificatesForRound(params.Round))
}

func (h *Handler) getCommittee(req Request) Response {
	var params struct {
		Round uint64 `json:"round"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	committee, ok := h.store.GetCommitteeForRound(params.Round)
	if !ok {
		return errResponse(req.ID, CodeInternalError, "committee not found for round")
	}
	return okResponse(req.ID, committee)
}

func (h *Handler) getProposedSlot(req Request) Response {
	b, numSignatures, ok := h.p.ProposedSlot()
	if !ok {
		return okResponse(req.ID, map[string]any{"empty": true})
	}
	return okResponse(req.ID, map[string]any{
		"empty":          false,
		"batch_id":       b.ID(),
		"round":          b.Round(),
		"num_signatures": numSignatures,
	})
}

func (h *Handler) submitTransaction(req Request) Response {
	var params struct {
		TransactionID string `json:"transaction_id"`
		Transaction   []byte `json:"transaction"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	txID := ids.TransmissionIDFromBytes(params.Transaction)
	if err := h.workers.ProcessUnconfirmedTransaction(txID, params.Transaction); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"transaction_id": txID.String()})
}

func (h *Handler) submitSolution(req Request) Response {
	var params struct {
		Solution []byte `json:"solution"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	commitment := ids.TransmissionIDFromBytes(params.Solution)
	if err := h.workers.ProcessUnconfirmedSolution(commitment, params.Solution); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"commitment": commitment.String()})
}

func (h *Handler) getWorkerQueueSize(req Request) Response {
	var params struct {
		WorkerID uint8 `json:"worker_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	w, ok := h.workers.Worker(params.WorkerID)
	if !ok {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("no worker %d", params.WorkerID))
	}
	return okResponse(req.ID, map[string]any{"worker_id": w.ID(), "queue_size": w.QueueSize()})
}
