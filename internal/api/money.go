package api

import (
	"net/http"

	"github.com/slyt3/GetItDone/internal/ledger"
	"github.com/slyt3/GetItDone/internal/models"
)

type settleRequest struct {
	HelperAmount models.Amount `json:"helper_amount"`
}

type ledgerBalance ledger.Balance

// balanceResponse is a Balance plus its derived amounts, in one object.
type balanceResponse struct {
	Escrow models.Amount `json:"escrow"`
	Unpaid models.Amount `json:"unpaid"`
	ledgerBalance
}

func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request, p models.Principal) {
	list, err := h.core.ListEntries(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) balance(w http.ResponseWriter, r *http.Request, p models.Principal) {
	b, err := h.core.Balance(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Escrow: b.Escrow(), Unpaid: b.Unpaid(), ledgerBalance: ledgerBalance(b)})
}

func (h *Handlers) verifyTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	res, err := h.core.VerifyTask(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (h *Handlers) settle(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req settleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.core.Settle(r.Context(), p, r.PathValue("id"), req.HelperAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) retryPayout(w http.ResponseWriter, r *http.Request, p models.Principal) {
	b, err := h.core.RetryPayout(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Escrow: b.Escrow(), Unpaid: b.Unpaid(), ledgerBalance: ledgerBalance(b)})
}

func (h *Handlers) earnings(w http.ResponseWriter, r *http.Request, p models.Principal) {
	out, err := h.core.Earnings(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) reconcileAll(w http.ResponseWriter, r *http.Request, _ models.Principal) {
	reports, err := h.core.ReconcileAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mismatches": reports,
		"halted":     h.core.HaltedTasks(),
	})
}

func (h *Handlers) verifyAll(w http.ResponseWriter, r *http.Request, _ models.Principal) {
	results, err := h.core.VerifyAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalid := 0
	for _, res := range results {
		if !res.Valid {
			invalid++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":   len(results),
		"invalid": invalid,
		"results": results,
	})
}

func (h *Handlers) resume(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if err := h.core.Resume(r.Context(), p, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
