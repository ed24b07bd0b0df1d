package api

import (
	"net/http"

	"github.com/slyt3/GetItDone/internal/models"
)

type offerRequest struct {
	Amount  models.Amount `json:"amount"`
	Message string        `json:"message"`
}

func (h *Handlers) submitOffer(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req offerRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	offer, err := h.core.SubmitOffer(r.Context(), p, r.PathValue("id"), req.Amount, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (h *Handlers) listOffers(w http.ResponseWriter, r *http.Request, p models.Principal) {
	list, err := h.core.ListOffers(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) getOffer(w http.ResponseWriter, r *http.Request, p models.Principal) {
	offer, err := h.core.GetOffer(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (h *Handlers) acceptOffer(w http.ResponseWriter, r *http.Request, p models.Principal) {
	task, err := h.core.AcceptOffer(r.Context(), p, r.PathValue("id"))
	h.respondTask(w, r, task, err)
}

func (h *Handlers) withdrawOffer(w http.ResponseWriter, r *http.Request, p models.Principal) {
	offer, err := h.core.WithdrawOffer(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}
