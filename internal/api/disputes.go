package api

import (
	"net/http"

	"github.com/slyt3/GetItDone/internal/disputes"
	"github.com/slyt3/GetItDone/internal/models"
)

type openDisputeRequest struct {
	RespondentID string                 `json:"respondent_id"`
	Type         models.DisputeType     `json:"type"`
	Priority     models.DisputePriority `json:"priority"`
	Description  string                 `json:"description"`
	Amount       models.Amount          `json:"amount"`
}

type resolveRequest struct {
	Resolution models.Resolution `json:"resolution"`
}

func (h *Handlers) openDispute(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req openDisputeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.core.OpenDispute(r.Context(), p, r.PathValue("id"), disputes.OpenRequest{
		RespondentID: req.RespondentID,
		Type:         req.Type,
		Priority:     req.Priority,
		Description:  req.Description,
		Amount:       req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handlers) listDisputes(w http.ResponseWriter, r *http.Request, p models.Principal) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := h.core.ListDisputes(r.Context(), p, models.DisputeFilter{
		Status: models.DisputeStatus(q.Get("status")),
		TaskID: q.Get("task_id"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) getDispute(w http.ResponseWriter, r *http.Request, p models.Principal) {
	d, err := h.core.GetDispute(r.Context(), p, r.PathValue("id"))
	respondDispute(w, r, d, err)
}

func (h *Handlers) investigateDispute(w http.ResponseWriter, r *http.Request, p models.Principal) {
	d, err := h.core.InvestigateDispute(r.Context(), p, r.PathValue("id"))
	respondDispute(w, r, d, err)
}

func (h *Handlers) resolveDispute(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.core.ResolveDispute(r.Context(), p, r.PathValue("id"), req.Resolution)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) closeDispute(w http.ResponseWriter, r *http.Request, p models.Principal) {
	d, err := h.core.CloseDispute(r.Context(), p, r.PathValue("id"))
	respondDispute(w, r, d, err)
}

func respondDispute(w http.ResponseWriter, r *http.Request, d *models.Dispute, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
