package api

import (
	"net/http"

	"github.com/slyt3/GetItDone/internal/models"
)

type ratingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (h *Handlers) rateTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var req ratingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rating, err := h.core.RateTask(r.Context(), p, r.PathValue("id"), req.Score, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

func (h *Handlers) helperRating(w http.ResponseWriter, r *http.Request, p models.Principal) {
	hr, err := h.core.HelperRating(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hr)
}
