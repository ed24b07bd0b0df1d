package api

import (
	"net/http"

	"github.com/slyt3/GetItDone/internal/lifecycle"
	"github.com/slyt3/GetItDone/internal/models"
)

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var d lifecycle.Draft
	if err := decode(r, &d); err != nil {
		writeError(w, r, err)
		return
	}
	task, err := h.core.CreateTask(r.Context(), p, d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request, p models.Principal) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := h.core.ListTasks(r.Context(), p, models.TaskFilter{
		Status:   models.TaskStatus(q.Get("status")),
		Category: q.Get("category"),
		PosterID: q.Get("poster_id"),
		HelperID: q.Get("helper_id"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	task, err := h.core.GetTask(r.Context(), p, r.PathValue("id"))
	h.respondTask(w, r, task, err)
}

func (h *Handlers) editTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var d lifecycle.Draft
	if err := decode(r, &d); err != nil {
		writeError(w, r, err)
		return
	}
	task, err := h.core.EditTask(r.Context(), p, r.PathValue("id"), d)
	h.respondTask(w, r, task, err)
}

func (h *Handlers) publishTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	task, err := h.core.PublishTask(r.Context(), p, r.PathValue("id"))
	h.respondTask(w, r, task, err)
}

func (h *Handlers) startTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	task, err := h.core.StartTask(r.Context(), p, r.PathValue("id"))
	h.respondTask(w, r, task, err)
}

func (h *Handlers) markDone(w http.ResponseWriter, r *http.Request, p models.Principal) {
	task, err := h.core.MarkDone(r.Context(), p, r.PathValue("id"))
	h.respondTask(w, r, task, err)
}

func (h *Handlers) completeTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	task, err := h.core.CompleteTask(r.Context(), p, r.PathValue("id"))
	h.respondTask(w, r, task, err)
}

func (h *Handlers) cancelTask(w http.ResponseWriter, r *http.Request, p models.Principal) {
	task, err := h.core.CancelTask(r.Context(), p, r.PathValue("id"))
	h.respondTask(w, r, task, err)
}

func (h *Handlers) respondTask(w http.ResponseWriter, r *http.Request, task *models.Task, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
