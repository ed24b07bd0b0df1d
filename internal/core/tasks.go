package core

import (
	"context"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/escrow"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/lifecycle"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/policy"
	"github.com/slyt3/GetItDone/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// CreateTask stores a new draft owned by p.
func (e *Engine) CreateTask(ctx context.Context, p models.Principal, d lifecycle.Draft) (*models.Task, error) {
	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	if d.Currency == "" {
		d.Currency = e.currency
	}
	out := events.NewOutbox()
	var task *models.Task
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		task, err = e.lifecycle.Create(ctx, tx, out, p.ID, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Flush(ctx, e.publisher)
	logging.Info("task_created", logging.Fields{Component: "core", TaskID: task.ID, PartyID: p.ID})
	return task, nil
}

// EditTask replaces the editable fields of a draft or posted task.
func (e *Engine) EditTask(ctx context.Context, p models.Principal, taskID string, d lifecycle.Draft) (*models.Task, error) {
	return e.mutate(ctx, taskID, "edit", func(tx store.Tx, _ *events.Outbox, task *models.Task) error {
		if d.Currency == "" {
			d.Currency = task.Currency
		}
		return e.lifecycle.Edit(ctx, tx, task, p.ID, d)
	})
}

// PublishTask moves a complete draft to posted.
func (e *Engine) PublishTask(ctx context.Context, p models.Principal, taskID string) (*models.Task, error) {
	return e.mutate(ctx, taskID, "publish", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		if p.ID != task.PosterID {
			return errs.Forbiddenf("only the poster may publish task %s", task.ID)
		}
		return e.lifecycle.Publish(ctx, tx, out, task)
	})
}

// StartTask is the matched helper beginning work: matched -> in_progress.
func (e *Engine) StartTask(ctx context.Context, p models.Principal, taskID string) (*models.Task, error) {
	return e.mutate(ctx, taskID, "start", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		if p.ID != task.MatchedHelperID {
			return errs.Forbiddenf("only the matched helper may start task %s", task.ID)
		}
		return e.lifecycle.Transition(ctx, tx, out, task, models.TaskInProgress)
	})
}

// MarkDone is the helper's half of completion.
func (e *Engine) MarkDone(ctx context.Context, p models.Principal, taskID string) (*models.Task, error) {
	return e.mutate(ctx, taskID, "mark_done", func(tx store.Tx, _ *events.Outbox, task *models.Task) error {
		return e.lifecycle.MarkDone(ctx, tx, task, p.ID)
	})
}

// CompleteTask is the poster confirming a task the helper marked done. The
// escrow is released to the helper minus the fee in the same transaction,
// then the payout to the helper's account is attempted.
func (e *Engine) CompleteTask(ctx context.Context, p models.Principal, taskID string) (*models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	task, err := e.mutateLocked(ctx, taskID, "complete", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		if p.ID != task.PosterID && !p.IsAdmin() {
			return errs.Forbiddenf("only the poster may confirm completion of task %s", task.ID)
		}
		if err := escrow.CheckUnfrozen(ctx, tx, task); err != nil {
			return err
		}
		if err := e.lifecycle.Transition(ctx, tx, out, task, models.TaskCompleted); err != nil {
			return err
		}
		_, err := e.escrow.OnComplete(ctx, tx, out, task)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := e.payoutLocked(ctx, task); err != nil {
		e.logPayoutError(taskID, "complete", err)
	}
	return task, nil
}

// CancelTask cancels a posted, matched or in-progress task and refunds any
// held escrow to the poster. The poster, the matched helper or an admin may
// cancel.
func (e *Engine) CancelTask(ctx context.Context, p models.Principal, taskID string) (*models.Task, error) {
	return e.mutate(ctx, taskID, "cancel", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		if !task.IsParty(p.ID) && !p.IsAdmin() {
			return errs.Forbiddenf("caller is not a party of task %s", task.ID)
		}
		if task.Status == models.TaskPosted && p.ID != task.PosterID && !p.IsAdmin() {
			return errs.Forbiddenf("only the poster may cancel posted task %s", task.ID)
		}
		if err := e.Authorize(p, policy.TaskCancel, map[string]interface{}{"status": string(task.Status)}); err != nil {
			return err
		}
		if err := escrow.CheckUnfrozen(ctx, tx, task); err != nil {
			return err
		}
		if err := e.lifecycle.Transition(ctx, tx, out, task, models.TaskCancelled); err != nil {
			return err
		}
		if err := e.rejectPending(ctx, tx, task); err != nil {
			return err
		}
		_, err := e.escrow.OnCancel(ctx, tx, out, task)
		return err
	})
}

// rejectPending closes the offers left open on a cancelled task.
func (e *Engine) rejectPending(ctx context.Context, tx store.Tx, task *models.Task) error {
	list, err := tx.ListOffers(ctx, task.ID)
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].Status != models.OfferPending {
			continue
		}
		list[i].Status = models.OfferRejected
		list[i].UpdatedAt = task.UpdatedAt
		if err := tx.UpdateOffer(ctx, &list[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetTask returns a task. Drafts are visible to their poster and admins only.
func (e *Engine) GetTask(ctx context.Context, p models.Principal, taskID string) (*models.Task, error) {
	var task *models.Task
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskDraft && task.PosterID != p.ID && !p.IsAdmin() {
		return nil, errs.NotFoundf("task %s", taskID)
	}
	return task, nil
}

// ListTasks filters tasks. Non-admins see other posters' drafts never.
func (e *Engine) ListTasks(ctx context.Context, p models.Principal, f models.TaskFilter) ([]models.Task, error) {
	f.Limit = clampLimit(f.Limit, defaultListLimit)
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.Validationf("unknown status %q", f.Status)
	}
	if !p.IsAdmin() {
		f.VisibleTo = p.ID
	}
	var list []models.Task
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListTasks(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Task{}
	}
	return list, nil
}

func clampLimit(n, def int) int {
	switch {
	case n <= 0:
		return def
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}
