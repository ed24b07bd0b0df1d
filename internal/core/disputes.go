package core

import (
	"context"

	"github.com/slyt3/GetItDone/internal/disputes"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

const defaultDisputeLimit = 10

// OpenDispute files a dispute by p against the counterparty of a matched or
// in-progress task and freezes its escrow.
func (e *Engine) OpenDispute(ctx context.Context, p models.Principal, taskID string, req disputes.OpenRequest) (*models.Dispute, error) {
	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	req.ComplainantID = p.ID
	var d *models.Dispute
	_, err := e.mutate(ctx, taskID, "open_dispute", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		var err error
		d, err = e.disputes.Open(ctx, tx, out, task, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// InvestigateDispute moves an open dispute to investigating.
func (e *Engine) InvestigateDispute(ctx context.Context, p models.Principal, disputeID string) (*models.Dispute, error) {
	return e.onDispute(ctx, p, disputeID, "investigate_dispute", func(tx store.Tx, _ *events.Outbox, _ *models.Task, d *models.Dispute) error {
		return e.disputes.Investigate(ctx, tx, d)
	})
}

// DisputeResolution is the dispute after resolution plus the money it moved.
type DisputeResolution struct {
	Dispute *models.Dispute  `json:"dispute"`
	Outcome disputes.Outcome `json:"outcome"`
}

// ResolveDispute applies resolution: the favored party receives the escrow
// and the task is finished accordingly. Mediation leaves the escrow held for
// a later Settle.
func (e *Engine) ResolveDispute(ctx context.Context, p models.Principal, disputeID string, resolution models.Resolution) (*DisputeResolution, error) {
	res := &DisputeResolution{}
	d, err := e.onDispute(ctx, p, disputeID, "resolve_dispute", func(tx store.Tx, out *events.Outbox, task *models.Task, d *models.Dispute) error {
		var err error
		res.Outcome, err = e.disputes.Resolve(ctx, tx, out, task, d, resolution, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Dispute = d
	return res, nil
}

// CloseDispute ends a dispute without a resolution and lifts the freeze.
func (e *Engine) CloseDispute(ctx context.Context, p models.Principal, disputeID string) (*models.Dispute, error) {
	return e.onDispute(ctx, p, disputeID, "close_dispute", func(tx store.Tx, out *events.Outbox, task *models.Task, d *models.Dispute) error {
		return e.disputes.Close(ctx, tx, out, task, d, p.ID)
	})
}

// onDispute runs an admin action on a dispute under its task's lock.
func (e *Engine) onDispute(ctx context.Context, p models.Principal, disputeID, op string, fn func(tx store.Tx, out *events.Outbox, task *models.Task, d *models.Dispute) error) (*models.Dispute, error) {
	if !p.IsAdmin() {
		return nil, errs.Forbiddenf("only admins may %s", op)
	}
	taskID, err := e.disputeTask(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(taskID)
	defer unlock()

	var d *models.Dispute
	task, err := e.mutateLocked(ctx, taskID, op, func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		var err error
		if d, err = tx.GetDispute(ctx, disputeID); err != nil {
			return err
		}
		return fn(tx, out, task, d)
	})
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskCompleted {
		if err := e.payoutLocked(ctx, task); err != nil {
			e.logPayoutError(task.ID, op, err)
		}
	}
	return d, nil
}

func (e *Engine) disputeTask(ctx context.Context, disputeID string) (string, error) {
	var taskID string
	err := e.view(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return err
		}
		taskID = d.TaskID
		return nil
	})
	return taskID, err
}

// GetDispute is visible to both parties of the task and admins.
func (e *Engine) GetDispute(ctx context.Context, p models.Principal, disputeID string) (*models.Dispute, error) {
	var d *models.Dispute
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		if d, err = tx.GetDispute(ctx, disputeID); err != nil {
			return err
		}
		task, err := tx.GetTask(ctx, d.TaskID)
		if err != nil {
			return err
		}
		if !task.IsParty(p.ID) && !p.IsAdmin() {
			return errs.NotFoundf("dispute %s", disputeID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDisputes lists disputes. Non-admins must name a task they are party to.
func (e *Engine) ListDisputes(ctx context.Context, p models.Principal, f models.DisputeFilter) ([]models.Dispute, error) {
	f.Limit = clampLimit(f.Limit, defaultDisputeLimit)
	if !p.IsAdmin() {
		if f.TaskID == "" {
			return nil, errs.Forbiddenf("only admins may list all disputes")
		}
		if err := e.checkParty(ctx, p, f.TaskID); err != nil {
			return nil, err
		}
	}
	var list []models.Dispute
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListDisputes(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Dispute{}
	}
	return list, nil
}
