package core

import (
	"context"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/ledger"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/policy"
	"github.com/slyt3/GetItDone/internal/store"
)

// payoutLocked sends any released but unpaid funds to the helper and records
// the outcome. The caller holds the task lock. A processor failure is
// recorded as a failed payout entry and is not returned.
func (e *Engine) payoutLocked(ctx context.Context, task *models.Task) error {
	var due models.Amount
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		due, err = e.escrow.PayoutDue(ctx, tx, task)
		return err
	})
	if err != nil || due <= 0 {
		return err
	}

	receipt, sendErr := e.escrow.SendPayout(ctx, task, due)
	_, err = e.mutateLocked(ctx, task.ID, "payout", func(tx store.Tx, out *events.Outbox, t *models.Task) error {
		return e.escrow.RecordPayout(ctx, tx, out, t, due, receipt, sendErr)
	})
	if err != nil {
		logging.Critical("payout_without_ledger", logging.Fields{
			Component: "core",
			TaskID:    task.ID,
			PartyID:   task.MatchedHelperID,
			Amount:    int64(due),
			Method:    receipt.Reference,
			Error:     err.Error(),
		})
		return err
	}
	if sendErr == nil {
		logging.Info("payout_sent", logging.Fields{Component: "core", TaskID: task.ID, PartyID: task.MatchedHelperID, Amount: int64(due)})
	}
	return nil
}

// RetryPayout re-attempts the payout of released funds after a failure.
func (e *Engine) RetryPayout(ctx context.Context, p models.Principal, taskID string) (ledger.Balance, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()
	if err := e.checkHalted(taskID); err != nil {
		return ledger.Balance{}, err
	}

	var task *models.Task
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, taskID)
		return err
	})
	if err != nil {
		return ledger.Balance{}, err
	}
	if p.ID != task.MatchedHelperID && !p.IsAdmin() {
		return ledger.Balance{}, errs.Forbiddenf("only the helper may retry payouts of task %s", taskID)
	}
	if err := e.payoutLocked(ctx, task); err != nil {
		return ledger.Balance{}, err
	}
	return e.balance(ctx, taskID)
}

// Settlement is the result of an admin split of a frozen or stuck escrow.
type Settlement struct {
	Task     *models.Task  `json:"task"`
	Released models.Amount `json:"released"`
	Refunded models.Amount `json:"refunded"`
}

// Settle splits the remaining escrow of a task: helperAmount is released to
// the helper with the fee applied and the rest returned to the poster. The
// task ends completed when the helper receives anything, cancelled
// otherwise. Any active dispute must be resolved or closed first.
func (e *Engine) Settle(ctx context.Context, p models.Principal, taskID string, helperAmount models.Amount) (*Settlement, error) {
	if !p.IsAdmin() {
		return nil, errs.Forbiddenf("only admins may settle escrow")
	}
	if err := e.Authorize(p, policy.EscrowSettle, map[string]interface{}{"amount": helperAmount}); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(taskID)
	defer unlock()

	res := &Settlement{}
	task, err := e.mutateLocked(ctx, taskID, "settle", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		if task.MatchedHelperID == "" {
			return errs.InvalidStatef(task.ID, "task %s has no matched helper", task.ID)
		}
		var err error
		res.Released, res.Refunded, err = e.escrow.Settle(ctx, tx, out, task, helperAmount)
		if err != nil {
			return err
		}
		to := models.TaskCancelled
		if helperAmount > 0 {
			to = models.TaskCompleted
		}
		return e.lifecycle.Amend(ctx, tx, out, task, to)
	})
	if err != nil {
		return nil, err
	}
	res.Task = task
	logging.Info("escrow_settled", logging.Fields{Component: "core", TaskID: taskID, PartyID: p.ID, Amount: int64(res.Released)})
	if err := e.payoutLocked(ctx, task); err != nil {
		e.logPayoutError(taskID, "settle", err)
	}
	return res, nil
}

// Balance is the derived money position of a task, visible to its parties.
func (e *Engine) Balance(ctx context.Context, p models.Principal, taskID string) (ledger.Balance, error) {
	if err := e.checkParty(ctx, p, taskID); err != nil {
		return ledger.Balance{}, err
	}
	return e.balance(ctx, taskID)
}

func (e *Engine) balance(ctx context.Context, taskID string) (ledger.Balance, error) {
	var b ledger.Balance
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		b, err = e.ledger.BalanceFor(ctx, tx, taskID)
		return err
	})
	return b, err
}

// ListEntries returns a task's ledger in seq order.
func (e *Engine) ListEntries(ctx context.Context, p models.Principal, taskID string) ([]models.LedgerEntry, error) {
	if err := e.checkParty(ctx, p, taskID); err != nil {
		return nil, err
	}
	var list []models.LedgerEntry
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListEntries(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.LedgerEntry{}
	}
	return list, nil
}

// Earnings summarizes what a helper has earned. Helpers see only their own.
func (e *Engine) Earnings(ctx context.Context, p models.Principal, helperID string) (ledger.Earnings, error) {
	if helperID == "" {
		helperID = p.ID
	}
	if helperID != p.ID && !p.IsAdmin() {
		return ledger.Earnings{}, errs.Forbiddenf("earnings of %s", helperID)
	}
	var out ledger.Earnings
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = e.ledger.EarningsFor(ctx, tx, helperID)
		return err
	})
	return out, err
}

// checkParty hides tasks the caller has no part in behind NotFound.
func (e *Engine) checkParty(ctx context.Context, p models.Principal, taskID string) error {
	return e.view(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !task.IsParty(p.ID) && !p.IsAdmin() {
			return errs.NotFoundf("task %s", taskID)
		}
		return nil
	})
}

func (e *Engine) logPayoutError(taskID, op string, err error) {
	logging.Error("payout_after_settlement_failed", logging.Fields{Component: "core", TaskID: taskID, Method: op, Error: err.Error()})
}
