package ledger

import (
	"context"
	"fmt"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

// Balance is a replay of a task's completed entries.
type Balance struct {
	TaskID        string        `json:"task_id"`
	Currency      string        `json:"currency"`
	Charged       models.Amount `json:"charged"`
	Held          models.Amount `json:"held"`
	Released      models.Amount `json:"released"`
	Refunded      models.Amount `json:"refunded"`
	Fees          models.Amount `json:"fees"`
	PaidOut       models.Amount `json:"paid_out"`
	FailedPayouts int           `json:"failed_payouts"`
	Entries       int           `json:"entries"`
}

// Escrow is what the platform still holds for the task.
func (b Balance) Escrow() models.Amount {
	return b.Held - b.Released - b.Refunded - b.Fees
}

// Unpaid is released money that has not reached the helper's account yet.
func (b Balance) Unpaid() models.Amount {
	return b.Released - b.PaidOut
}

// Replay folds entries into a Balance. Pending and failed entries moved no money.
func Replay(taskID string, entries []models.LedgerEntry) Balance {
	b := Balance{TaskID: taskID, Entries: len(entries)}
	for _, e := range entries {
		if b.Currency == "" {
			b.Currency = e.Currency
		}
		if e.Status == models.EntryFailed && e.Kind == models.EntryPayout {
			b.FailedPayouts++
		}
		if e.Status != models.EntryCompleted {
			continue
		}
		switch e.Kind {
		case models.EntryCharge:
			b.Charged += e.Amount
		case models.EntryHold:
			b.Held += e.Amount
		case models.EntryRelease:
			b.Released += e.Amount
		case models.EntryRefund:
			b.Refunded += e.Amount
		case models.EntryFee:
			b.Fees += e.Amount
		case models.EntryPayout:
			b.PaidOut += e.Amount
		}
	}
	return b
}

func (l *Ledger) BalanceFor(ctx context.Context, tx store.EntryRepository, taskID string) (Balance, error) {
	entries, err := tx.ListEntries(ctx, taskID)
	if err != nil {
		return Balance{}, fmt.Errorf("loading entries: %w", err)
	}
	return Replay(taskID, entries), nil
}

// Reconcile checks the money invariants of task against its ledger.
// Terminal tasks must net to zero escrow; live tasks must never be overdrawn.
func (l *Ledger) Reconcile(ctx context.Context, tx store.EntryRepository, task *models.Task) error {
	b, err := l.BalanceFor(ctx, tx, task.ID)
	if err != nil {
		return err
	}
	return Check(task, b)
}

// Check applies the reconciliation rules to an already computed balance.
func Check(task *models.Task, b Balance) error {
	if b.Charged != b.Held {
		return errs.Reconciliationf(task.ID, "charged %s != held %s", b.Charged, b.Held)
	}
	if b.Escrow() < 0 {
		return errs.Reconciliationf(task.ID, "escrow overdrawn: %s", b.Escrow())
	}
	if b.PaidOut > b.Released {
		return errs.Reconciliationf(task.ID, "paid out %s exceeds released %s", b.PaidOut, b.Released)
	}
	if task.Status.IsTerminal() && b.Escrow() != 0 {
		return errs.Reconciliationf(task.ID, "terminal task %s still holds %s (held %s, released %s, refunded %s, fees %s)",
			task.Status, b.Escrow(), b.Held, b.Released, b.Refunded, b.Fees)
	}
	if !task.Status.IsTerminal() && b.Released+b.Refunded > 0 {
		return errs.Reconciliationf(task.ID, "live task %s has settled funds", task.Status)
	}
	return nil
}

// Earnings summarizes a helper's money across tasks.
type Earnings struct {
	HelperID  string        `json:"helper_id"`
	Available models.Amount `json:"available"`
	Pending   models.Amount `json:"pending"`
	PaidOut   models.Amount `json:"paid_out"`
}

// EarningsFor derives a helper's earnings: released but unpaid funds are
// available, escrow on live matched tasks is pending.
func (l *Ledger) EarningsFor(ctx context.Context, tx store.Tx, helperID string) (Earnings, error) {
	out := Earnings{HelperID: helperID}
	entries, err := tx.ListEntriesByParty(ctx, helperID)
	if err != nil {
		return out, fmt.Errorf("loading helper entries: %w", err)
	}
	for _, e := range entries {
		if e.Status != models.EntryCompleted {
			continue
		}
		switch {
		case e.Kind == models.EntryRelease && e.ToParty == helperID:
			out.Available += e.Amount
		case e.Kind == models.EntryPayout && e.FromParty == helperID:
			out.PaidOut += e.Amount
		}
	}
	out.Available -= out.PaidOut

	tasks, err := tx.ListTasks(ctx, models.TaskFilter{HelperID: helperID})
	if err != nil {
		return out, fmt.Errorf("loading helper tasks: %w", err)
	}
	for i := range tasks {
		if tasks[i].Status != models.TaskMatched && tasks[i].Status != models.TaskInProgress {
			continue
		}
		b, err := l.BalanceFor(ctx, tx, tasks[i].ID)
		if err != nil {
			return out, err
		}
		out.Pending += b.Escrow()
	}
	return out, nil
}
