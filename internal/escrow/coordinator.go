// Package escrow moves task money through the ledger: charge and hold on
// match, release and fee on completion, refund on cancellation, and the
// payout to the helper's external account.
package escrow

import (
	"context"
	"errors"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/ledger"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/payment"
	"github.com/slyt3/GetItDone/internal/store"
)

// DefaultFeeBps is the platform fee, 5%.
const DefaultFeeBps int64 = 500

// Coordinator is the only writer of ledger entries.
type Coordinator struct {
	ledger    *ledger.Ledger
	processor payment.Processor
	feeBps    int64
}

func New(l *ledger.Ledger, p payment.Processor, feeBps int64) *Coordinator {
	if feeBps < 0 {
		feeBps = DefaultFeeBps
	}
	return &Coordinator{ledger: l, processor: p, feeBps: feeBps}
}

func (c *Coordinator) FeeBps() int64 { return c.feeBps }

// Charge collects the offer amount from the poster. It talks to the
// processor and must run outside any store transaction.
func (c *Coordinator) Charge(ctx context.Context, task *models.Task, offer *models.Offer) (payment.Receipt, error) {
	receipt, err := c.processor.Charge(ctx, task.PosterID, offer.ProposedAmount, task.Currency)
	if err != nil {
		logging.Warn("charge_declined", logging.Fields{
			Component: "escrow",
			TaskID:    task.ID,
			OfferID:   offer.ID,
			PartyID:   task.PosterID,
			Amount:    int64(offer.ProposedAmount),
			Error:     err.Error(),
		})
		return payment.Receipt{}, errs.PaymentDeclined(task.ID, err)
	}
	if receipt.Amount != 0 && receipt.Amount != offer.ProposedAmount {
		return payment.Receipt{}, errs.PaymentDeclined(task.ID,
			errors.New("processor charged "+receipt.Amount.String()+", expected "+offer.ProposedAmount.String()))
	}
	return receipt, nil
}

// Void refunds a charge whose match was never recorded. Like Charge it runs
// outside any store transaction.
func (c *Coordinator) Void(ctx context.Context, task *models.Task, receipt payment.Receipt) error {
	refund, err := c.processor.Refund(ctx, receipt)
	if err != nil {
		return err
	}
	logging.Warn("charge_voided", logging.Fields{
		Component: "escrow",
		TaskID:    task.ID,
		PartyID:   task.PosterID,
		Amount:    int64(receipt.Amount),
		Method:    receipt.Reference + "->" + refund.Reference,
	})
	return nil
}

// OnMatch records the successful charge and the escrow hold.
func (c *Coordinator) OnMatch(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, offer *models.Offer, receipt payment.Receipt) error {
	amount := offer.ProposedAmount
	if _, err := c.ledger.Record(ctx, tx, out, task, ledger.Entry{
		From: task.PosterID, To: models.PartyEscrow, Kind: models.EntryCharge,
		Amount: amount, Reference: receipt.Reference,
	}); err != nil {
		return err
	}
	_, err := c.ledger.Record(ctx, tx, out, task, ledger.Entry{
		From: models.PartyEscrow, To: models.PartyEscrow, Kind: models.EntryHold,
		Amount: amount, Reference: offer.ID,
	})
	return err
}

// CheckUnfrozen fails while the task's escrow is frozen or any dispute is active.
func CheckUnfrozen(ctx context.Context, tx store.Tx, task *models.Task) error {
	if task.EscrowFrozen {
		return errs.EscrowFrozen(task.ID)
	}
	active, err := tx.ActiveDispute(ctx, task.ID)
	if err != nil {
		return err
	}
	if active != nil {
		return errs.EscrowFrozen(task.ID)
	}
	return nil
}

// OnComplete releases the held escrow to the helper minus the platform fee.
func (c *Coordinator) OnComplete(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task) (models.Amount, error) {
	if err := CheckUnfrozen(ctx, tx, task); err != nil {
		return 0, err
	}
	b, err := c.ledger.BalanceFor(ctx, tx, task.ID)
	if err != nil {
		return 0, err
	}
	return c.release(ctx, tx, out, task, b.Escrow())
}

// release pays gross to the helper as release + fee.
func (c *Coordinator) release(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, gross models.Amount) (models.Amount, error) {
	if gross <= 0 {
		return 0, nil
	}
	if task.MatchedHelperID == "" {
		return 0, errs.InvalidStatef(task.ID, "no matched helper to release funds to")
	}
	fee := models.FeeOf(gross, c.feeBps)
	net := gross - fee
	if net > 0 {
		if _, err := c.ledger.Record(ctx, tx, out, task, ledger.Entry{
			From: models.PartyEscrow, To: task.MatchedHelperID, Kind: models.EntryRelease, Amount: net,
		}); err != nil {
			return 0, err
		}
	}
	if fee > 0 {
		if _, err := c.ledger.Record(ctx, tx, out, task, ledger.Entry{
			From: models.PartyEscrow, To: models.PartyPlatform, Kind: models.EntryFee, Amount: fee,
		}); err != nil {
			return 0, err
		}
	}
	out.Add(models.EventPaymentReleased, task.ID, map[string]interface{}{
		"helper_id": task.MatchedHelperID,
		"amount":    int64(net),
		"fee":       int64(fee),
		"currency":  task.Currency,
	})
	return net, nil
}

// OnCancel refunds whatever escrow still holds to the poster. No-op when
// nothing is held.
func (c *Coordinator) OnCancel(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task) (models.Amount, error) {
	if err := CheckUnfrozen(ctx, tx, task); err != nil {
		return 0, err
	}
	b, err := c.ledger.BalanceFor(ctx, tx, task.ID)
	if err != nil {
		return 0, err
	}
	return c.refund(ctx, tx, out, task, b.Escrow())
}

func (c *Coordinator) refund(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, amount models.Amount) (models.Amount, error) {
	if amount <= 0 {
		return 0, nil
	}
	if _, err := c.ledger.Record(ctx, tx, out, task, ledger.Entry{
		From: models.PartyEscrow, To: task.PosterID, Kind: models.EntryRefund, Amount: amount,
	}); err != nil {
		return 0, err
	}
	out.Add(models.EventPaymentRefunded, task.ID, map[string]interface{}{
		"poster_id": task.PosterID,
		"amount":    int64(amount),
		"currency":  task.Currency,
	})
	return amount, nil
}

// Settle splits the remaining escrow after a mediated dispute: helperAmount
// goes out as release + fee, the rest is refunded.
func (c *Coordinator) Settle(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, helperAmount models.Amount) (released, refunded models.Amount, err error) {
	if err := CheckUnfrozen(ctx, tx, task); err != nil {
		return 0, 0, err
	}
	b, err := c.ledger.BalanceFor(ctx, tx, task.ID)
	if err != nil {
		return 0, 0, err
	}
	escrowed := b.Escrow()
	if helperAmount < 0 || helperAmount > escrowed {
		return 0, 0, errs.Validationf("helper amount %s outside escrow %s", helperAmount, escrowed)
	}
	if released, err = c.release(ctx, tx, out, task, helperAmount); err != nil {
		return 0, 0, err
	}
	if refunded, err = c.refund(ctx, tx, out, task, escrowed-helperAmount); err != nil {
		return 0, 0, err
	}
	return released, refunded, nil
}

// PayoutDue is the released amount not yet paid to the helper.
func (c *Coordinator) PayoutDue(ctx context.Context, tx store.Tx, task *models.Task) (models.Amount, error) {
	if task.Status != models.TaskCompleted && task.Status != models.TaskCancelled {
		return 0, nil
	}
	b, err := c.ledger.BalanceFor(ctx, tx, task.ID)
	if err != nil {
		return 0, err
	}
	return b.Unpaid(), nil
}

// SendPayout calls the processor. It must run outside any store transaction.
func (c *Coordinator) SendPayout(ctx context.Context, task *models.Task, amount models.Amount) (payment.Receipt, error) {
	return c.processor.Payout(ctx, task.MatchedHelperID, amount, task.Currency)
}

// RecordPayout writes the payout outcome: a completed entry on success,
// a failed entry and PayoutFailed otherwise.
func (c *Coordinator) RecordPayout(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, amount models.Amount, receipt payment.Receipt, sendErr error) error {
	status := models.EntryCompleted
	if sendErr != nil {
		status = models.EntryFailed
	}
	entry, err := c.ledger.Record(ctx, tx, out, task, ledger.Entry{
		From: task.MatchedHelperID, To: models.PartyExternal, Kind: models.EntryPayout,
		Amount: amount, Status: status, Reference: receipt.Reference,
	})
	if err != nil {
		return err
	}
	if sendErr != nil {
		logging.Error("payout_failed", logging.Fields{
			Component: "escrow",
			TaskID:    task.ID,
			EntryID:   entry.ID,
			PartyID:   task.MatchedHelperID,
			Amount:    int64(amount),
			Error:     sendErr.Error(),
		})
		out.Add(models.EventPayoutFailed, task.ID, map[string]interface{}{
			"helper_id": task.MatchedHelperID,
			"amount":    int64(amount),
			"entry_id":  entry.ID,
			"error":     sendErr.Error(),
		})
	}
	return nil
}
