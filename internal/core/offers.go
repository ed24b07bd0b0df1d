package core

import (
	"context"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/offers"
	"github.com/slyt3/GetItDone/internal/policy"
	"github.com/slyt3/GetItDone/internal/store"
)

// SubmitOffer creates a pending offer by p on a posted task. amount may be
// zero for fixed budgets.
func (e *Engine) SubmitOffer(ctx context.Context, p models.Principal, taskID string, amount models.Amount, message string) (*models.Offer, error) {
	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	var offer *models.Offer
	_, err := e.mutate(ctx, taskID, "submit_offer", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		var err error
		offer, err = e.offers.Submit(ctx, tx, out, task, p.ID, amount, message)
		return err
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// WithdrawOffer lets the offering helper pull a pending offer.
func (e *Engine) WithdrawOffer(ctx context.Context, p models.Principal, offerID string) (*models.Offer, error) {
	taskID, err := e.offerTask(ctx, offerID)
	if err != nil {
		return nil, err
	}
	var offer *models.Offer
	_, err = e.mutate(ctx, taskID, "withdraw_offer", func(tx store.Tx, out *events.Outbox, _ *models.Task) error {
		var err error
		if offer, err = tx.GetOffer(ctx, offerID); err != nil {
			return err
		}
		return e.offers.Withdraw(ctx, tx, out, offer, p.ID)
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// AcceptOffer matches the task to the offer's helper. The poster is charged
// first; nothing is written unless the charge succeeds, so a decline leaves
// the task posted and the offer pending. If the match cannot be written
// after a successful charge, the charge is refunded. Concurrent accepts on one task are
// serialized and the loser sees AlreadyMatched.
func (e *Engine) AcceptOffer(ctx context.Context, p models.Principal, offerID string) (*models.Task, error) {
	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	taskID, err := e.offerTask(ctx, offerID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(taskID)
	defer unlock()
	if err := e.checkHalted(taskID); err != nil {
		return nil, err
	}

	var task *models.Task
	var offer *models.Offer
	err = e.view(ctx, func(tx store.Tx) error {
		var err error
		if task, err = tx.GetTask(ctx, taskID); err != nil {
			return err
		}
		if offer, err = tx.GetOffer(ctx, offerID); err != nil {
			return err
		}
		if err := offers.CheckAccept(task, offer, p.ID); err != nil {
			return err
		}
		return e.Authorize(p, policy.OfferAccept, map[string]interface{}{
			"amount":   offer.ProposedAmount,
			"currency": task.Currency,
		})
	})
	if err != nil {
		return nil, err
	}

	receipt, err := e.escrow.Charge(ctx, task, offer)
	if err != nil {
		return nil, err
	}

	matched, err := e.mutateLocked(ctx, taskID, "accept_offer", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		offer, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if err := e.offers.Accept(ctx, tx, out, task, offer, p.ID); err != nil {
			return err
		}
		return e.escrow.OnMatch(ctx, tx, out, task, offer, receipt)
	})
	if err != nil {
		// The request may be gone but the poster still has to get the money back.
		if voidErr := e.escrow.Void(context.WithoutCancel(ctx), task, receipt); voidErr != nil {
			logging.Critical("charge_without_ledger", logging.Fields{
				Component: "core",
				TaskID:    taskID,
				OfferID:   offerID,
				PartyID:   task.PosterID,
				Amount:    int64(receipt.Amount),
				Method:    receipt.Reference,
				Error:     err.Error() + "; refund: " + voidErr.Error(),
			})
		}
		return nil, err
	}
	return matched, nil
}

func (e *Engine) offerTask(ctx context.Context, offerID string) (string, error) {
	var taskID string
	err := e.view(ctx, func(tx store.Tx) error {
		o, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		taskID = o.TaskID
		return nil
	})
	return taskID, err
}

// ListOffers returns a task's offers. The poster and admins see every
// offer; anyone else sees only their own.
func (e *Engine) ListOffers(ctx context.Context, p models.Principal, taskID string) ([]models.Offer, error) {
	var list []models.Offer
	err := e.view(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if list, err = tx.ListOffers(ctx, taskID); err != nil {
			return err
		}
		if task.PosterID == p.ID || p.IsAdmin() {
			return nil
		}
		own := list[:0]
		for _, o := range list {
			if o.HelperID == p.ID {
				own = append(own, o)
			}
		}
		list = own
		return nil
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Offer{}
	}
	return list, nil
}

// GetOffer is visible to the task's poster, the offering helper and admins.
func (e *Engine) GetOffer(ctx context.Context, p models.Principal, offerID string) (*models.Offer, error) {
	var offer *models.Offer
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		if offer, err = tx.GetOffer(ctx, offerID); err != nil {
			return err
		}
		task, err := tx.GetTask(ctx, offer.TaskID)
		if err != nil {
			return err
		}
		if offer.HelperID != p.ID && task.PosterID != p.ID && !p.IsAdmin() {
			return errs.NotFoundf("offer %s", offerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}
