// Package offers manages helper offers on posted tasks and records the
// match when the poster accepts one.
package offers

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/lifecycle"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/ratings"
	"github.com/slyt3/GetItDone/internal/store"
)

const maxMessageLen = 1000

// Resolver owns Offer records and the task's matched helper.
type Resolver struct {
	lifecycle *lifecycle.Machine
	now       func() time.Time
}

func New(lc *lifecycle.Machine) *Resolver {
	return &Resolver{lifecycle: lc, now: time.Now}
}

// Submit creates a pending offer by helperID. amount may be zero for a fixed
// budget, in which case the fixed amount is proposed.
func (r *Resolver) Submit(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, helperID string, amount models.Amount, message string) (*models.Offer, error) {
	if task.Status != models.TaskPosted {
		return nil, errs.TaskNotOpen(task.ID, task.Status)
	}
	if helperID == "" {
		return nil, errs.Validationf("helper id is required")
	}
	if helperID == task.PosterID {
		return nil, errs.Validationf("poster cannot offer on their own task")
	}
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > maxMessageLen {
		return nil, errs.Validationf("message longer than %d characters", maxMessageLen)
	}
	if amount == 0 && task.Budget.Type == models.BudgetFixed {
		amount = task.Budget.Amount
	}
	if !task.Budget.Accepts(amount) {
		return nil, errs.Validationf("proposed amount %s outside budget", amount)
	}

	if err := ratings.MeetsMinimum(ctx, tx, task, helperID); err != nil {
		return nil, err
	}

	existing, err := tx.ListOffers(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range existing {
		if o.HelperID == helperID && o.Status == models.OfferPending {
			return nil, errs.Validationf("helper %s already has pending offer %s", helperID, o.ID)
		}
	}

	now := r.now().UTC()
	offer := &models.Offer{
		ID:             uuid.NewString(),
		TaskID:         task.ID,
		HelperID:       helperID,
		ProposedAmount: amount,
		Message:        message,
		Status:         models.OfferPending,
		ProposedAt:     now,
		UpdatedAt:      now,
	}
	if err := tx.InsertOffer(ctx, offer); err != nil {
		return nil, err
	}
	out.Add(models.EventOfferSubmitted, task.ID, map[string]interface{}{
		"offer_id":  offer.ID,
		"helper_id": helperID,
		"amount":    int64(amount),
	})
	return offer, nil
}

// CheckAccept reports why offer cannot be accepted on task by actorID.
// It reads nothing and writes nothing, so the engine can run it before
// charging the poster and again inside the transaction.
func CheckAccept(task *models.Task, offer *models.Offer, actorID string) error {
	if offer.TaskID != task.ID {
		return errs.Validationf("offer %s does not belong to task %s", offer.ID, task.ID)
	}
	if actorID != task.PosterID {
		return errs.Forbiddenf("only the poster may accept offers on task %s", task.ID)
	}
	if task.AcceptedOfferID != "" {
		return errs.AlreadyMatched(task.ID, task.AcceptedOfferID)
	}
	if task.Status != models.TaskPosted {
		return errs.InvalidTransition(task.ID, task.Status, models.TaskMatched)
	}
	if offer.Status != models.OfferPending {
		return errs.InvalidStatef(task.ID, "offer %s is %s", offer.ID, offer.Status)
	}
	if !task.Budget.Accepts(offer.ProposedAmount) {
		return errs.InvalidStatef(task.ID, "offer %s amount %s no longer fits the budget", offer.ID, offer.ProposedAmount)
	}
	return nil
}

// Accept marks offer accepted, rejects its pending siblings and moves the
// task posted -> matched. Escrow is recorded by the caller in the same tx.
func (r *Resolver) Accept(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, offer *models.Offer, actorID string) error {
	if err := CheckAccept(task, offer, actorID); err != nil {
		return err
	}
	siblings, err := tx.ListOffers(ctx, task.ID)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	for i := range siblings {
		s := &siblings[i]
		if s.Status == models.OfferAccepted {
			return errs.AlreadyMatched(task.ID, s.ID)
		}
		if s.ID == offer.ID || s.Status != models.OfferPending {
			continue
		}
		s.Status = models.OfferRejected
		s.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, s); err != nil {
			return err
		}
	}

	offer.Status = models.OfferAccepted
	offer.UpdatedAt = now
	if err := tx.UpdateOffer(ctx, offer); err != nil {
		return err
	}

	task.MatchedHelperID = offer.HelperID
	task.AcceptedOfferID = offer.ID
	if err := r.lifecycle.Transition(ctx, tx, out, task, models.TaskMatched); err != nil {
		return err
	}
	logging.Info("offer_accepted", logging.Fields{
		Component: "offers",
		TaskID:    task.ID,
		OfferID:   offer.ID,
		PartyID:   offer.HelperID,
		Amount:    int64(offer.ProposedAmount),
	})
	return nil
}

// Withdraw lets the offering helper pull a pending offer.
func (r *Resolver) Withdraw(ctx context.Context, tx store.Tx, out *events.Outbox, offer *models.Offer, helperID string) error {
	if helperID != offer.HelperID {
		return errs.Forbiddenf("only the offering helper may withdraw offer %s", offer.ID)
	}
	if offer.Status != models.OfferPending {
		return errs.InvalidStatef(offer.TaskID, "offer %s is %s", offer.ID, offer.Status)
	}
	offer.Status = models.OfferWithdrawn
	offer.UpdatedAt = r.now().UTC()
	if err := tx.UpdateOffer(ctx, offer); err != nil {
		return err
	}
	out.Add(models.EventOfferWithdrawn, offer.TaskID, map[string]interface{}{
		"offer_id":  offer.ID,
		"helper_id": offer.HelperID,
	})
	return nil
}
