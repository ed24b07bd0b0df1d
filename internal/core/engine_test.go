package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/slyt3/GetItDone/internal/crypto"
	"github.com/slyt3/GetItDone/internal/disputes"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/ledger"
	"github.com/slyt3/GetItDone/internal/lifecycle"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/payment"
	"github.com/slyt3/GetItDone/internal/policy"
	"github.com/slyt3/GetItDone/internal/store"
	"github.com/slyt3/GetItDone/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	poster  = models.Principal{ID: "poster-1", Role: models.RoleUser}
	poster2 = models.Principal{ID: "poster-2", Role: models.RoleUser}
	helper  = models.Principal{ID: "helper-1", Role: models.RoleHelper}
	helper2 = models.Principal{ID: "helper-2", Role: models.RoleHelper}
	admin   = models.Principal{ID: "admin-1", Role: models.RoleAdmin}
)

type harness struct {
	ctx    context.Context
	st     *memory.Store
	signer *crypto.Signer
	proc   *payment.Simulated
	rec    *events.Recorder
	eng    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPolicy(t, nil)
}

func newHarnessWithPolicy(t *testing.T, pol *policy.Engine) *harness {
	t.Helper()
	signer, err := crypto.NewEphemeralSigner()
	require.NoError(t, err)
	h := &harness{
		ctx:    context.Background(),
		st:     memory.New(),
		signer: signer,
		proc:   payment.NewSimulated(payment.SimulatedConfig{}),
		rec:    &events.Recorder{},
	}
	h.eng, err = New(Options{
		Store:     h.st,
		Signer:    signer,
		Processor: h.proc,
		FeeBps:    -1,
		Publisher: h.rec,
		Policy:    pol,
	})
	require.NoError(t, err)
	return h
}

func draft() lifecycle.Draft {
	return lifecycle.Draft{
		Title:       "Assemble a wardrobe",
		Description: "Two-door flat pack, tools provided.",
		Category:    "handyman",
		Budget:      models.Budget{Type: models.BudgetFixed, Amount: 15000},
		Location:    models.Location{Address: "12 Elm Street"},
	}
}

func (h *harness) posted(t *testing.T) *models.Task {
	t.Helper()
	task, err := h.eng.CreateTask(h.ctx, poster, draft())
	require.NoError(t, err)
	task, err = h.eng.PublishTask(h.ctx, poster, task.ID)
	require.NoError(t, err)
	return task
}

func (h *harness) matched(t *testing.T) (*models.Task, *models.Offer) {
	t.Helper()
	task := h.posted(t)
	offer, err := h.eng.SubmitOffer(h.ctx, helper, task.ID, 0, "can do it tomorrow")
	require.NoError(t, err)
	task, err = h.eng.AcceptOffer(h.ctx, poster, offer.ID)
	require.NoError(t, err)
	return task, offer
}

func (h *harness) inProgress(t *testing.T) *models.Task {
	t.Helper()
	task, _ := h.matched(t)
	task, err := h.eng.StartTask(h.ctx, helper, task.ID)
	require.NoError(t, err)
	return task
}

func (h *harness) balance(t *testing.T, taskID string) ledger.Balance {
	t.Helper()
	b, err := h.eng.Balance(h.ctx, admin, taskID)
	require.NoError(t, err)
	return b
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t)
	task := h.inProgress(t)
	require.Equal(t, models.TaskInProgress, task.Status)
	require.EqualValues(t, 15000, h.balance(t, task.ID).Escrow())

	_, err := h.eng.MarkDone(h.ctx, helper, task.ID)
	require.NoError(t, err)
	task, err = h.eng.CompleteTask(h.ctx, poster, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskCompleted, task.Status)

	b := h.balance(t, task.ID)
	require.EqualValues(t, 15000, b.Charged)
	require.EqualValues(t, 14250, b.Released)
	require.EqualValues(t, 750, b.Fees)
	require.EqualValues(t, 14250, b.PaidOut)
	require.Zero(t, b.Escrow())
	require.EqualValues(t, 15000, h.proc.Charged(poster.ID))
	require.EqualValues(t, 14250, h.proc.PaidOut(helper.ID))

	res, err := h.eng.VerifyTask(h.ctx, poster, task.ID)
	require.NoError(t, err)
	require.True(t, res.Valid, res.ErrorMessage)
	require.Equal(t, b.Entries, res.Entries)

	types := h.rec.Types()
	for _, want := range []models.EventType{
		models.EventTaskCreated, models.EventTaskPosted, models.EventOfferSubmitted,
		models.EventTaskMatched, models.EventTaskStarted, models.EventTaskCompleted,
		models.EventPaymentReleased, models.EventLedgerEntryRecorded,
	} {
		require.Contains(t, types, want)
	}

	earn, err := h.eng.Earnings(h.ctx, helper, "")
	require.NoError(t, err)
	require.EqualValues(t, 14250, earn.PaidOut)
	require.Zero(t, earn.Available)
}

func TestCompleteNeedsHelperDone(t *testing.T) {
	h := newHarness(t)
	task := h.inProgress(t)

	_, err := h.eng.CompleteTask(h.ctx, poster, task.ID)
	require.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = h.eng.MarkDone(h.ctx, poster, task.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = h.eng.MarkDone(h.ctx, helper, task.ID)
	require.NoError(t, err)
	_, err = h.eng.CompleteTask(h.ctx, helper, task.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestDeclinedChargeChangesNothing(t *testing.T) {
	h := newHarness(t)
	task := h.posted(t)
	offer, err := h.eng.SubmitOffer(h.ctx, helper, task.ID, 0, "")
	require.NoError(t, err)

	h.proc.FailNextCharges(1)
	_, err = h.eng.AcceptOffer(h.ctx, poster, offer.ID)
	require.ErrorIs(t, err, errs.ErrPaymentDeclined)

	got, err := h.eng.GetTask(h.ctx, poster, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskPosted, got.Status)
	require.Empty(t, got.MatchedHelperID)
	o, err := h.eng.GetOffer(h.ctx, poster, offer.ID)
	require.NoError(t, err)
	require.Equal(t, models.OfferPending, o.Status)
	require.Zero(t, h.balance(t, task.ID).Entries)

	// The poster can simply try again.
	got, err = h.eng.AcceptOffer(h.ctx, poster, offer.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskMatched, got.Status)
}

func TestConcurrentAcceptMatchesOnce(t *testing.T) {
	h := newHarness(t)
	task := h.posted(t)
	o1, err := h.eng.SubmitOffer(h.ctx, helper, task.ID, 0, "")
	require.NoError(t, err)
	o2, err := h.eng.SubmitOffer(h.ctx, helper2, task.ID, 0, "")
	require.NoError(t, err)

	var won, lost atomic.Int32
	var g errgroup.Group
	for _, id := range []string{o1.ID, o2.ID, o1.ID, o2.ID} {
		g.Go(func() error {
			_, err := h.eng.AcceptOffer(h.ctx, poster, id)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, errs.ErrAlreadyMatched):
				lost.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, won.Load())
	require.EqualValues(t, 3, lost.Load())
	require.EqualValues(t, 15000, h.proc.Charged(poster.ID), "poster charged exactly once")

	offers, err := h.eng.ListOffers(h.ctx, poster, task.ID)
	require.NoError(t, err)
	accepted := 0
	for _, o := range offers {
		if o.Status == models.OfferAccepted {
			accepted++
		} else {
			require.Equal(t, models.OfferRejected, o.Status)
		}
	}
	require.Equal(t, 1, accepted)
	require.Zero(t, h.eng.ActiveLocks())
}

func TestCancelRefundsEscrow(t *testing.T) {
	h := newHarness(t)
	task, _ := h.matched(t)

	_, err := h.eng.CancelTask(h.ctx, helper2, task.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	task, err = h.eng.CancelTask(h.ctx, helper, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskCancelled, task.Status)
	b := h.balance(t, task.ID)
	require.EqualValues(t, 15000, b.Refunded)
	require.Zero(t, b.Escrow())

	_, err = h.eng.CancelTask(h.ctx, poster, task.ID)
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestCancelPostedRejectsOffers(t *testing.T) {
	h := newHarness(t)
	task := h.posted(t)
	offer, err := h.eng.SubmitOffer(h.ctx, helper, task.ID, 0, "")
	require.NoError(t, err)

	_, err = h.eng.CancelTask(h.ctx, helper, task.ID)
	require.ErrorIs(t, err, errs.ErrForbidden, "helper is not yet a party of a posted task")

	_, err = h.eng.CancelTask(h.ctx, poster, task.ID)
	require.NoError(t, err)
	o, err := h.eng.GetOffer(h.ctx, helper, offer.ID)
	require.NoError(t, err)
	require.Equal(t, models.OfferRejected, o.Status)
}

func TestDisputeFreezesAndResolves(t *testing.T) {
	h := newHarness(t)
	task := h.inProgress(t)

	d, err := h.eng.OpenDispute(h.ctx, helper, task.ID, disputes.OpenRequest{
		Type:        models.DisputePayment,
		Description: "poster refuses to confirm",
	})
	require.NoError(t, err)
	require.Equal(t, poster.ID, d.RespondentID)

	_, err = h.eng.MarkDone(h.ctx, helper, task.ID)
	require.NoError(t, err)
	_, err = h.eng.CompleteTask(h.ctx, poster, task.ID)
	require.ErrorIs(t, err, errs.ErrEscrowFrozen)
	_, err = h.eng.CancelTask(h.ctx, poster, task.ID)
	require.ErrorIs(t, err, errs.ErrEscrowFrozen)
	require.EqualValues(t, 15000, h.balance(t, task.ID).Escrow())

	_, err = h.eng.ResolveDispute(h.ctx, poster, d.ID, models.FavorComplainant)
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = h.eng.InvestigateDispute(h.ctx, admin, d.ID)
	require.NoError(t, err)
	res, err := h.eng.ResolveDispute(h.ctx, admin, d.ID, models.FavorComplainant)
	require.NoError(t, err)
	require.Equal(t, models.DisputeResolved, res.Dispute.Status)
	require.EqualValues(t, 14250, res.Outcome.Released)
	require.Equal(t, models.TaskCompleted, res.Outcome.Status)

	b := h.balance(t, task.ID)
	require.EqualValues(t, 14250, b.PaidOut, "payout follows the resolution")
	require.Zero(t, b.Escrow())
}

func TestFrozenEscrowWinsOverStateErrors(t *testing.T) {
	h := newHarness(t)
	matched, _ := h.matched(t)
	started := h.inProgress(t)

	for name, task := range map[string]*models.Task{"matched": matched, "in progress, not done": started} {
		t.Run(name, func(t *testing.T) {
			_, err := h.eng.OpenDispute(h.ctx, poster, task.ID, disputes.OpenRequest{
				Type:        models.DisputeDelivery,
				Description: "helper went quiet",
			})
			require.NoError(t, err)

			_, err = h.eng.CompleteTask(h.ctx, poster, task.ID)
			require.ErrorIs(t, err, errs.ErrEscrowFrozen)
			_, err = h.eng.CancelTask(h.ctx, poster, task.ID)
			require.ErrorIs(t, err, errs.ErrEscrowFrozen)
			require.EqualValues(t, 15000, h.balance(t, task.ID).Escrow())
		})
	}
}

func TestMediationThenSettle(t *testing.T) {
	h := newHarness(t)
	task, _ := h.matched(t)
	d, err := h.eng.OpenDispute(h.ctx, poster, task.ID, disputes.OpenRequest{
		Type:        models.DisputeQuality,
		Description: "half done",
	})
	require.NoError(t, err)

	_, err = h.eng.Settle(h.ctx, admin, task.ID, 10000)
	require.ErrorIs(t, err, errs.ErrEscrowFrozen)

	res, err := h.eng.ResolveDispute(h.ctx, admin, d.ID, models.Mediation)
	require.NoError(t, err)
	require.Equal(t, models.TaskMatched, res.Outcome.Status)

	_, err = h.eng.Settle(h.ctx, poster, task.ID, 10000)
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = h.eng.Settle(h.ctx, admin, task.ID, 20000)
	require.ErrorIs(t, err, errs.ErrValidation)

	s, err := h.eng.Settle(h.ctx, admin, task.ID, 10000)
	require.NoError(t, err)
	require.EqualValues(t, 9500, s.Released)
	require.EqualValues(t, 5000, s.Refunded)
	require.Equal(t, models.TaskCompleted, s.Task.Status)

	b := h.balance(t, task.ID)
	want := ledger.Balance{
		TaskID: task.ID, Currency: "USD",
		Charged: 15000, Held: 15000, Released: 9500, Refunded: 5000, Fees: 500, PaidOut: 9500,
		Entries: b.Entries,
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("balance mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedPayoutCanBeRetried(t *testing.T) {
	h := newHarness(t)
	task := h.inProgress(t)
	_, err := h.eng.MarkDone(h.ctx, helper, task.ID)
	require.NoError(t, err)

	h.proc.FailNextPayouts(1)
	task, err = h.eng.CompleteTask(h.ctx, poster, task.ID)
	require.NoError(t, err, "a failed payout does not undo completion")
	b := h.balance(t, task.ID)
	require.Equal(t, 1, b.FailedPayouts)
	require.EqualValues(t, 14250, b.Unpaid())
	require.Contains(t, h.rec.Types(), models.EventPayoutFailed)

	earn, err := h.eng.Earnings(h.ctx, helper, helper.ID)
	require.NoError(t, err)
	require.EqualValues(t, 14250, earn.Available)

	_, err = h.eng.RetryPayout(h.ctx, helper2, task.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)
	b, err = h.eng.RetryPayout(h.ctx, helper, task.ID)
	require.NoError(t, err)
	require.EqualValues(t, 14250, b.PaidOut)
	require.Zero(t, b.Unpaid())
}

func TestReconcileHaltsUnbalancedTask(t *testing.T) {
	h := newHarness(t)
	task, _ := h.matched(t)
	other, _ := h.matched(t)

	// A release written behind the engine's back on a live task.
	led := ledger.New(h.signer)
	require.NoError(t, h.st.WithTx(h.ctx, func(tx store.Tx) error {
		cur, err := tx.GetTask(h.ctx, task.ID)
		if err != nil {
			return err
		}
		_, err = led.Record(h.ctx, tx, events.NewOutbox(), cur, ledger.Entry{
			From: models.PartyEscrow, To: helper.ID, Kind: models.EntryRelease, Amount: 1000,
		})
		return err
	}))

	reports, err := h.eng.ReconcileAll(h.ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, task.ID, reports[0].TaskID)
	require.True(t, h.eng.Halted(task.ID))
	require.False(t, h.eng.Halted(other.ID))

	_, err = h.eng.StartTask(h.ctx, helper, task.ID)
	require.ErrorIs(t, err, errs.ErrReconciliation)
	_, err = h.eng.StartTask(h.ctx, helper, other.ID)
	require.NoError(t, err)

	require.ErrorIs(t, h.eng.Resume(h.ctx, admin, task.ID), errs.ErrReconciliation)
	require.True(t, h.eng.Halted(task.ID))

	results, err := h.eng.VerifyAll(h.ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.True(t, r.Valid, "chains stay intact, only the balance is wrong")
	}
}

func TestVisibility(t *testing.T) {
	h := newHarness(t)
	d, err := h.eng.CreateTask(h.ctx, poster, draft())
	require.NoError(t, err)

	_, err = h.eng.GetTask(h.ctx, helper, d.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = h.eng.GetTask(h.ctx, admin, d.ID)
	require.NoError(t, err)

	_, err = h.eng.PublishTask(h.ctx, helper, d.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	list, err := h.eng.ListTasks(h.ctx, helper, models.TaskFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	task, _ := h.matched(t)
	_, err = h.eng.Balance(h.ctx, helper2, task.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = h.eng.Earnings(h.ctx, helper2, helper.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = h.eng.ListDisputes(h.ctx, helper, models.DisputeFilter{})
	require.ErrorIs(t, err, errs.ErrForbidden)
	entries, err := h.eng.ListEntries(h.ctx, helper, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestListTasksLimitIgnoresHiddenDrafts(t *testing.T) {
	h := newHarness(t)
	open := h.posted(t)
	for i := 0; i < 3; i++ {
		_, err := h.eng.CreateTask(h.ctx, poster2, draft())
		require.NoError(t, err)
	}

	list, err := h.eng.ListTasks(h.ctx, helper, models.TaskFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, open.ID, list[0].ID)

	list, err = h.eng.ListTasks(h.ctx, poster2, models.TaskFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 4, "own drafts plus the open task")

	list, err = h.eng.ListTasks(h.ctx, admin, models.TaskFilter{Status: models.TaskDraft})
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestAuthorize(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.Authorize(poster, "task:create", nil))
	require.ErrorIs(t, h.eng.Authorize(poster, "offer:submit", nil), errs.ErrForbidden)
	require.NoError(t, h.eng.Authorize(helper, "offer:submit", nil))
	require.ErrorIs(t, h.eng.Authorize(helper, "escrow:settle", nil), errs.ErrForbidden)
	require.NoError(t, h.eng.Authorize(admin, "escrow:settle", nil))
	require.ErrorIs(t, h.eng.Authorize(models.Principal{}, "task:read", nil), errs.ErrForbidden)
}

func TestRatingGatesLaterOffers(t *testing.T) {
	h := newHarness(t)
	task := h.inProgress(t)

	_, err := h.eng.RateTask(h.ctx, poster, task.ID, 2, "late")
	require.ErrorIs(t, err, errs.ErrInvalidState, "only completed tasks are rated")

	_, err = h.eng.MarkDone(h.ctx, helper, task.ID)
	require.NoError(t, err)
	_, err = h.eng.CompleteTask(h.ctx, poster, task.ID)
	require.NoError(t, err)

	_, err = h.eng.RateTask(h.ctx, helper, task.ID, 5, "")
	require.ErrorIs(t, err, errs.ErrForbidden)
	r, err := h.eng.RateTask(h.ctx, poster, task.ID, 2, "late")
	require.NoError(t, err)
	require.Equal(t, helper.ID, r.HelperID)
	_, err = h.eng.RateTask(h.ctx, poster, task.ID, 3, "")
	require.ErrorIs(t, err, errs.ErrInvalidState, "one rating per task")
	require.Contains(t, h.rec.Types(), models.EventTaskRated)

	hr, err := h.eng.HelperRating(h.ctx, poster2, helper.ID)
	require.NoError(t, err)
	require.Equal(t, models.HelperRating{HelperID: helper.ID, Average: 2, Count: 1}, hr)

	d := draft()
	d.MinRating = 4
	picky, err := h.eng.CreateTask(h.ctx, poster2, d)
	require.NoError(t, err)
	picky, err = h.eng.PublishTask(h.ctx, poster2, picky.ID)
	require.NoError(t, err)

	_, err = h.eng.SubmitOffer(h.ctx, helper, picky.ID, 0, "")
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = h.eng.SubmitOffer(h.ctx, helper2, picky.ID, 0, "")
	require.NoError(t, err, "unrated helper may offer")
}

func TestAcceptChecksAmountCap(t *testing.T) {
	h := newHarness(t)
	d := draft()
	d.Budget = models.Budget{Type: models.BudgetFixed, Amount: 6_000_000}
	task, err := h.eng.CreateTask(h.ctx, poster, d)
	require.NoError(t, err)
	task, err = h.eng.PublishTask(h.ctx, poster, task.ID)
	require.NoError(t, err)
	offer, err := h.eng.SubmitOffer(h.ctx, helper, task.ID, 0, "")
	require.NoError(t, err)

	_, err = h.eng.AcceptOffer(h.ctx, poster, offer.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)
	require.Zero(t, h.proc.Charged(poster.ID), "nothing charged before the policy check")

	got, err := h.eng.GetTask(h.ctx, poster, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskPosted, got.Status)
}

func TestConditionedRulesSeeOperationParams(t *testing.T) {
	cfg := policy.DefaultConfig()
	cfg.Rules = append(cfg.Rules,
		policy.Rule{ID: "helpers-cancel-before-start", Role: string(models.RoleHelper), Deny: []string{policy.TaskCancel},
			Conditions: []policy.Condition{{Key: "status", Operator: "eq", Value: string(models.TaskInProgress)}}},
		policy.Rule{ID: "small-settlements", Role: string(models.RoleAdmin), Deny: []string{policy.EscrowSettle},
			Conditions: []policy.Condition{{Key: "amount", Operator: "gt", Value: "10000"}}},
	)
	pol, err := policy.NewEngineFromConfig(cfg)
	require.NoError(t, err)
	h := newHarnessWithPolicy(t, pol)

	task := h.inProgress(t)
	_, err = h.eng.CancelTask(h.ctx, helper, task.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = h.eng.Settle(h.ctx, admin, task.ID, 12000)
	require.ErrorIs(t, err, errs.ErrForbidden)
	require.EqualValues(t, 15000, h.balance(t, task.ID).Escrow())

	res, err := h.eng.Settle(h.ctx, admin, task.ID, 9000)
	require.NoError(t, err)
	require.Equal(t, models.TaskCompleted, res.Task.Status)

	matched, _ := h.matched(t)
	_, err = h.eng.CancelTask(h.ctx, helper, matched.ID)
	require.NoError(t, err, "matched status does not meet the condition")
}

// flakyStore fails write transactions while broken is set.
type flakyStore struct {
	*memory.Store
	broken atomic.Bool
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if s.broken.Load() {
		return errors.New("database is locked")
	}
	return s.Store.WithTx(ctx, fn)
}

func TestAcceptRefundsChargeWhenMatchFails(t *testing.T) {
	h := newHarness(t)
	task := h.posted(t)
	offer, err := h.eng.SubmitOffer(h.ctx, helper, task.ID, 0, "")
	require.NoError(t, err)

	flaky := &flakyStore{Store: h.st}
	eng, err := New(Options{Store: flaky, Signer: h.signer, Processor: h.proc, FeeBps: -1})
	require.NoError(t, err)

	flaky.broken.Store(true)
	_, err = eng.AcceptOffer(h.ctx, poster, offer.ID)
	require.Error(t, err)
	require.Zero(t, h.proc.Charged(poster.ID), "charge refunded")
	require.False(t, eng.Halted(task.ID))

	flaky.broken.Store(false)
	matched, err := eng.AcceptOffer(h.ctx, poster, offer.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskMatched, matched.Status)
	require.EqualValues(t, 15000, h.proc.Charged(poster.ID))
}
