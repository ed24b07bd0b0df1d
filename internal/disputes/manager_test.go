package disputes

import (
	"context"
	"testing"

	"github.com/slyt3/GetItDone/internal/crypto"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/escrow"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/ledger"
	"github.com/slyt3/GetItDone/internal/lifecycle"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/payment"
	"github.com/slyt3/GetItDone/internal/store"
	"github.com/slyt3/GetItDone/internal/store/memory"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx  context.Context
	st   *memory.Store
	led  *ledger.Ledger
	esc  *escrow.Coordinator
	m    *Manager
	task *models.Task
}

// newFixture returns a matched task with 150.00 held in escrow.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := crypto.NewEphemeralSigner()
	require.NoError(t, err)
	f := &fixture{ctx: context.Background(), st: memory.New(), led: ledger.New(signer)}
	f.esc = escrow.New(f.led, payment.NewSimulated(payment.SimulatedConfig{}), escrow.DefaultFeeBps)
	f.m = New(lifecycle.New(), f.esc)
	f.task = &models.Task{
		ID: "task-1", PosterID: "poster-1", MatchedHelperID: "helper-1",
		Status: models.TaskMatched, Currency: "USD",
		Budget: models.Budget{Type: models.BudgetFixed, Amount: 15000},
	}
	offer := &models.Offer{ID: "offer-1", TaskID: "task-1", HelperID: "helper-1", ProposedAmount: 15000}
	receipt, err := f.esc.Charge(f.ctx, f.task, offer)
	require.NoError(t, err)
	require.NoError(t, f.st.WithTx(f.ctx, func(tx store.Tx) error {
		if err := tx.InsertTask(f.ctx, f.task); err != nil {
			return err
		}
		return f.esc.OnMatch(f.ctx, tx, events.NewOutbox(), f.task, offer, receipt)
	}))
	return f
}

func (f *fixture) tx(t *testing.T, fn func(tx store.Tx, out *events.Outbox) error) (*events.Outbox, error) {
	t.Helper()
	out := events.NewOutbox()
	err := f.st.WithTx(f.ctx, func(tx store.Tx) error { return fn(tx, out) })
	return out, err
}

func (f *fixture) open(t *testing.T, complainant string) (*models.Dispute, error) {
	t.Helper()
	var d *models.Dispute
	_, err := f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		var err error
		d, err = f.m.Open(f.ctx, tx, out, f.task, OpenRequest{
			ComplainantID: complainant,
			Type:          models.DisputeQuality,
			Description:   "lawn only half mowed",
		})
		return err
	})
	return d, err
}

func (f *fixture) balance(t *testing.T) ledger.Balance {
	t.Helper()
	var b ledger.Balance
	require.NoError(t, f.st.View(f.ctx, func(tx store.Tx) error {
		var err error
		b, err = f.led.BalanceFor(f.ctx, tx, f.task.ID)
		return err
	}))
	return b
}

func TestOpenFreezesAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)

	d, err := f.open(t, "poster-1")
	require.NoError(t, err)
	require.Equal(t, "helper-1", d.RespondentID)
	require.Equal(t, models.PriorityMedium, d.Priority)
	require.True(t, f.task.EscrowFrozen)

	_, err = f.open(t, "helper-1")
	require.ErrorIs(t, err, errs.ErrDuplicateDispute)

	_, err = f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		_, err := f.esc.OnComplete(f.ctx, tx, out, f.task)
		return err
	})
	require.ErrorIs(t, err, errs.ErrEscrowFrozen)
}

func TestOpenRules(t *testing.T) {
	f := newFixture(t)

	_, err := f.open(t, "stranger")
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		_, err := f.m.Open(f.ctx, tx, out, f.task, OpenRequest{
			ComplainantID: "poster-1", Type: models.DisputePayment,
			Description: "overcharged", Amount: 20000,
		})
		return err
	})
	require.ErrorIs(t, err, errs.ErrValidation, "amount above the budget ceiling")

	f.task.Status = models.TaskPosted
	_, err = f.open(t, "poster-1")
	require.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestResolveFavorRespondentPaysHelper(t *testing.T) {
	f := newFixture(t)
	d, err := f.open(t, "poster-1")
	require.NoError(t, err)

	var outcome Outcome
	out, err := f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		var err error
		outcome, err = f.m.Resolve(f.ctx, tx, out, f.task, d, models.FavorRespondent, "admin-1")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, models.Amount(14250), outcome.Released)
	require.Equal(t, models.TaskCompleted, outcome.Status)
	require.False(t, f.task.EscrowFrozen)
	require.Equal(t, models.DisputeResolved, d.Status)
	require.NotNil(t, d.ResolvedAt)

	b := f.balance(t)
	require.Zero(t, b.Escrow())
	require.NoError(t, ledger.Check(f.task, b))

	evs := out.Events()
	require.Equal(t, models.EventDisputeResolved, evs[len(evs)-1].Type)
}

func TestResolveFavorComplainantRefundsPoster(t *testing.T) {
	f := newFixture(t)
	d, err := f.open(t, "poster-1")
	require.NoError(t, err)

	var outcome Outcome
	_, err = f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		var err error
		outcome, err = f.m.Resolve(f.ctx, tx, out, f.task, d, models.FavorComplainant, "admin-1")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, models.Amount(15000), outcome.Refunded)
	require.Equal(t, models.TaskCancelled, f.task.Status)
}

func TestHelperComplainantWinsRelease(t *testing.T) {
	f := newFixture(t)
	d, err := f.open(t, "helper-1")
	require.NoError(t, err)

	var outcome Outcome
	_, err = f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		var err error
		outcome, err = f.m.Resolve(f.ctx, tx, out, f.task, d, models.FavorComplainant, "admin-1")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, models.Amount(14250), outcome.Released)
	require.Equal(t, models.TaskCompleted, f.task.Status)
}

func TestMediationMovesNoMoney(t *testing.T) {
	f := newFixture(t)
	d, err := f.open(t, "poster-1")
	require.NoError(t, err)

	_, err = f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		if err := f.m.Investigate(f.ctx, tx, d); err != nil {
			return err
		}
		_, err := f.m.Resolve(f.ctx, tx, out, f.task, d, models.Mediation, "admin-1")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, models.TaskMatched, f.task.Status)
	require.False(t, f.task.EscrowFrozen)
	require.Equal(t, models.Amount(15000), f.balance(t).Escrow())

	_, err = f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		_, err := f.m.Resolve(f.ctx, tx, out, f.task, d, models.FavorComplainant, "admin-1")
		return err
	})
	require.ErrorIs(t, err, errs.ErrInvalidState, "already resolved")
}

func TestCloseLiftsFreeze(t *testing.T) {
	f := newFixture(t)
	d, err := f.open(t, "helper-1")
	require.NoError(t, err)

	out, err := f.tx(t, func(tx store.Tx, out *events.Outbox) error {
		return f.m.Close(f.ctx, tx, out, f.task, d, "admin-1")
	})
	require.NoError(t, err)
	require.Equal(t, models.DisputeClosed, d.Status)
	require.False(t, f.task.EscrowFrozen)
	require.Equal(t, models.EventDisputeClosed, out.Events()[0].Type)

	_, err = f.open(t, "poster-1")
	require.NoError(t, err, "a closed dispute no longer blocks a new one")
}
