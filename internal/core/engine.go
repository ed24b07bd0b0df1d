// Package core is the single entry point to the marketplace: it serializes
// work per task, runs every mutation in one store transaction and publishes
// the resulting events after commit.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/crypto"
	"github.com/slyt3/GetItDone/internal/disputes"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/escrow"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/ledger"
	"github.com/slyt3/GetItDone/internal/lifecycle"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/offers"
	"github.com/slyt3/GetItDone/internal/payment"
	"github.com/slyt3/GetItDone/internal/policy"
	"github.com/slyt3/GetItDone/internal/ratings"
	"github.com/slyt3/GetItDone/internal/store"
)

// Signer signs new ledger entries and verifies existing ones.
type Signer interface {
	ledger.HashSigner
	crypto.Verifier
}

// Options wires an Engine. Store, Signer and Processor are required.
type Options struct {
	Store     store.Store
	Signer    Signer
	Processor payment.Processor
	// PaymentTimeout bounds every processor call. Zero means 5s.
	PaymentTimeout time.Duration
	// FeeBps is the platform fee in basis points. Negative means the default.
	FeeBps int64
	// Currency is applied to tasks created without one.
	Currency  string
	Publisher events.Publisher
	Policy    *policy.Engine
}

const defaultPaymentTimeout = 5 * time.Second

type Engine struct {
	store     store.Store
	signer    Signer
	ledger    *ledger.Ledger
	lifecycle *lifecycle.Machine
	offers    *offers.Resolver
	escrow    *escrow.Coordinator
	disputes  *disputes.Manager
	ratings   *ratings.Book
	publisher events.Publisher
	policy    *policy.Engine
	currency  string

	locks  *keyedMutex
	halted sync.Map // task id -> reason
}

func New(opts Options) (*Engine, error) {
	if err := assert.NotNil(opts.Store, "store"); err != nil {
		return nil, err
	}
	if err := assert.NotNil(opts.Signer, "signer"); err != nil {
		return nil, err
	}
	if err := assert.NotNil(opts.Processor, "payment processor"); err != nil {
		return nil, err
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = defaultPaymentTimeout
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discarder{}
	}
	if opts.Policy == nil {
		p, err := policy.NewEngineFromConfig(policy.DefaultConfig())
		if err != nil {
			return nil, err
		}
		opts.Policy = p
	}
	if opts.Currency == "" {
		opts.Currency = models.DefaultCurrency
	}
	if opts.FeeBps > 10000 {
		return nil, fmt.Errorf("fee %d bps exceeds 100%%", opts.FeeBps)
	}

	led := ledger.New(opts.Signer)
	lc := lifecycle.New()
	esc := escrow.New(led, payment.WithTimeout(opts.Processor, opts.PaymentTimeout), opts.FeeBps)
	return &Engine{
		store:     opts.Store,
		signer:    opts.Signer,
		ledger:    led,
		lifecycle: lc,
		offers:    offers.New(lc),
		escrow:    esc,
		disputes:  disputes.New(lc, esc),
		ratings:   ratings.New(),
		publisher: opts.Publisher,
		policy:    opts.Policy,
		currency:  models.NormalizeCurrency(opts.Currency),
		locks:     newKeyedMutex(),
	}, nil
}

// Authorize checks that p's role holds capability. Ownership of the task
// is checked by each operation. AcceptOffer, CancelTask and Settle call it
// again with the amount or status at hand so conditioned rules apply.
func (e *Engine) Authorize(p models.Principal, capability string, params map[string]interface{}) error {
	if err := checkPrincipal(p); err != nil {
		return err
	}
	d := e.policy.Authorize(p.Role, capability, params)
	if !d.Allowed {
		logging.Warn("capability_denied", logging.Fields{
			Component: "core",
			PartyID:   p.ID,
			Method:    capability,
			Error:     string(p.Role),
		})
		return errs.Forbiddenf("role %s may not %s", p.Role, capability)
	}
	return nil
}

func checkPrincipal(p models.Principal) error {
	if p.ID == "" || !p.Role.Valid() {
		return errs.Forbiddenf("unauthenticated caller")
	}
	return nil
}

// Halted reports whether a reconciliation failure stopped the task.
func (e *Engine) Halted(taskID string) bool {
	_, ok := e.halted.Load(taskID)
	return ok
}

// HaltedTasks returns the ids of halted tasks.
func (e *Engine) HaltedTasks() []string {
	var ids []string
	e.halted.Range(func(k, _ interface{}) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}

func (e *Engine) checkHalted(taskID string) error {
	if reason, ok := e.halted.Load(taskID); ok {
		return errs.Reconciliationf(taskID, "task halted: %s", reason)
	}
	return nil
}

// fail records err against taskID. Reconciliation failures halt the task.
func (e *Engine) fail(taskID, op string, err error) error {
	if errs.Fatal(err) {
		if _, loaded := e.halted.LoadOrStore(taskID, err.Error()); !loaded {
			logging.Critical("task_halted", logging.Fields{
				Component: "core",
				TaskID:    taskID,
				Method:    op,
				Error:     err.Error(),
			})
		}
	}
	return err
}

// mutate runs fn against a freshly loaded task under the task lock, in one
// transaction, reconciling the ledger before commit.
func (e *Engine) mutate(ctx context.Context, taskID, op string, fn func(tx store.Tx, out *events.Outbox, task *models.Task) error) (*models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()
	return e.mutateLocked(ctx, taskID, op, fn)
}

func (e *Engine) mutateLocked(ctx context.Context, taskID, op string, fn func(tx store.Tx, out *events.Outbox, task *models.Task) error) (*models.Task, error) {
	if err := e.checkHalted(taskID); err != nil {
		return nil, err
	}
	out := events.NewOutbox()
	var result *models.Task
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if err := fn(tx, out, task); err != nil {
			return err
		}
		if err := e.ledger.Reconcile(ctx, tx, task); err != nil {
			return err
		}
		result = task
		return nil
	})
	if err != nil {
		out.Discard()
		return nil, e.fail(taskID, op, err)
	}
	out.Flush(ctx, e.publisher)
	return result, nil
}

// view runs fn in a read-only transaction.
func (e *Engine) view(ctx context.Context, fn func(tx store.Tx) error) error {
	return e.store.View(ctx, fn)
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// PublicKey is the hex Ed25519 key entries are currently signed with.
func (e *Engine) PublicKey() string {
	if pk, ok := e.signer.(interface{ PublicKey() string }); ok {
		return pk.PublicKey()
	}
	return ""
}

// FeeBps is the configured platform fee.
func (e *Engine) FeeBps() int64 { return e.escrow.FeeBps() }

// ActiveLocks is the number of tasks with an operation in flight.
func (e *Engine) ActiveLocks() int { return e.locks.Len() }

// Stats summarizes the store, when it supports it.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	sr, ok := e.store.(store.StatsReader)
	if !ok {
		return nil, errors.New("store does not report stats")
	}
	return sr.Stats(ctx)
}
