package core

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/ledger"
	"github.com/slyt3/GetItDone/internal/ledger/audit"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

const auditWorkers = 8

// VerifyTask re-derives the hash chain of one task's ledger and checks every
// signature against the current key.
func (e *Engine) VerifyTask(ctx context.Context, p models.Principal, taskID string) (*audit.Result, error) {
	if err := e.checkParty(ctx, p, taskID); err != nil {
		return nil, err
	}
	return e.verifyTask(ctx, taskID)
}

func (e *Engine) verifyTask(ctx context.Context, taskID string) (*audit.Result, error) {
	var res *audit.Result
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		res, err = audit.VerifyTask(ctx, tx, taskID, e.signer)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		logging.Critical("ledger_chain_invalid", logging.Fields{
			Component: "audit",
			TaskID:    taskID,
			Error:     res.ErrorMessage,
		})
	}
	return res, nil
}

// VerifyAll verifies the chain of every task with ledger entries. Results
// are sorted by task id.
func (e *Engine) VerifyAll(ctx context.Context) ([]*audit.Result, error) {
	ids, err := e.entryTaskIDs(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*audit.Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auditWorkers)
	for i, id := range ids {
		g.Go(func() error {
			res, err := e.verifyTask(gctx, id)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ReconcileReport is one task whose ledger disagrees with its status.
type ReconcileReport struct {
	TaskID  string         `json:"task_id"`
	Status  string         `json:"status"`
	Balance ledger.Balance `json:"balance"`
	Error   string         `json:"error"`
}

// ReconcileAll replays every task's ledger against the task's status and
// halts each one that does not balance. It returns the mismatches only.
func (e *Engine) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	ids, err := e.entryTaskIDs(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu      sync.Mutex
		reports []ReconcileReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auditWorkers)
	for _, id := range ids {
		g.Go(func() error {
			var (
				task *models.Task
				b    ledger.Balance
			)
			err := e.view(gctx, func(tx store.Tx) error {
				var err error
				if task, err = tx.GetTask(gctx, id); err != nil {
					return err
				}
				b, err = e.ledger.BalanceFor(gctx, tx, id)
				return err
			})
			if err != nil {
				return err
			}
			if cerr := ledger.Check(task, b); cerr != nil {
				_ = e.fail(id, "reconcile", cerr)
				mu.Lock()
				reports = append(reports, ReconcileReport{TaskID: id, Status: task.Status.String(), Balance: b, Error: cerr.Error()})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].TaskID < reports[j].TaskID })
	return reports, nil
}

// Resume clears the halt on a task once its ledger balances again.
func (e *Engine) Resume(ctx context.Context, p models.Principal, taskID string) error {
	if !p.IsAdmin() {
		return errs.Forbiddenf("only admins may resume halted tasks")
	}
	unlock := e.locks.Lock(taskID)
	defer unlock()
	err := e.view(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		return e.ledger.Reconcile(ctx, tx, task)
	})
	if err != nil {
		return err
	}
	e.halted.Delete(taskID)
	logging.Warn("task_resumed", logging.Fields{Component: "core", TaskID: taskID, PartyID: p.ID})
	return nil
}

func (e *Engine) entryTaskIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListEntryTaskIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
