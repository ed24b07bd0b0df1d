// Package ledger records money movements as an append-only, hash-chained
// sequence of entries per task, and derives balances from them.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/crypto"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

// HashSigner signs entry hashes.
type HashSigner interface {
	SignHash(hash string) (string, error)
}

// Entry is the caller-supplied part of a ledger entry. Sequence, hashes and
// currency are filled in by Record.
type Entry struct {
	From      string
	To        string
	Kind      models.EntryKind
	Amount    models.Amount
	Status    models.EntryStatus
	Reference string
}

// Ledger appends entries and computes balances. It holds no per-task state;
// callers serialize appends to the same task.
type Ledger struct {
	signer HashSigner
	now    func() time.Time
}

func New(signer HashSigner) *Ledger {
	return &Ledger{signer: signer, now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// validRoute reports whether from -> to is the legal shape for kind.
func validRoute(kind models.EntryKind, from, to string) bool {
	user := func(p string) bool {
		return p != "" && p != models.PartyEscrow && p != models.PartyPlatform && p != models.PartyExternal
	}
	switch kind {
	case models.EntryCharge:
		return user(from) && to == models.PartyEscrow
	case models.EntryHold:
		return from == models.PartyEscrow && to == models.PartyEscrow
	case models.EntryRelease, models.EntryRefund:
		return from == models.PartyEscrow && user(to)
	case models.EntryFee:
		return from == models.PartyEscrow && to == models.PartyPlatform
	case models.EntryPayout:
		return user(from) && to == models.PartyExternal
	}
	return false
}

// Record seals and appends one entry to task's chain and queues
// LedgerEntryRecorded on out.
func (l *Ledger) Record(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, in Entry) (*models.LedgerEntry, error) {
	if err := assert.NotNil(task, "task"); err != nil {
		return nil, err
	}
	if in.Amount <= 0 || in.Amount > models.MaxAmount {
		return nil, errs.Validationf("entry amount %d out of range", in.Amount)
	}
	if !in.Kind.Valid() {
		return nil, errs.Validationf("unknown entry kind %q", in.Kind)
	}
	if in.Status == "" {
		in.Status = models.EntryCompleted
	}
	if !in.Status.Valid() {
		return nil, errs.Validationf("unknown entry status %q", in.Status)
	}
	if !validRoute(in.Kind, in.From, in.To) {
		return nil, errs.Validationf("%s entry cannot move %s -> %s", in.Kind, in.From, in.To)
	}

	chain, err := tx.ListEntries(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("loading chain: %w", err)
	}

	currency := task.Currency
	prevHash := models.GenesisHash
	var seq uint64
	if n := len(chain); n > 0 {
		last := chain[n-1]
		currency = chain[0].Currency
		if err := assert.Check(last.Seq == uint64(n-1), "sequence gap on task %s: tip seq=%d, entries=%d", task.ID, last.Seq, n); err != nil {
			return nil, errs.Reconciliationf(task.ID, "ledger chain has a sequence gap at %d", last.Seq)
		}
		if err := assert.Check(last.Hash != "", "tip hash must be non-empty: seq=%d", last.Seq); err != nil {
			return nil, err
		}
		prevHash = last.Hash
		seq = last.Seq + 1
	}
	if currency != task.Currency {
		return nil, errs.Validationf("currency %s differs from ledger currency %s", task.Currency, currency)
	}

	entry := &models.LedgerEntry{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Seq:       seq,
		FromParty: in.From,
		ToParty:   in.To,
		Kind:      in.Kind,
		Amount:    in.Amount,
		Currency:  currency,
		Status:    in.Status,
		Reference: in.Reference,
		CreatedAt: l.now().UTC(),
		PrevHash:  prevHash,
	}

	hash, err := crypto.ChainHash(entry.PrevHash, entry.HashPayload())
	if err != nil {
		return nil, fmt.Errorf("hashing entry: %w", err)
	}
	entry.Hash = hash
	if entry.Signature, err = l.signer.SignHash(hash); err != nil {
		return nil, fmt.Errorf("signing entry: %w", err)
	}

	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	logging.Debug("ledger_entry_recorded", logging.Fields{
		Component: "ledger",
		TaskID:    task.ID,
		EntryID:   entry.ID,
		Method:    string(entry.Kind),
		Amount:    int64(entry.Amount),
	})
	if out != nil {
		out.Add(models.EventLedgerEntryRecorded, task.ID, map[string]interface{}{
			"entry_id": entry.ID,
			"seq":      entry.Seq,
			"kind":     string(entry.Kind),
			"from":     entry.FromParty,
			"to":       entry.ToParty,
			"amount":   int64(entry.Amount),
			"currency": entry.Currency,
			"status":   string(entry.Status),
		})
	}
	return entry, nil
}
