package sqlite

import (
	"context"
	"fmt"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/models"
)

const entryColumns = `id, task_id, seq, from_party, to_party, kind, amount, currency,
	status, reference, created_at, prev_hash, hash, signature`

func scanEntry(r rowScanner) (*models.LedgerEntry, error) {
	var (
		e         models.LedgerEntry
		createdAt string
	)
	err := r.Scan(&e.ID, &e.TaskID, &e.Seq, &e.FromParty, &e.ToParty, &e.Kind, &e.Amount, &e.Currency,
		&e.Status, &e.Reference, &createdAt, &e.PrevHash, &e.Hash, &e.Signature)
	if err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendEntry inserts a sealed entry. The schema rejects updates and deletes.
func (x *tx) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	if err := assert.NotNil(e, "ledger entry"); err != nil {
		return err
	}
	if err := assert.Check(e.ID != "", "entry id must not be empty"); err != nil {
		return err
	}
	if err := assert.Check(e.Hash != "", "entry hash must not be empty"); err != nil {
		return err
	}
	if err := assert.Check(e.Signature != "", "entry signature must not be empty"); err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.Seq, e.FromParty, e.ToParty, string(e.Kind), int64(e.Amount), e.Currency,
		string(e.Status), e.Reference, formatTime(e.CreatedAt), e.PrevHash, e.Hash, e.Signature,
	)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return expectOneRow(res, "inserting ledger entry")
}

// ListEntries returns a task's chain in seq order.
func (x *tx) ListEntries(ctx context.Context, taskID string) ([]models.LedgerEntry, error) {
	if err := assert.Check(taskID != "", "task id must not be empty"); err != nil {
		return nil, err
	}
	return x.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE task_id = ? ORDER BY seq ASC`, taskID)
}

// ListEntriesByParty returns entries moving money to or from partyID.
func (x *tx) ListEntriesByParty(ctx context.Context, partyID string) ([]models.LedgerEntry, error) {
	if err := assert.Check(partyID != "", "party id must not be empty"); err != nil {
		return nil, err
	}
	return x.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		WHERE from_party = ? OR to_party = ?
		ORDER BY created_at ASC, task_id, seq`, partyID, partyID)
}

func (x *tx) ListEntryTaskIDs(ctx context.Context) (ids []string, err error) {
	rows, err := x.tx.QueryContext(ctx, `SELECT DISTINCT task_id FROM ledger_entries ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("querying entry task ids: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing task id rows: %w", closeErr)
		}
	}()
	for i := 0; i < maxRows && rows.Next(); i++ {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := assert.Check(rows.Err() == nil, "task id rows error: %v", rows.Err()); err != nil {
		return nil, err
	}
	return ids, nil
}

func (x *tx) queryEntries(ctx context.Context, query string, args ...any) (entries []models.LedgerEntry, err error) {
	rows, err := x.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing entry rows: %w", closeErr)
		}
	}()

	for i := 0; i < maxRows && rows.Next(); i++ {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := assert.Check(rows.Err() == nil, "entry rows error: %v", rows.Err()); err != nil {
		return nil, err
	}
	return entries, nil
}
