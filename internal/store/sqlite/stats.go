package sqlite

import (
	"context"
	"fmt"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

var _ store.StatsReader = (*DB)(nil)

// Stats returns platform-wide counters.
func (db *DB) Stats(ctx context.Context) (stats *store.Stats, err error) {
	stats = &store.Stats{TasksByStatus: make(map[models.TaskStatus]int)}

	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying task counts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing task count rows: %w", closeErr)
		}
	}()

	const maxStatuses = 16
	for i := 0; i < maxStatuses && rows.Next(); i++ {
		var (
			status models.TaskStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning task count: %w", err)
		}
		stats.TasksByStatus[status] = count
	}
	if err := assert.Check(rows.Err() == nil, "task count rows error: %v", rows.Err()); err != nil {
		return nil, err
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM disputes WHERE status IN ('open', 'investigating')`).Scan(&stats.ActiveDisputes)
	if err != nil {
		return nil, fmt.Errorf("counting active disputes: %w", err)
	}

	// Escrow is held funds minus what left it; only completed entries moved money.
	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN kind = 'fee' AND status = 'completed' THEN amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status != 'completed' THEN 0
		                         WHEN kind = 'hold' THEN amount
		                         WHEN kind IN ('release', 'refund', 'fee') THEN -amount
		                         ELSE 0 END), 0)
		FROM ledger_entries`,
	).Scan(&stats.LedgerEntries, &stats.FeesCollected, &stats.EscrowHeld)
	if err != nil {
		return nil, fmt.Errorf("summing ledger entries: %w", err)
	}
	return stats, nil
}
