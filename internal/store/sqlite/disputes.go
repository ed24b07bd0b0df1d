package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/models"
)

const disputeColumns = `id, task_id, complainant_id, respondent_id, type, priority, status,
	amount, description, resolution, resolved_by, created_at, resolved_at`

func scanDispute(r rowScanner) (*models.Dispute, error) {
	var (
		d          models.Dispute
		createdAt  string
		resolvedAt sql.NullString
	)
	err := r.Scan(&d.ID, &d.TaskID, &d.ComplainantID, &d.RespondentID, &d.Type, &d.Priority, &d.Status,
		&d.Amount, &d.Description, &d.Resolution, &d.ResolvedBy, &createdAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (x *tx) GetDispute(ctx context.Context, id string) (*models.Dispute, error) {
	if err := assert.Check(id != "", "dispute id must not be empty"); err != nil {
		return nil, err
	}
	d, err := scanDispute(x.tx.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundf("dispute %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying dispute: %w", err)
	}
	return d, nil
}

func (x *tx) ActiveDispute(ctx context.Context, taskID string) (*models.Dispute, error) {
	d, err := scanDispute(x.tx.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes
		WHERE task_id = ? AND status IN ('open', 'investigating') LIMIT 1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active dispute: %w", err)
	}
	return d, nil
}

func (x *tx) ListDisputes(ctx context.Context, f models.DisputeFilter) (disputes []models.Dispute, err error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > maxRows {
		limit = maxRows
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := x.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying disputes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing dispute rows: %w", closeErr)
		}
	}()
	for i := 0; i < limit && rows.Next(); i++ {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dispute: %w", err)
		}
		disputes = append(disputes, *d)
	}
	if err := assert.Check(rows.Err() == nil, "dispute rows error: %v", rows.Err()); err != nil {
		return nil, err
	}
	return disputes, nil
}

func (x *tx) InsertDispute(ctx context.Context, d *models.Dispute) error {
	if err := assert.NotNil(d, "dispute"); err != nil {
		return err
	}
	if err := assert.Check(d.ID != "" && d.TaskID != "", "dispute and task id must not be empty"); err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx, `INSERT INTO disputes (`+disputeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TaskID, d.ComplainantID, d.RespondentID, string(d.Type), string(d.Priority), string(d.Status),
		int64(d.Amount), d.Description, string(d.Resolution), d.ResolvedBy,
		formatTime(d.CreatedAt), formatTimePtr(d.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting dispute: %w", err)
	}
	return expectOneRow(res, "inserting dispute")
}

func (x *tx) UpdateDispute(ctx context.Context, d *models.Dispute) error {
	if err := assert.NotNil(d, "dispute"); err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx, `UPDATE disputes SET
		priority = ?, status = ?, resolution = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?`,
		string(d.Priority), string(d.Status), string(d.Resolution), d.ResolvedBy, formatTimePtr(d.ResolvedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating dispute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating dispute: %w", err)
	}
	if n == 0 {
		return errs.NotFoundf("dispute %s", d.ID)
	}
	return nil
}
