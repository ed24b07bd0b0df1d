package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/models"
)

const offerColumns = `id, task_id, helper_id, proposed_amount, message, status, proposed_at, updated_at`

func scanOffer(r rowScanner) (*models.Offer, error) {
	var (
		o                     models.Offer
		proposedAt, updatedAt string
	)
	if err := r.Scan(&o.ID, &o.TaskID, &o.HelperID, &o.ProposedAmount, &o.Message, &o.Status, &proposedAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.ProposedAt, err = parseTime(proposedAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (x *tx) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	if err := assert.Check(id != "", "offer id must not be empty"); err != nil {
		return nil, err
	}
	o, err := scanOffer(x.tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundf("offer %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying offer: %w", err)
	}
	return o, nil
}

// ListOffers returns a task's offers oldest first.
func (x *tx) ListOffers(ctx context.Context, taskID string) (offers []models.Offer, err error) {
	if err := assert.Check(taskID != "", "task id must not be empty"); err != nil {
		return nil, err
	}
	rows, err := x.tx.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE task_id = ? ORDER BY proposed_at ASC, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying offers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing offer rows: %w", closeErr)
		}
	}()

	for i := 0; i < maxRows && rows.Next(); i++ {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning offer: %w", err)
		}
		offers = append(offers, *o)
	}
	if err := assert.Check(rows.Err() == nil, "offer rows error: %v", rows.Err()); err != nil {
		return nil, err
	}
	return offers, nil
}

func (x *tx) InsertOffer(ctx context.Context, o *models.Offer) error {
	if err := assert.NotNil(o, "offer"); err != nil {
		return err
	}
	if err := assert.Check(o.ID != "" && o.TaskID != "", "offer and task id must not be empty"); err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx, `INSERT INTO offers (`+offerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.TaskID, o.HelperID, int64(o.ProposedAmount), o.Message, string(o.Status),
		formatTime(o.ProposedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting offer: %w", err)
	}
	return expectOneRow(res, "inserting offer")
}

// UpdateOffer changes status, amount and message only.
func (x *tx) UpdateOffer(ctx context.Context, o *models.Offer) error {
	if err := assert.NotNil(o, "offer"); err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx,
		`UPDATE offers SET proposed_amount = ?, message = ?, status = ?, updated_at = ? WHERE id = ?`,
		int64(o.ProposedAmount), o.Message, string(o.Status), formatTime(o.UpdatedAt), o.ID,
	)
	if err != nil {
		return fmt.Errorf("updating offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating offer: %w", err)
	}
	if n == 0 {
		return errs.NotFoundf("offer %s", o.ID)
	}
	return nil
}
