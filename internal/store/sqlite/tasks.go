package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/models"
)

const taskColumns = `id, poster_id, title, description, category, status,
	budget_type, budget_amount, budget_min, budget_max, currency,
	address, lat, lng, scheduled_date, is_recurring, recurrence_pattern,
	requirements, min_rating, matched_helper_id, accepted_offer_id,
	escrow_frozen, helper_done_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*models.Task, error) {
	var (
		t                    models.Task
		scheduled, doneAt    sql.NullString
		requirements         string
		recurring, frozen    int
		createdAt, updatedAt string
	)
	err := r.Scan(
		&t.ID, &t.PosterID, &t.Title, &t.Description, &t.Category, &t.Status,
		&t.Budget.Type, &t.Budget.Amount, &t.Budget.Min, &t.Budget.Max, &t.Currency,
		&t.Location.Address, &t.Location.Lat, &t.Location.Lng, &scheduled, &recurring, &t.RecurrencePattern,
		&requirements, &t.MinRating, &t.MatchedHelperID, &t.AcceptedOfferID,
		&frozen, &doneAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.IsRecurring = recurring != 0
	t.EscrowFrozen = frozen != 0
	if err := json.Unmarshal([]byte(requirements), &t.Requirements); err != nil {
		return nil, fmt.Errorf("decoding requirements of task %s: %w", t.ID, err)
	}
	if t.ScheduledDate, err = parseTimePtr(scheduled); err != nil {
		return nil, err
	}
	if t.HelperDoneAt, err = parseTimePtr(doneAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeRequirements(reqs []string) (string, error) {
	if reqs == nil {
		reqs = []string{}
	}
	b, err := json.Marshal(reqs)
	if err != nil {
		return "", fmt.Errorf("encoding requirements: %w", err)
	}
	return string(b), nil
}

// GetTask returns errs.ErrNotFound when id is unknown.
func (x *tx) GetTask(ctx context.Context, id string) (*models.Task, error) {
	if err := assert.Check(id != "", "task id must not be empty"); err != nil {
		return nil, err
	}
	row := x.tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundf("task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return t, nil
}

func (x *tx) ListTasks(ctx context.Context, f models.TaskFilter) (tasks []models.Task, err error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.PosterID != "" {
		where = append(where, "poster_id = ?")
		args = append(args, f.PosterID)
	}
	if f.HelperID != "" {
		where = append(where, "matched_helper_id = ?")
		args = append(args, f.HelperID)
	}
	if f.VisibleTo != "" {
		where = append(where, "(status != ? OR poster_id = ?)")
		args = append(args, string(models.TaskDraft), f.VisibleTo)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
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
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing task rows: %w", closeErr)
		}
	}()

	for i := 0; i < limit && rows.Next(); i++ {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := assert.Check(rows.Err() == nil, "task rows error: %v", rows.Err()); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (x *tx) InsertTask(ctx context.Context, t *models.Task) error {
	if err := assert.NotNil(t, "task"); err != nil {
		return err
	}
	if err := assert.Check(t.ID != "", "task id must not be empty"); err != nil {
		return err
	}
	reqs, err := encodeRequirements(t.Requirements)
	if err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PosterID, t.Title, t.Description, t.Category, string(t.Status),
		string(t.Budget.Type), int64(t.Budget.Amount), int64(t.Budget.Min), int64(t.Budget.Max), t.Currency,
		t.Location.Address, t.Location.Lat, t.Location.Lng, formatTimePtr(t.ScheduledDate), boolInt(t.IsRecurring), t.RecurrencePattern,
		reqs, t.MinRating, t.MatchedHelperID, t.AcceptedOfferID,
		boolInt(t.EscrowFrozen), formatTimePtr(t.HelperDoneAt), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return expectOneRow(res, "inserting task")
}

// UpdateTask overwrites every mutable column; poster and creation time are fixed.
func (x *tx) UpdateTask(ctx context.Context, t *models.Task) error {
	if err := assert.NotNil(t, "task"); err != nil {
		return err
	}
	reqs, err := encodeRequirements(t.Requirements)
	if err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx, `UPDATE tasks SET
		title = ?, description = ?, category = ?, status = ?,
		budget_type = ?, budget_amount = ?, budget_min = ?, budget_max = ?, currency = ?,
		address = ?, lat = ?, lng = ?, scheduled_date = ?, is_recurring = ?, recurrence_pattern = ?,
		requirements = ?, min_rating = ?, matched_helper_id = ?, accepted_offer_id = ?,
		escrow_frozen = ?, helper_done_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Category, string(t.Status),
		string(t.Budget.Type), int64(t.Budget.Amount), int64(t.Budget.Min), int64(t.Budget.Max), t.Currency,
		t.Location.Address, t.Location.Lat, t.Location.Lng, formatTimePtr(t.ScheduledDate), boolInt(t.IsRecurring), t.RecurrencePattern,
		reqs, t.MinRating, t.MatchedHelperID, t.AcceptedOfferID,
		boolInt(t.EscrowFrozen), formatTimePtr(t.HelperDoneAt), formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if n == 0 {
		return errs.NotFoundf("task %s", t.ID)
	}
	return nil
}
