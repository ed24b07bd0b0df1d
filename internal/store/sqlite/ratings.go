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

const ratingColumns = `task_id, poster_id, helper_id, score, comment, created_at`

func scanRating(r rowScanner) (*models.Rating, error) {
	var (
		rt        models.Rating
		createdAt string
	)
	if err := r.Scan(&rt.TaskID, &rt.PosterID, &rt.HelperID, &rt.Score, &rt.Comment, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if rt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rt, nil
}

func (x *tx) GetRating(ctx context.Context, taskID string) (*models.Rating, error) {
	rt, err := scanRating(x.tx.QueryRowContext(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE task_id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundf("rating for task %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying rating: %w", err)
	}
	return rt, nil
}

func (x *tx) InsertRating(ctx context.Context, r *models.Rating) error {
	if err := assert.NotNil(r, "rating"); err != nil {
		return err
	}
	if err := assert.Check(r.TaskID != "" && r.HelperID != "", "rating task and helper id must not be empty"); err != nil {
		return err
	}
	res, err := x.tx.ExecContext(ctx, `INSERT INTO ratings (`+ratingColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.PosterID, r.HelperID, r.Score, r.Comment, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting rating: %w", err)
	}
	return expectOneRow(res, "inserting rating")
}

func (x *tx) ListRatingsByHelper(ctx context.Context, helperID string) (ratings []models.Rating, err error) {
	rows, err := x.tx.QueryContext(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE helper_id = ? ORDER BY created_at, task_id`, helperID)
	if err != nil {
		return nil, fmt.Errorf("querying ratings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rating rows: %w", closeErr)
		}
	}()
	for i := 0; i < maxRows && rows.Next(); i++ {
		rt, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		ratings = append(ratings, *rt)
	}
	if err := assert.Check(rows.Err() == nil, "rating rows error: %v", rows.Err()); err != nil {
		return nil, err
	}
	return ratings, nil
}
