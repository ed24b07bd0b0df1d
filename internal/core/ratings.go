package core

import (
	"context"

	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/ratings"
	"github.com/slyt3/GetItDone/internal/store"
)

// RateTask records the poster's score for the helper of a completed task.
func (e *Engine) RateTask(ctx context.Context, p models.Principal, taskID string, score int, comment string) (*models.Rating, error) {
	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	var r *models.Rating
	_, err := e.mutate(ctx, taskID, "rate", func(tx store.Tx, out *events.Outbox, task *models.Task) error {
		var err error
		r, err = e.ratings.Rate(ctx, tx, out, task, p.ID, score, comment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// HelperRating is the average score helperID has received.
func (e *Engine) HelperRating(ctx context.Context, p models.Principal, helperID string) (models.HelperRating, error) {
	if err := checkPrincipal(p); err != nil {
		return models.HelperRating{}, err
	}
	var hr models.HelperRating
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		hr, err = ratings.ForHelper(ctx, tx, helperID)
		return err
	})
	return hr, err
}
