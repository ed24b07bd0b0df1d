// Package ratings records the poster's score for the helper of a completed
// task and averages a helper's scores for the min_rating gate on offers.
package ratings

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

const maxCommentLen = 1000

type Book struct {
	now func() time.Time
}

func New() *Book {
	return &Book{now: time.Now}
}

// Rate stores posterID's score for the helper of task. A task is rated at
// most once and only after it completed.
func (b *Book) Rate(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, posterID string, score int, comment string) (*models.Rating, error) {
	if posterID != task.PosterID {
		return nil, errs.Forbiddenf("only the poster may rate task %s", task.ID)
	}
	if task.Status != models.TaskCompleted {
		return nil, errs.InvalidStatef(task.ID, "cannot rate a %s task", task.Status)
	}
	if score < models.MinScore || score > models.MaxScore {
		return nil, errs.Validationf("score %d outside %d..%d", score, models.MinScore, models.MaxScore)
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxCommentLen {
		return nil, errs.Validationf("comment longer than %d characters", maxCommentLen)
	}

	existing, err := tx.GetRating(ctx, task.ID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, errs.InvalidStatef(task.ID, "task already rated")
	}

	r := &models.Rating{
		TaskID:    task.ID,
		PosterID:  posterID,
		HelperID:  task.MatchedHelperID,
		Score:     score,
		Comment:   comment,
		CreatedAt: b.now().UTC(),
	}
	if err := tx.InsertRating(ctx, r); err != nil {
		return nil, err
	}
	logging.Info("task_rated", logging.Fields{
		Component: "ratings",
		TaskID:    task.ID,
		PartyID:   r.HelperID,
	})
	out.Add(models.EventTaskRated, task.ID, map[string]interface{}{
		"helper_id": r.HelperID,
		"score":     score,
	})
	return r, nil
}

// ForHelper averages every rating helperID has received.
func ForHelper(ctx context.Context, tx store.Tx, helperID string) (models.HelperRating, error) {
	list, err := tx.ListRatingsByHelper(ctx, helperID)
	if err != nil {
		return models.HelperRating{HelperID: helperID}, err
	}
	return models.SummarizeRatings(helperID, list), nil
}

// MeetsMinimum reports whether helperID may offer on task. Helpers with no
// ratings yet always pass.
func MeetsMinimum(ctx context.Context, tx store.Tx, task *models.Task, helperID string) error {
	if task.MinRating <= 0 {
		return nil
	}
	hr, err := ForHelper(ctx, tx, helperID)
	if err != nil {
		return err
	}
	if hr.Rated() && hr.Average < task.MinRating {
		return errs.Validationf("helper rating %.2f below task minimum %.2f", hr.Average, task.MinRating)
	}
	return nil
}
