package models

import "time"

// Rating scores are whole stars.
const (
	MinScore = 1
	MaxScore = 5
)

// Rating is the poster's score for the helper of a completed task. A task
// has at most one.
type Rating struct {
	TaskID    string    `json:"task_id"`
	PosterID  string    `json:"poster_id"`
	HelperID  string    `json:"helper_id"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HelperRating is the mean score of a helper's ratings.
type HelperRating struct {
	HelperID string  `json:"helper_id"`
	Average  float64 `json:"average"`
	Count    int     `json:"count"`
}

// Rated reports whether the helper has any ratings yet.
func (h HelperRating) Rated() bool { return h.Count > 0 }

// SummarizeRatings averages list. Average is zero when list is empty.
func SummarizeRatings(helperID string, list []Rating) HelperRating {
	out := HelperRating{HelperID: helperID}
	total := 0
	for _, r := range list {
		total += r.Score
		out.Count++
	}
	if out.Count > 0 {
		out.Average = float64(total) / float64(out.Count)
	}
	return out
}
