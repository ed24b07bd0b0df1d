package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskPosted     TaskStatus = "posted"
	TaskMatched    TaskStatus = "matched"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition is legal from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskDraft, TaskPosted, TaskMatched, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// Categories accepted for a task.
var Categories = []string{
	"cleaning", "moving", "handyman", "gardening", "tech", "tutoring", "events", "other",
}

// RecurrencePatterns accepted when a task is recurring.
var RecurrencePatterns = []string{"daily", "weekly", "biweekly", "monthly"}

type BudgetType string

const (
	BudgetFixed BudgetType = "fixed"
	BudgetRange BudgetType = "range"
)

// Budget is either a fixed Amount or a Min..Max range.
type Budget struct {
	Type   BudgetType `json:"type"`
	Amount Amount     `json:"amount,omitempty"`
	Min    Amount     `json:"min,omitempty"`
	Max    Amount     `json:"max,omitempty"`
}

// IsSet reports whether the budget carries any amount.
func (b Budget) IsSet() bool {
	switch b.Type {
	case BudgetFixed:
		return b.Amount > 0
	case BudgetRange:
		return b.Min > 0 && b.Max > 0
	}
	return false
}

// Ceiling is the largest amount the poster can be charged.
func (b Budget) Ceiling() Amount {
	if b.Type == BudgetRange {
		return b.Max
	}
	return b.Amount
}

// Accepts reports whether a proposed amount fits the budget.
func (b Budget) Accepts(a Amount) bool {
	switch b.Type {
	case BudgetFixed:
		return a == b.Amount
	case BudgetRange:
		return a >= b.Min && a <= b.Max
	}
	return false
}

type Location struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Task is a unit of work posted by a poster and performed by a matched helper.
type Task struct {
	ID                string     `json:"id"`
	PosterID          string     `json:"poster_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Category          string     `json:"category"`
	Status            TaskStatus `json:"status"`
	Budget            Budget     `json:"budget"`
	Currency          string     `json:"currency"`
	Location          Location   `json:"location"`
	ScheduledDate     *time.Time `json:"scheduled_date,omitempty"`
	IsRecurring       bool       `json:"is_recurring"`
	RecurrencePattern string     `json:"recurrence_pattern,omitempty"`
	Requirements      []string   `json:"requirements,omitempty"`
	MinRating         float64    `json:"min_rating"`
	MatchedHelperID   string     `json:"matched_helper_id,omitempty"`
	AcceptedOfferID   string     `json:"accepted_offer_id,omitempty"`
	EscrowFrozen      bool       `json:"escrow_frozen"`
	HelperDoneAt      *time.Time `json:"helper_done_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsParty reports whether userID is the poster or the matched helper.
func (t *Task) IsParty(userID string) bool {
	return userID != "" && (userID == t.PosterID || userID == t.MatchedHelperID)
}

// TaskFilter narrows task listings. Zero fields match everything.
type TaskFilter struct {
	Status   TaskStatus
	Category string
	PosterID string
	HelperID string
	// VisibleTo, when set, drops drafts not posted by that user.
	VisibleTo string
	Limit     int
}
