// Package store defines the transactional persistence contract of the engine.
// Every mutation of a task, its offers, ledger entries and disputes runs inside
// one Tx so a transition and its side effects commit or roll back together.
package store

import (
	"context"

	"github.com/slyt3/GetItDone/internal/models"
)

// TaskRepository reads and writes task rows.
type TaskRepository interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error)
	InsertTask(ctx context.Context, t *models.Task) error
	UpdateTask(ctx context.Context, t *models.Task) error
}

// OfferRepository reads and writes offers.
type OfferRepository interface {
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	ListOffers(ctx context.Context, taskID string) ([]models.Offer, error)
	InsertOffer(ctx context.Context, o *models.Offer) error
	UpdateOffer(ctx context.Context, o *models.Offer) error
}

// EntryRepository is append-only: there is no update or delete.
type EntryRepository interface {
	AppendEntry(ctx context.Context, e *models.LedgerEntry) error
	ListEntries(ctx context.Context, taskID string) ([]models.LedgerEntry, error)
	ListEntriesByParty(ctx context.Context, partyID string) ([]models.LedgerEntry, error)
	ListEntryTaskIDs(ctx context.Context) ([]string, error)
}

// DisputeRepository reads and writes disputes.
type DisputeRepository interface {
	GetDispute(ctx context.Context, id string) (*models.Dispute, error)
	ListDisputes(ctx context.Context, f models.DisputeFilter) ([]models.Dispute, error)
	InsertDispute(ctx context.Context, d *models.Dispute) error
	UpdateDispute(ctx context.Context, d *models.Dispute) error
	// ActiveDispute returns the open or investigating dispute of a task, or nil.
	ActiveDispute(ctx context.Context, taskID string) (*models.Dispute, error)
}

// RatingRepository stores one rating per task.
type RatingRepository interface {
	// GetRating returns the task's rating or a NotFound error.
	GetRating(ctx context.Context, taskID string) (*models.Rating, error)
	InsertRating(ctx context.Context, r *models.Rating) error
	ListRatingsByHelper(ctx context.Context, helperID string) ([]models.Rating, error)
}

// Tx is one unit of work. It must not be used after fn returns.
type Tx interface {
	TaskRepository
	OfferRepository
	EntryRepository
	DisputeRepository
	RatingRepository
}

// Store opens units of work.
type Store interface {
	// WithTx runs fn in a read-write transaction, committing iff fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a transaction that is always rolled back.
	View(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Stats is a platform-wide snapshot used by the metrics endpoint.
type Stats struct {
	TasksByStatus  map[models.TaskStatus]int
	ActiveDisputes int
	LedgerEntries  int
	FeesCollected  models.Amount
	EscrowHeld     models.Amount
}

// StatsReader is implemented by stores that can summarize themselves.
type StatsReader interface {
	Stats(ctx context.Context) (*Stats, error)
}
