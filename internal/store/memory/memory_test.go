package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
	"github.com/stretchr/testify/require"
)

func TestRollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertTask(ctx, &models.Task{ID: "t1", Status: models.TaskDraft}))
		require.NoError(t, tx.AppendEntry(ctx, &models.LedgerEntry{ID: "e1", TaskID: "t1", Amount: 100}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetTask(ctx, "t1")
		require.ErrorIs(t, err, errs.ErrNotFound)
		entries, err := tx.ListEntries(ctx, "t1")
		require.NoError(t, err)
		require.Empty(t, entries)
		return nil
	}))
}

func TestEntryAppendDoesNotLeakAcrossTransactions(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendEntry(ctx, &models.LedgerEntry{ID: "e0", TaskID: "t1", Seq: 0, Amount: 100})
	}))

	_ = s.WithTx(ctx, func(tx store.Tx) error {
		_ = tx.AppendEntry(ctx, &models.LedgerEntry{ID: "e1", TaskID: "t1", Seq: 1, Amount: 100})
		return errors.New("abort")
	})

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		entries, err := tx.ListEntries(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		return nil
	}))
}

func TestReturnedTasksAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertTask(ctx, &models.Task{ID: "t1", Requirements: []string{"car"}})
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetTask(ctx, "t1")
		require.NoError(t, err)
		got.Requirements[0] = "bike"
		again, err := tx.GetTask(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, "car", again.Requirements[0])
		return nil
	}))
}

func TestAcceptedOfferUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertOffer(ctx, &models.Offer{ID: "o1", TaskID: "t1", Status: models.OfferAccepted, ProposedAt: now}); err != nil {
			return err
		}
		return tx.InsertOffer(ctx, &models.Offer{ID: "o2", TaskID: "t1", Status: models.OfferAccepted, ProposedAt: now})
	})
	require.Error(t, err)
}

func TestActiveDisputeAndStats(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertTask(ctx, &models.Task{ID: "t1", Status: models.TaskMatched}))
		require.NoError(t, tx.AppendEntry(ctx, &models.LedgerEntry{ID: "e1", TaskID: "t1", Seq: 1,
			Kind: models.EntryHold, Amount: 15000, Status: models.EntryCompleted}))
		return tx.InsertDispute(ctx, &models.Dispute{ID: "d1", TaskID: "t1", Status: models.DisputeOpen})
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertDispute(ctx, &models.Dispute{ID: "d2", TaskID: "t1", Status: models.DisputeOpen})
	})
	require.Error(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ActiveDisputes)
	require.Equal(t, models.Amount(15000), stats.EscrowHeld)
	require.Equal(t, 1, stats.TasksByStatus[models.TaskMatched])
}
