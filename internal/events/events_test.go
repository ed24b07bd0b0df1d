package events

import (
	"context"
	"errors"
	"testing"

	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failing struct{ calls int }

func (f *failing) Publish(context.Context, models.Event) error {
	f.calls++
	if f.calls == 1 {
		return errors.New("sink down")
	}
	return nil
}

func TestFlushPublishesInOrderAndEmpties(t *testing.T) {
	out := NewOutbox()
	out.Add(models.EventTaskMatched, "t-1", map[string]interface{}{"offer_id": "o-1"})
	out.Add(models.EventLedgerEntryRecorded, "t-1", nil)

	rec := &Recorder{}
	require.Equal(t, 2, out.Flush(context.Background(), rec))
	require.Equal(t, []models.EventType{models.EventTaskMatched, models.EventLedgerEntryRecorded}, rec.Types())
	require.Equal(t, 0, out.Len())

	ev := rec.Events()[1]
	require.NotEmpty(t, ev.ID)
	require.NotNil(t, ev.Payload)
	require.False(t, ev.OccurredAt.IsZero())
}

func TestDiscardDropsEvents(t *testing.T) {
	out := NewOutbox()
	out.Add(models.EventTaskPosted, "t-1", nil)
	out.Discard()

	rec := &Recorder{}
	require.Equal(t, 0, out.Flush(context.Background(), rec))
	require.Empty(t, rec.Events())
}

func TestFlushContinuesPastSinkErrors(t *testing.T) {
	restore := logging.SetLogger(zap.NewNop())
	defer restore()

	out := NewOutbox()
	out.Add(models.EventTaskPosted, "t-1", nil)
	out.Add(models.EventTaskMatched, "t-1", nil)

	sink := &failing{}
	require.Equal(t, 1, out.Flush(context.Background(), sink))
	require.Equal(t, 2, sink.calls)
}
