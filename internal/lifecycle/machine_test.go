package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
	"github.com/slyt3/GetItDone/internal/store/memory"
	"github.com/stretchr/testify/require"
)

var allStatuses = []models.TaskStatus{
	models.TaskDraft, models.TaskPosted, models.TaskMatched,
	models.TaskInProgress, models.TaskCompleted, models.TaskCancelled,
}

func completeDraft() Draft {
	return Draft{
		Title:       "Mow the lawn",
		Description: "Front and back yard",
		Category:    "Gardening",
		Budget:      models.Budget{Type: models.BudgetFixed, Amount: 15000},
		Location:    models.Location{Address: "1 Main St"},
	}
}

func TestAllowedIsExactlyTheStateMachine(t *testing.T) {
	legal := map[[2]models.TaskStatus]bool{
		{models.TaskDraft, models.TaskPosted}:         true,
		{models.TaskPosted, models.TaskMatched}:       true,
		{models.TaskPosted, models.TaskCancelled}:     true,
		{models.TaskMatched, models.TaskInProgress}:   true,
		{models.TaskMatched, models.TaskCancelled}:    true,
		{models.TaskInProgress, models.TaskCompleted}: true,
		{models.TaskInProgress, models.TaskCancelled}: true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := legal[[2]models.TaskStatus{from, to}]
			if got := Allowed(from, to); got != want {
				t.Errorf("Allowed(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

type harness struct {
	ctx context.Context
	st  *memory.Store
	m   *Machine
}

func newHarness() *harness {
	return &harness{ctx: context.Background(), st: memory.New(), m: New()}
}

func (h *harness) tx(t *testing.T, fn func(tx store.Tx, out *events.Outbox) error) (*events.Outbox, error) {
	t.Helper()
	out := events.NewOutbox()
	err := h.st.WithTx(h.ctx, func(tx store.Tx) error { return fn(tx, out) })
	return out, err
}

func TestCreatePublishAndWalk(t *testing.T) {
	h := newHarness()
	var task *models.Task

	out, err := h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		var err error
		task, err = h.m.Create(h.ctx, tx, out, "poster-1", completeDraft())
		return err
	})
	require.NoError(t, err)
	require.Equal(t, models.TaskDraft, task.Status)
	require.Equal(t, "gardening", task.Category)
	require.Equal(t, "USD", task.Currency)
	require.Equal(t, models.EventTaskCreated, out.Events()[0].Type)

	out, err = h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		return h.m.Publish(h.ctx, tx, out, task)
	})
	require.NoError(t, err)
	require.Equal(t, models.TaskPosted, task.Status)
	require.Equal(t, models.EventTaskPosted, out.Events()[0].Type)

	task.MatchedHelperID = "helper-1"
	for _, to := range []models.TaskStatus{models.TaskMatched, models.TaskInProgress} {
		_, err := h.tx(t, func(tx store.Tx, out *events.Outbox) error {
			return h.m.Transition(h.ctx, tx, out, task, to)
		})
		require.NoError(t, err)
	}

	_, err = h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		return h.m.Transition(h.ctx, tx, out, task, models.TaskCompleted)
	})
	require.ErrorIs(t, err, errs.ErrInvalidState, "completion needs the helper's done mark")

	_, err = h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		if err := h.m.MarkDone(h.ctx, tx, task, "helper-1"); err != nil {
			return err
		}
		return h.m.Transition(h.ctx, tx, out, task, models.TaskCompleted)
	})
	require.NoError(t, err)
	require.Equal(t, models.TaskCompleted, task.Status)

	_, err = h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		return h.m.Transition(h.ctx, tx, out, task, models.TaskCancelled)
	})
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestPublishRequiresCompleteTask(t *testing.T) {
	h := newHarness()
	fields := map[string]func(*Draft){
		"title":       func(d *Draft) { d.Title = "" },
		"description": func(d *Draft) { d.Description = "" },
		"category":    func(d *Draft) { d.Category = "" },
		"budget":      func(d *Draft) { d.Budget = models.Budget{} },
		"location":    func(d *Draft) { d.Location = models.Location{} },
	}
	for name, clear := range fields {
		t.Run(name, func(t *testing.T) {
			d := completeDraft()
			clear(&d)
			_, err := h.tx(t, func(tx store.Tx, out *events.Outbox) error {
				task, err := h.m.Create(h.ctx, tx, out, "poster-1", d)
				if err != nil {
					return err
				}
				return h.m.Publish(h.ctx, tx, out, task)
			})
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestDraftValidation(t *testing.T) {
	h := newHarness()
	tests := []struct {
		name   string
		mutate func(*Draft)
	}{
		{"unknown category", func(d *Draft) { d.Category = "astrology" }},
		{"range min over max", func(d *Draft) { d.Budget = models.Budget{Type: models.BudgetRange, Min: 200, Max: 100} }},
		{"zero fixed budget", func(d *Draft) { d.Budget = models.Budget{Type: models.BudgetFixed} }},
		{"recurring without pattern", func(d *Draft) { d.IsRecurring = true }},
		{"pattern without recurring", func(d *Draft) { d.RecurrencePattern = "weekly" }},
		{"rating out of range", func(d *Draft) { d.MinRating = 7 }},
		{"bad currency", func(d *Draft) { d.Currency = "dollars" }},
		{"bad latitude", func(d *Draft) { d.Location.Lat = 120 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := completeDraft()
			tt.mutate(&d)
			_, err := h.tx(t, func(tx store.Tx, out *events.Outbox) error {
				_, err := h.m.Create(h.ctx, tx, out, "poster-1", d)
				return err
			})
			require.True(t, errors.Is(err, errs.ErrValidation), "got %v", err)
		})
	}
}

func TestRequirementsAreDeduplicated(t *testing.T) {
	h := newHarness()
	d := completeDraft()
	d.Requirements = []string{"Car", " car ", "", "ladder"}
	var task *models.Task
	_, err := h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		var err error
		task, err = h.m.Create(h.ctx, tx, out, "poster-1", d)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Car", "ladder"}, task.Requirements)
}

func TestEditRules(t *testing.T) {
	h := newHarness()
	var task *models.Task
	_, err := h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		var err error
		if task, err = h.m.Create(h.ctx, tx, out, "poster-1", completeDraft()); err != nil {
			return err
		}
		return h.m.Publish(h.ctx, tx, out, task)
	})
	require.NoError(t, err)

	d := completeDraft()
	d.Title = "Mow the lawn twice"
	_, err = h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return h.m.Edit(h.ctx, tx, task, "someone-else", d) })
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return h.m.Edit(h.ctx, tx, task, "poster-1", d) })
	require.NoError(t, err)
	require.Equal(t, "Mow the lawn twice", task.Title)

	d.Location = models.Location{}
	_, err = h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return h.m.Edit(h.ctx, tx, task, "poster-1", d) })
	require.ErrorIs(t, err, errs.ErrValidation, "a posted task must stay publishable")

	task.Status = models.TaskMatched
	_, err = h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return h.m.Edit(h.ctx, tx, task, "poster-1", completeDraft()) })
	require.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestAmendOnlyFromLiveStates(t *testing.T) {
	h := newHarness()
	now := time.Now()
	task := &models.Task{ID: "t-1", PosterID: "p", Status: models.TaskInProgress, CreatedAt: now, UpdatedAt: now}
	_, err := h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return tx.InsertTask(h.ctx, task) })
	require.NoError(t, err)

	_, err = h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		return h.m.Amend(h.ctx, tx, out, task, models.TaskCompleted)
	})
	require.NoError(t, err, "amend skips the done mark")

	_, err = h.tx(t, func(tx store.Tx, out *events.Outbox) error {
		return h.m.Amend(h.ctx, tx, out, task, models.TaskCancelled)
	})
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestMarkDoneOnlyByMatchedHelper(t *testing.T) {
	h := newHarness()
	task := &models.Task{ID: "t-2", Status: models.TaskInProgress, MatchedHelperID: "helper-1"}
	_, err := h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return tx.InsertTask(h.ctx, task) })
	require.NoError(t, err)

	_, err = h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return h.m.MarkDone(h.ctx, tx, task, "helper-2") })
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = h.tx(t, func(tx store.Tx, _ *events.Outbox) error { return h.m.MarkDone(h.ctx, tx, task, "helper-1") })
	require.NoError(t, err)
	require.NotNil(t, task.HelperDoneAt)
}
