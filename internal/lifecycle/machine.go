// Package lifecycle owns Task.Status: it creates and edits tasks and moves
// them along the legal edges of the task state machine.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

// Allowed reports whether from -> to is a regular transition.
func Allowed(from, to models.TaskStatus) bool {
	switch from {
	case models.TaskDraft:
		return to == models.TaskPosted
	case models.TaskPosted:
		return to == models.TaskMatched || to == models.TaskCancelled
	case models.TaskMatched:
		return to == models.TaskInProgress || to == models.TaskCancelled
	case models.TaskInProgress:
		return to == models.TaskCompleted || to == models.TaskCancelled
	default:
		return false
	}
}

// amendable reports whether a dispute resolution may force from -> to.
func amendable(from, to models.TaskStatus) bool {
	live := from == models.TaskMatched || from == models.TaskInProgress
	return live && (to == models.TaskCompleted || to == models.TaskCancelled)
}

var transitionEvents = map[models.TaskStatus]models.EventType{
	models.TaskPosted:     models.EventTaskPosted,
	models.TaskMatched:    models.EventTaskMatched,
	models.TaskInProgress: models.EventTaskStarted,
	models.TaskCompleted:  models.EventTaskCompleted,
	models.TaskCancelled:  models.EventTaskCancelled,
}

type Machine struct {
	now func() time.Time
}

func New() *Machine {
	return &Machine{now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Create stores a new draft task owned by posterID.
func (m *Machine) Create(ctx context.Context, tx store.Tx, out *events.Outbox, posterID string, d Draft) (*models.Task, error) {
	if posterID == "" {
		return nil, errs.Validationf("poster id is required")
	}
	if err := d.normalize(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	task := &models.Task{
		ID:        uuid.NewString(),
		PosterID:  posterID,
		Status:    models.TaskDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.apply(task)
	if err := tx.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	out.Add(models.EventTaskCreated, task.ID, map[string]interface{}{"poster_id": posterID})
	return task, nil
}

// Edit replaces the editable fields of a draft or posted task. Only the
// poster may edit, and a posted task must stay publishable.
func (m *Machine) Edit(ctx context.Context, tx store.Tx, task *models.Task, actorID string, d Draft) error {
	if err := assert.NotNil(task, "task"); err != nil {
		return err
	}
	if actorID != task.PosterID {
		return errs.Forbiddenf("only the poster may edit task %s", task.ID)
	}
	if task.Status != models.TaskDraft && task.Status != models.TaskPosted {
		return errs.InvalidStatef(task.ID, "cannot edit a %s task", task.Status)
	}
	if err := d.normalize(); err != nil {
		return err
	}
	edited := *task
	d.apply(&edited)
	if edited.Status == models.TaskPosted {
		if err := Publishable(&edited); err != nil {
			return err
		}
	}
	edited.UpdatedAt = m.now().UTC()
	if err := tx.UpdateTask(ctx, &edited); err != nil {
		return err
	}
	*task = edited
	return nil
}

// Publish moves a complete draft to posted.
func (m *Machine) Publish(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task) error {
	if task.Status != models.TaskDraft {
		return errs.InvalidTransition(task.ID, task.Status, models.TaskPosted)
	}
	if err := Publishable(task); err != nil {
		return err
	}
	return m.Transition(ctx, tx, out, task, models.TaskPosted)
}

// Transition moves task along a regular edge and persists it. Completion
// requires the helper to have marked the task done first.
func (m *Machine) Transition(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, to models.TaskStatus) error {
	if err := assert.NotNil(task, "task"); err != nil {
		return err
	}
	if !Allowed(task.Status, to) {
		return errs.InvalidTransition(task.ID, task.Status, to)
	}
	if to == models.TaskCompleted && task.HelperDoneAt == nil {
		return errs.InvalidStatef(task.ID, "helper has not marked the task done")
	}
	return m.move(ctx, tx, out, task, to)
}

// Amend forces a live task into a terminal state after a dispute resolution.
func (m *Machine) Amend(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, to models.TaskStatus) error {
	if !amendable(task.Status, to) {
		return errs.InvalidTransition(task.ID, task.Status, to)
	}
	return m.move(ctx, tx, out, task, to)
}

func (m *Machine) move(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, to models.TaskStatus) error {
	from := task.Status
	next := *task
	next.Status = to
	next.UpdatedAt = m.now().UTC()
	if err := tx.UpdateTask(ctx, &next); err != nil {
		return err
	}
	*task = next

	logging.Info("task_transition", logging.Fields{
		Component: "lifecycle",
		TaskID:    task.ID,
		Method:    string(from) + "->" + string(to),
	})
	if ev, ok := transitionEvents[to]; ok {
		out.Add(ev, task.ID, map[string]interface{}{
			"from":      string(from),
			"to":        string(to),
			"poster_id": task.PosterID,
			"helper_id": task.MatchedHelperID,
		})
	}
	return nil
}

// MarkDone records that the matched helper finished an in-progress task.
func (m *Machine) MarkDone(ctx context.Context, tx store.Tx, task *models.Task, helperID string) error {
	if task.Status != models.TaskInProgress {
		return errs.InvalidStatef(task.ID, "cannot mark a %s task done", task.Status)
	}
	if helperID == "" || helperID != task.MatchedHelperID {
		return errs.Forbiddenf("only the matched helper may mark task %s done", task.ID)
	}
	if task.HelperDoneAt != nil {
		return nil
	}
	now := m.now().UTC()
	next := *task
	next.HelperDoneAt = &now
	next.UpdatedAt = now
	if err := tx.UpdateTask(ctx, &next); err != nil {
		return err
	}
	*task = next
	return nil
}
