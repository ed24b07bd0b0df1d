// Package disputes opens and settles disputes on matched tasks. An active
// dispute freezes the task's escrow until it is resolved or closed.
package disputes

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/escrow"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/lifecycle"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

const maxDescriptionLen = 5000

// OpenRequest describes a new dispute. RespondentID defaults to the other
// party of the task and Priority to medium.
type OpenRequest struct {
	ComplainantID string                 `json:"complainant_id"`
	RespondentID  string                 `json:"respondent_id,omitempty"`
	Type          models.DisputeType     `json:"type"`
	Priority      models.DisputePriority `json:"priority,omitempty"`
	Description   string                 `json:"description"`
	Amount        models.Amount          `json:"amount,omitempty"`
}

// Outcome is the money a resolution moved.
type Outcome struct {
	Released models.Amount     `json:"released"`
	Refunded models.Amount     `json:"refunded"`
	Status   models.TaskStatus `json:"task_status"`
}

type Manager struct {
	lifecycle *lifecycle.Machine
	escrow    *escrow.Coordinator
	now       func() time.Time
}

func New(lc *lifecycle.Machine, esc *escrow.Coordinator) *Manager {
	return &Manager{lifecycle: lc, escrow: esc, now: time.Now}
}

// Open records a dispute on task and freezes its escrow.
func (m *Manager) Open(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, req OpenRequest) (*models.Dispute, error) {
	if !req.Type.Valid() {
		return nil, errs.Validationf("unknown dispute type %q", req.Type)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, errs.Validationf("unknown dispute priority %q", req.Priority)
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return nil, errs.Validationf("dispute description is required")
	}
	if utf8.RuneCountInString(req.Description) > maxDescriptionLen {
		return nil, errs.Validationf("description longer than %d characters", maxDescriptionLen)
	}
	if !task.IsParty(req.ComplainantID) {
		return nil, errs.Forbiddenf("only the poster or matched helper may dispute task %s", task.ID)
	}
	other := counterparty(task, req.ComplainantID)
	if req.RespondentID == "" {
		req.RespondentID = other
	}
	if req.RespondentID != other {
		return nil, errs.Validationf("respondent must be the other party of task %s", task.ID)
	}

	active, err := tx.ActiveDispute(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errs.DuplicateDispute(task.ID, active.ID)
	}
	if task.Status != models.TaskMatched && task.Status != models.TaskInProgress {
		return nil, errs.InvalidStatef(task.ID, "cannot dispute a %s task", task.Status)
	}
	if req.Amount < 0 || req.Amount > task.Budget.Ceiling() {
		return nil, errs.Validationf("disputed amount %s exceeds budget %s", req.Amount, task.Budget.Ceiling())
	}

	now := m.now().UTC()
	d := &models.Dispute{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		ComplainantID: req.ComplainantID,
		RespondentID:  req.RespondentID,
		Type:          req.Type,
		Priority:      req.Priority,
		Status:        models.DisputeOpen,
		Amount:        req.Amount,
		Description:   req.Description,
		CreatedAt:     now,
	}
	if err := tx.InsertDispute(ctx, d); err != nil {
		return nil, err
	}
	if err := m.setFrozen(ctx, tx, task, true); err != nil {
		return nil, err
	}

	logging.Info("dispute_opened", logging.Fields{
		Component: "disputes",
		TaskID:    task.ID,
		DisputeID: d.ID,
		PartyID:   d.ComplainantID,
		Amount:    int64(d.Amount),
	})
	out.Add(models.EventDisputeOpened, task.ID, map[string]interface{}{
		"dispute_id":     d.ID,
		"complainant_id": d.ComplainantID,
		"respondent_id":  d.RespondentID,
		"type":           string(d.Type),
		"priority":       string(d.Priority),
	})
	return d, nil
}

func counterparty(task *models.Task, userID string) string {
	if userID == task.PosterID {
		return task.MatchedHelperID
	}
	return task.PosterID
}

// Investigate moves an open dispute under review.
func (m *Manager) Investigate(ctx context.Context, tx store.Tx, d *models.Dispute) error {
	if d.Status != models.DisputeOpen {
		return errs.InvalidStatef(d.TaskID, "dispute %s is %s", d.ID, d.Status)
	}
	next := *d
	next.Status = models.DisputeInvestigating
	if err := tx.UpdateDispute(ctx, &next); err != nil {
		return err
	}
	*d = next
	return nil
}

// Resolve settles an active dispute. The favored party's path runs: a
// winning poster is refunded and the task cancelled, a winning helper is
// paid and the task completed. Mediation only lifts the freeze.
func (m *Manager) Resolve(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, d *models.Dispute, resolution models.Resolution, resolvedBy string) (Outcome, error) {
	if !resolution.Valid() {
		return Outcome{}, errs.Validationf("unknown resolution %q", resolution)
	}
	if !d.Status.Active() {
		return Outcome{}, errs.InvalidStatef(d.TaskID, "dispute %s is already %s", d.ID, d.Status)
	}
	if err := m.finish(ctx, tx, task, d, models.DisputeResolved, resolution, resolvedBy); err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	favored := ""
	switch resolution {
	case models.FavorComplainant:
		favored = d.ComplainantID
	case models.FavorRespondent:
		favored = d.RespondentID
	}
	var err error
	switch {
	case favored != "" && favored == task.PosterID:
		if outcome.Refunded, err = m.escrow.OnCancel(ctx, tx, out, task); err != nil {
			return Outcome{}, err
		}
		err = m.lifecycle.Amend(ctx, tx, out, task, models.TaskCancelled)
	case favored != "" && favored == task.MatchedHelperID:
		if outcome.Released, err = m.escrow.OnComplete(ctx, tx, out, task); err != nil {
			return Outcome{}, err
		}
		err = m.lifecycle.Amend(ctx, tx, out, task, models.TaskCompleted)
	}
	if err != nil {
		return Outcome{}, err
	}
	outcome.Status = task.Status

	logging.Info("dispute_resolved", logging.Fields{
		Component: "disputes",
		TaskID:    task.ID,
		DisputeID: d.ID,
		PartyID:   favored,
		Method:    string(resolution),
	})
	out.Add(models.EventDisputeResolved, task.ID, map[string]interface{}{
		"dispute_id":  d.ID,
		"resolution":  string(resolution),
		"resolved_by": resolvedBy,
		"released":    int64(outcome.Released),
		"refunded":    int64(outcome.Refunded),
	})
	return outcome, nil
}

// Close dismisses an active dispute without moving money.
func (m *Manager) Close(ctx context.Context, tx store.Tx, out *events.Outbox, task *models.Task, d *models.Dispute, closedBy string) error {
	if !d.Status.Active() {
		return errs.InvalidStatef(d.TaskID, "dispute %s is already %s", d.ID, d.Status)
	}
	if err := m.finish(ctx, tx, task, d, models.DisputeClosed, "", closedBy); err != nil {
		return err
	}
	logging.Info("dispute_closed", logging.Fields{
		Component: "disputes",
		TaskID:    task.ID,
		DisputeID: d.ID,
		PartyID:   closedBy,
	})
	out.Add(models.EventDisputeClosed, task.ID, map[string]interface{}{
		"dispute_id": d.ID,
		"closed_by":  closedBy,
	})
	return nil
}

// finish ends the dispute and lifts the task's freeze.
func (m *Manager) finish(ctx context.Context, tx store.Tx, task *models.Task, d *models.Dispute, status models.DisputeStatus, resolution models.Resolution, by string) error {
	if task.ID != d.TaskID {
		return errs.Validationf("dispute %s does not belong to task %s", d.ID, task.ID)
	}
	now := m.now().UTC()
	next := *d
	next.Status = status
	next.Resolution = resolution
	next.ResolvedBy = by
	next.ResolvedAt = &now
	if err := tx.UpdateDispute(ctx, &next); err != nil {
		return err
	}
	*d = next
	return m.setFrozen(ctx, tx, task, false)
}

func (m *Manager) setFrozen(ctx context.Context, tx store.Tx, task *models.Task, frozen bool) error {
	next := *task
	next.EscrowFrozen = frozen
	next.UpdatedAt = m.now().UTC()
	if err := tx.UpdateTask(ctx, &next); err != nil {
		return err
	}
	*task = next
	return nil
}
