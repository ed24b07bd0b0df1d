// Package memory is an in-process store.Store for tests and the demo server.
// Transactions work on a copy of the state; commit swaps the copy in.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/store"
)

type state struct {
	tasks    map[string]models.Task
	offers   map[string]models.Offer
	entries  map[string][]models.LedgerEntry
	disputes map[string]models.Dispute
	ratings  map[string]models.Rating
}

func newState() *state {
	return &state{
		tasks:    make(map[string]models.Task),
		offers:   make(map[string]models.Offer),
		entries:  make(map[string][]models.LedgerEntry),
		disputes: make(map[string]models.Dispute),
		ratings:  make(map[string]models.Rating),
	}
}

// clone copies the maps. Entry slices are shared but clipped, so appends
// inside a transaction never write into the committed backing array.
func (s *state) clone() *state {
	c := &state{
		tasks:    make(map[string]models.Task, len(s.tasks)),
		offers:   make(map[string]models.Offer, len(s.offers)),
		entries:  make(map[string][]models.LedgerEntry, len(s.entries)),
		disputes: make(map[string]models.Dispute, len(s.disputes)),
		ratings:  make(map[string]models.Rating, len(s.ratings)),
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = slices.Clip(v)
	}
	for k, v := range s.disputes {
		c.disputes[k] = v
	}
	for k, v := range s.ratings {
		c.ratings[k] = v
	}
	return c
}

// Store is safe for concurrent use; write transactions are serialized.
type Store struct {
	mu    sync.RWMutex
	state *state
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.StatsReader = (*Store)(nil)
)

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(&tx{st: snapshot})
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &store.Stats{TasksByStatus: make(map[models.TaskStatus]int)}
	for _, t := range s.state.tasks {
		stats.TasksByStatus[t.Status]++
	}
	for _, d := range s.state.disputes {
		if d.Status.Active() {
			stats.ActiveDisputes++
		}
	}
	for _, chain := range s.state.entries {
		for _, e := range chain {
			stats.LedgerEntries++
			if e.Status != models.EntryCompleted {
				continue
			}
			switch e.Kind {
			case models.EntryHold:
				stats.EscrowHeld += e.Amount
			case models.EntryFee:
				stats.FeesCollected += e.Amount
				stats.EscrowHeld -= e.Amount
			case models.EntryRelease, models.EntryRefund:
				stats.EscrowHeld -= e.Amount
			}
		}
	}
	return stats, nil
}

type tx struct {
	st *state
}

func copyTask(t models.Task) *models.Task {
	t.Requirements = slices.Clone(t.Requirements)
	if t.ScheduledDate != nil {
		d := *t.ScheduledDate
		t.ScheduledDate = &d
	}
	if t.HelperDoneAt != nil {
		d := *t.HelperDoneAt
		t.HelperDoneAt = &d
	}
	return &t
}

func (x *tx) GetTask(_ context.Context, id string) (*models.Task, error) {
	t, ok := x.st.tasks[id]
	if !ok {
		return nil, errs.NotFoundf("task %s", id)
	}
	return copyTask(t), nil
}

func (x *tx) ListTasks(_ context.Context, f models.TaskFilter) ([]models.Task, error) {
	var out []models.Task
	for _, t := range x.st.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.PosterID != "" && t.PosterID != f.PosterID {
			continue
		}
		if f.HelperID != "" && t.MatchedHelperID != f.HelperID {
			continue
		}
		if f.VisibleTo != "" && t.Status == models.TaskDraft && t.PosterID != f.VisibleTo {
			continue
		}
		out = append(out, *copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (x *tx) InsertTask(_ context.Context, t *models.Task) error {
	if _, exists := x.st.tasks[t.ID]; exists {
		return fmt.Errorf("inserting task: duplicate id %s", t.ID)
	}
	x.st.tasks[t.ID] = *copyTask(*t)
	return nil
}

func (x *tx) UpdateTask(_ context.Context, t *models.Task) error {
	if _, exists := x.st.tasks[t.ID]; !exists {
		return errs.NotFoundf("task %s", t.ID)
	}
	x.st.tasks[t.ID] = *copyTask(*t)
	return nil
}

func (x *tx) GetOffer(_ context.Context, id string) (*models.Offer, error) {
	o, ok := x.st.offers[id]
	if !ok {
		return nil, errs.NotFoundf("offer %s", id)
	}
	return &o, nil
}

func (x *tx) ListOffers(_ context.Context, taskID string) ([]models.Offer, error) {
	var out []models.Offer
	for _, o := range x.st.offers {
		if o.TaskID == taskID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProposedAt.Equal(out[j].ProposedAt) {
			return out[i].ProposedAt.Before(out[j].ProposedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (x *tx) InsertOffer(_ context.Context, o *models.Offer) error {
	if _, exists := x.st.offers[o.ID]; exists {
		return fmt.Errorf("inserting offer: duplicate id %s", o.ID)
	}
	if err := x.checkOneAccepted(o); err != nil {
		return err
	}
	x.st.offers[o.ID] = *o
	return nil
}

func (x *tx) UpdateOffer(_ context.Context, o *models.Offer) error {
	if _, exists := x.st.offers[o.ID]; !exists {
		return errs.NotFoundf("offer %s", o.ID)
	}
	if err := x.checkOneAccepted(o); err != nil {
		return err
	}
	x.st.offers[o.ID] = *o
	return nil
}

// checkOneAccepted mirrors the unique partial index of the SQLite schema.
func (x *tx) checkOneAccepted(o *models.Offer) error {
	if o.Status != models.OfferAccepted {
		return nil
	}
	for id, other := range x.st.offers {
		if id != o.ID && other.TaskID == o.TaskID && other.Status == models.OfferAccepted {
			return fmt.Errorf("offer %s: task %s already has accepted offer %s", o.ID, o.TaskID, id)
		}
	}
	return nil
}

func (x *tx) AppendEntry(_ context.Context, e *models.LedgerEntry) error {
	chain := x.st.entries[e.TaskID]
	for _, existing := range chain {
		if existing.Seq == e.Seq {
			return fmt.Errorf("inserting ledger entry: seq %d already used on task %s", e.Seq, e.TaskID)
		}
	}
	x.st.entries[e.TaskID] = append(chain, *e)
	return nil
}

func (x *tx) ListEntries(_ context.Context, taskID string) ([]models.LedgerEntry, error) {
	out := slices.Clone(x.st.entries[taskID])
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (x *tx) ListEntriesByParty(_ context.Context, partyID string) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, chain := range x.st.entries {
		for _, e := range chain {
			if e.FromParty == partyID || e.ToParty == partyID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (x *tx) ListEntryTaskIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(x.st.entries))
	for id, chain := range x.st.entries {
		if len(chain) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func copyDispute(d models.Dispute) *models.Dispute {
	if d.ResolvedAt != nil {
		r := *d.ResolvedAt
		d.ResolvedAt = &r
	}
	return &d
}

func (x *tx) GetDispute(_ context.Context, id string) (*models.Dispute, error) {
	d, ok := x.st.disputes[id]
	if !ok {
		return nil, errs.NotFoundf("dispute %s", id)
	}
	return copyDispute(d), nil
}

func (x *tx) ListDisputes(_ context.Context, f models.DisputeFilter) ([]models.Dispute, error) {
	var out []models.Dispute
	for _, d := range x.st.disputes {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.TaskID != "" && d.TaskID != f.TaskID {
			continue
		}
		out = append(out, *copyDispute(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (x *tx) InsertDispute(_ context.Context, d *models.Dispute) error {
	if _, exists := x.st.disputes[d.ID]; exists {
		return fmt.Errorf("inserting dispute: duplicate id %s", d.ID)
	}
	if d.Status.Active() {
		if active, _ := x.ActiveDispute(context.Background(), d.TaskID); active != nil {
			return fmt.Errorf("inserting dispute: task %s already has active dispute %s", d.TaskID, active.ID)
		}
	}
	x.st.disputes[d.ID] = *copyDispute(*d)
	return nil
}

func (x *tx) UpdateDispute(_ context.Context, d *models.Dispute) error {
	if _, exists := x.st.disputes[d.ID]; !exists {
		return errs.NotFoundf("dispute %s", d.ID)
	}
	x.st.disputes[d.ID] = *copyDispute(*d)
	return nil
}

func (x *tx) ActiveDispute(_ context.Context, taskID string) (*models.Dispute, error) {
	for _, d := range x.st.disputes {
		if d.TaskID == taskID && d.Status.Active() {
			return copyDispute(d), nil
		}
	}
	return nil, nil
}

func (x *tx) GetRating(_ context.Context, taskID string) (*models.Rating, error) {
	r, ok := x.st.ratings[taskID]
	if !ok {
		return nil, errs.NotFoundf("rating for task %s", taskID)
	}
	return &r, nil
}

func (x *tx) InsertRating(_ context.Context, r *models.Rating) error {
	if _, ok := x.st.tasks[r.TaskID]; !ok {
		return fmt.Errorf("inserting rating: unknown task %s", r.TaskID)
	}
	if _, exists := x.st.ratings[r.TaskID]; exists {
		return fmt.Errorf("inserting rating: task %s already rated", r.TaskID)
	}
	x.st.ratings[r.TaskID] = *r
	return nil
}

func (x *tx) ListRatingsByHelper(_ context.Context, helperID string) ([]models.Rating, error) {
	var out []models.Rating
	for _, r := range x.st.ratings {
		if r.HelperID == helperID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}
