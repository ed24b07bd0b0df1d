package api

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/notify"
	"github.com/slyt3/GetItDone/internal/pool"
)

// HandleRekey rotates the ledger signing key. Entries signed with the old
// key keep verifying. When an admin token is configured it must be sent in
// X-Admin-Token as well.
func (h *Handlers) HandleRekey(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if h.rotator == nil || h.keyPath == "" {
		writeError(w, r, errs.InvalidStatef("", "key rotation is not configured"))
		return
	}
	if h.adminToken != "" {
		got := r.Header.Get(headerAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
			writeError(w, r, errs.Forbiddenf("invalid admin token"))
			return
		}
	}
	oldPubKey, newPubKey, err := h.rotator.RotateKey(h.keyPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.Warn("signing_key_rotated", logging.Fields{Component: "api", PartyID: p.ID, Method: newPubKey})
	writeJSON(w, http.StatusOK, map[string]string{"old_public_key": oldPubKey, "new_public_key": newPubKey})
}

type statsResponse struct {
	Pool        pool.Metrics              `json:"pool"`
	Tasks       map[models.TaskStatus]int `json:"tasks"`
	Disputes    int                       `json:"active_disputes"`
	Entries     int                       `json:"ledger_entries"`
	Fees        models.Amount             `json:"fees_collected"`
	Escrow      models.Amount             `json:"escrow_held"`
	Halted      []string                  `json:"halted_tasks"`
	ActiveLocks int                       `json:"active_locks"`
	Delivered   uint64                    `json:"events_delivered"`
	Dropped     uint64                    `json:"events_dropped"`
	Failed      uint64                    `json:"events_failed"`
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.core.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := statsResponse{
		Pool:        pool.GetMetrics(),
		Tasks:       st.TasksByStatus,
		Disputes:    st.ActiveDisputes,
		Entries:     st.LedgerEntries,
		Fees:        st.FeesCollected,
		Escrow:      st.EscrowHeld,
		Halted:      h.core.HaltedTasks(),
		ActiveLocks: h.core.ActiveLocks(),
	}
	if resp.Halted == nil {
		resp.Halted = []string{}
	}
	if h.dispatcher != nil {
		resp.Delivered, resp.Dropped, resp.Failed = h.dispatcher.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := assert.NotNil(h, "handlers"); err != nil {
		return
	}
	plain(w, http.StatusOK, "ok")
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := assert.NotNil(h.core, "core"); err != nil {
		plain(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	if err := h.core.Ping(r.Context()); err != nil {
		plain(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	if h.core.PublicKey() == "" {
		plain(w, http.StatusServiceUnavailable, "signer unavailable")
		return
	}
	plain(w, http.StatusOK, "ready")
}

func (h *Handlers) HandlePrometheus(w http.ResponseWriter, r *http.Request) {
	if err := assert.NotNil(h.core, "core"); err != nil {
		plain(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	poolMetrics := pool.GetMetrics()
	metric(buf, "getitdone_pool_buffer_gets_total", "counter", "Buffers taken from the encode pool", poolMetrics.BufferGets)
	metric(buf, "getitdone_pool_buffer_misses_total", "counter", "Encode pool misses (allocations)", poolMetrics.BufferMisses)
	metric(buf, "getitdone_engine_active_locks", "gauge", "Tasks with an operation in flight", h.core.ActiveLocks())
	metric(buf, "getitdone_engine_halted_tasks", "gauge", "Tasks halted by a reconciliation failure", len(h.core.HaltedTasks()))

	if st, err := h.core.Stats(r.Context()); err != nil {
		logging.Warn("metrics_stats_failed", logging.Fields{Component: "api", Error: err.Error()})
	} else {
		writeTaskGauges(buf, st.TasksByStatus)
		metric(buf, "getitdone_disputes_active", "gauge", "Open or investigating disputes", st.ActiveDisputes)
		metric(buf, "getitdone_ledger_entries", "gauge", "Ledger entries across all tasks", st.LedgerEntries)
		metric(buf, "getitdone_fees_collected_minor", "gauge", "Platform fees collected, in minor units", int64(st.FeesCollected))
		metric(buf, "getitdone_escrow_held_minor", "gauge", "Funds currently held in escrow, in minor units", int64(st.EscrowHeld))
	}

	if h.dispatcher != nil {
		writeDispatcherMetrics(buf, h.dispatcher)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if _, err := io.Copy(w, buf); err != nil {
		logging.Warn("metrics_write_failed", logging.Fields{Component: "api", Error: err.Error()})
	}
}

func metric(w io.Writer, name, typ, help string, v interface{}) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(w, "%s %v\n", name, v)
}

func writeTaskGauges(w io.Writer, byStatus map[models.TaskStatus]int) {
	const name = "getitdone_tasks"
	fmt.Fprintf(w, "# HELP %s Tasks by status\n", name)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "%s{status=%q} %d\n", name, s, byStatus[models.TaskStatus(s)])
	}
}

func writeDispatcherMetrics(w io.Writer, d *notify.Dispatcher) {
	delivered, dropped, failed := d.Stats()
	depth, capacity := d.QueueDepth()
	if err := assert.Check(capacity >= 0, "queue capacity must be non-negative"); err != nil {
		logging.Warn("queue_capacity_invalid", logging.Fields{Component: "api", Error: err.Error()})
	}
	mode := 0
	if d.BackpressureMode() == notify.BackpressureBlock {
		mode = 1
	}
	metric(w, "getitdone_events_delivered_total", "counter", "Events delivered to the sink", delivered)
	metric(w, "getitdone_events_dropped_total", "counter", "Events dropped on a full buffer or shutdown", dropped)
	metric(w, "getitdone_events_failed_total", "counter", "Events the sink rejected", failed)
	metric(w, "getitdone_events_blocked_total", "counter", "Publishes that had to wait for buffer space", d.BlockedPublishes())
	metric(w, "getitdone_event_queue_depth", "gauge", "Buffered events", depth)
	metric(w, "getitdone_event_queue_capacity", "gauge", "Event buffer capacity", capacity)
	metric(w, "getitdone_event_backpressure_mode", "gauge", "0 = drop, 1 = block", mode)

	const name = "getitdone_event_delivery_latency_seconds"
	latency := d.LatencyMetrics()
	fmt.Fprintf(w, "# HELP %s Event delivery latency\n", name)
	fmt.Fprintf(w, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, upper := range latency.BoundsNs {
		cumulative += latency.Counts[i]
		label := "+Inf"
		if upper != ^uint64(0) {
			label = fmt.Sprintf("%.6f", float64(upper)/float64(time.Second))
		}
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", name, label, cumulative)
	}
	fmt.Fprintf(w, "%s_sum %.6f\n", name, float64(latency.SumNs)/float64(time.Second))
	fmt.Fprintf(w, "%s_count %d\n", name, latency.Count)
}
