// Package api exposes the engine over JSON HTTP. Identity comes from the
// upstream auth proxy in the X-User-ID and X-User-Role headers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/slyt3/GetItDone/internal/core"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/notify"
	"github.com/slyt3/GetItDone/internal/policy"
)

const (
	headerUserID     = "X-User-ID"
	headerUserRole   = "X-User-Role"
	headerRequestID  = "X-Request-ID"
	headerAdminToken = "X-Admin-Token"
)

type requestIDKey struct{}

// KeyRotator replaces the ledger signing key.
type KeyRotator interface {
	RotateKey(keyPath string) (oldPubKey, newPubKey string, err error)
}

// Options wires Handlers. Only Engine is required.
type Options struct {
	Engine     *core.Engine
	Dispatcher *notify.Dispatcher
	Rotator    KeyRotator
	KeyPath    string
	AdminToken string
}

type Handlers struct {
	core       *core.Engine
	dispatcher *notify.Dispatcher
	rotator    KeyRotator
	keyPath    string
	adminToken string
}

func NewHandlers(opts Options) *Handlers {
	return &Handlers{
		core:       opts.Engine,
		dispatcher: opts.Dispatcher,
		rotator:    opts.Rotator,
		keyPath:    opts.KeyPath,
		adminToken: opts.AdminToken,
	}
}

// authedFunc is a handler that runs after the caller holds the capability.
type authedFunc func(w http.ResponseWriter, r *http.Request, p models.Principal)

// Routes builds the service mux.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /metrics", h.HandlePrometheus)
	mux.HandleFunc("GET /stats", h.HandleStats)
	mux.HandleFunc("POST /admin/rekey", h.authed(policy.KeyRotate, h.HandleRekey))

	mux.HandleFunc("POST /v1/tasks", h.authed(policy.TaskCreate, h.createTask))
	mux.HandleFunc("GET /v1/tasks", h.authed(policy.TaskRead, h.listTasks))
	mux.HandleFunc("GET /v1/tasks/{id}", h.authed(policy.TaskRead, h.getTask))
	mux.HandleFunc("PUT /v1/tasks/{id}", h.authed(policy.TaskEdit, h.editTask))
	mux.HandleFunc("POST /v1/tasks/{id}/publish", h.authed(policy.TaskPublish, h.publishTask))
	mux.HandleFunc("POST /v1/tasks/{id}/start", h.authed(policy.TaskStart, h.startTask))
	mux.HandleFunc("POST /v1/tasks/{id}/done", h.authed(policy.TaskDone, h.markDone))
	mux.HandleFunc("POST /v1/tasks/{id}/complete", h.authed(policy.TaskComplete, h.completeTask))
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", h.authed(policy.TaskCancel, h.cancelTask))
	mux.HandleFunc("POST /v1/tasks/{id}/rating", h.authed(policy.TaskRate, h.rateTask))
	mux.HandleFunc("GET /v1/helpers/{id}/rating", h.authed(policy.RatingRead, h.helperRating))

	mux.HandleFunc("POST /v1/tasks/{id}/offers", h.authed(policy.OfferSubmit, h.submitOffer))
	mux.HandleFunc("GET /v1/tasks/{id}/offers", h.authed(policy.OfferRead, h.listOffers))
	mux.HandleFunc("GET /v1/offers/{id}", h.authed(policy.OfferRead, h.getOffer))
	mux.HandleFunc("POST /v1/offers/{id}/accept", h.authed(policy.OfferAccept, h.acceptOffer))
	mux.HandleFunc("POST /v1/offers/{id}/withdraw", h.authed(policy.OfferWithdraw, h.withdrawOffer))

	mux.HandleFunc("POST /v1/tasks/{id}/disputes", h.authed(policy.DisputeOpen, h.openDispute))
	mux.HandleFunc("GET /v1/disputes", h.authed(policy.DisputeRead, h.listDisputes))
	mux.HandleFunc("GET /v1/disputes/{id}", h.authed(policy.DisputeRead, h.getDispute))
	mux.HandleFunc("POST /v1/disputes/{id}/investigate", h.authed(policy.DisputeInvestigate, h.investigateDispute))
	mux.HandleFunc("POST /v1/disputes/{id}/resolve", h.authed(policy.DisputeResolve, h.resolveDispute))
	mux.HandleFunc("POST /v1/disputes/{id}/close", h.authed(policy.DisputeClose, h.closeDispute))

	mux.HandleFunc("GET /v1/tasks/{id}/ledger", h.authed(policy.LedgerRead, h.listEntries))
	mux.HandleFunc("GET /v1/tasks/{id}/balance", h.authed(policy.LedgerRead, h.balance))
	mux.HandleFunc("GET /v1/tasks/{id}/verify", h.authed(policy.LedgerRead, h.verifyTask))
	mux.HandleFunc("POST /v1/tasks/{id}/settle", h.authed(policy.EscrowSettle, h.settle))
	mux.HandleFunc("POST /v1/tasks/{id}/payout", h.authed(policy.PayoutRetry, h.retryPayout))
	mux.HandleFunc("GET /v1/helpers/{id}/earnings", h.authed(policy.EarningsRead, h.earnings))

	mux.HandleFunc("POST /v1/admin/reconcile", h.authed(policy.LedgerAudit, h.reconcileAll))
	mux.HandleFunc("GET /v1/admin/verify", h.authed(policy.LedgerAudit, h.verifyAll))
	mux.HandleFunc("POST /v1/admin/tasks/{id}/resume", h.authed(policy.LedgerAudit, h.resume))

	return withRequestLog(mux)
}

// authed extracts the principal and checks the role capability before
// calling next. Ownership rules and parameter conditions are left to the
// engine.
func (h *Handlers) authed(capability string, next authedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := models.Principal{
			ID:   r.Header.Get(headerUserID),
			Role: models.Role(r.Header.Get(headerUserRole)),
		}
		if err := h.core.Authorize(p, capability, nil); err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, p)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Debug("http_request", logging.Fields{
			Component: "api",
			RequestID: id,
			PartyID:   r.Header.Get(headerUserID),
			Method:    fmt.Sprintf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start)),
		})
	})
}
