package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/pool"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an engine error to its HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrAlreadyMatched):
		return http.StatusConflict, "already_matched"
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, errs.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, errs.ErrTaskNotOpen):
		return http.StatusConflict, "task_not_open"
	case errors.Is(err, errs.ErrDuplicateDispute):
		return http.StatusConflict, "duplicate_dispute"
	case errors.Is(err, errs.ErrEscrowFrozen):
		return http.StatusLocked, "escrow_frozen"
	case errors.Is(err, errs.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, errs.ErrReconciliation):
		return http.StatusInternalServerError, "reconciliation"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	reqID := requestID(r)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		fields := logging.Fields{Component: "api", RequestID: reqID, Method: r.Method + " " + r.URL.Path, Error: err.Error()}
		if code == "reconciliation" {
			logging.Critical("request_reconciliation_failed", fields)
		} else {
			logging.Error("request_failed", fields)
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code, RequestID: reqID})
}

// writeJSON encodes v through a pooled buffer so a failed encode never
// leaves a half-written body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		logging.Error("response_encode_failed", logging.Fields{Component: "api", Error: err.Error()})
		http.Error(w, `{"error":"internal error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.Warn("response_write_failed", logging.Fields{Component: "api", Error: err.Error()})
	}
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validationf("request body is required")
		}
		return errs.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

// decodeOptional is decode for bodies whose fields all have defaults. An
// empty body leaves v untouched.
func decodeOptional(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errs.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Validationf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return r.Header.Get(headerRequestID)
}

func plain(w http.ResponseWriter, status int, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		logging.Warn("response_write_failed", logging.Fields{Component: "api", Error: err.Error()})
	}
}
