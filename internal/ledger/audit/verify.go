// Package audit re-derives ledger chains and reports the first broken link.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/crypto"
	"github.com/slyt3/GetItDone/internal/models"
)

var (
	ErrChainTampered    = errors.New("prev_hash does not match previous entry")
	ErrSequenceGap      = errors.New("sequence gap")
	ErrHashMismatch     = errors.New("hash mismatch")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMixedTask        = errors.New("entry belongs to another task")
)

// EntryReader is the subset of the store needed for verification.
type EntryReader interface {
	ListEntries(ctx context.Context, taskID string) ([]models.LedgerEntry, error)
}

// Result describes one verified chain.
type Result struct {
	TaskID       string `json:"task_id"`
	Valid        bool   `json:"valid"`
	Entries      int    `json:"entries"`
	FailedAtSeq  uint64 `json:"failed_at_seq,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	Err          error  `json:"-"`
}

// VerifyChain checks seq continuity, hash linkage, recomputed hashes and
// signatures of a task's entries, which must be in seq order. An empty chain
// is valid.
func VerifyChain(taskID string, entries []models.LedgerEntry, verifier crypto.Verifier) (*Result, error) {
	if err := assert.NotNil(verifier, "verifier"); err != nil {
		return nil, err
	}
	result := &Result{TaskID: taskID, Valid: true, Entries: len(entries)}

	prevHash := models.GenesisHash
	for i := range entries {
		e := &entries[i]
		var err error
		switch {
		case e.TaskID != taskID:
			err = ErrMixedTask
		case e.Seq != uint64(i):
			err = ErrSequenceGap
		case e.PrevHash != prevHash:
			err = ErrChainTampered
		default:
			err = VerifyEntry(e, verifier)
		}
		if err != nil {
			result.Valid = false
			result.FailedAtSeq = e.Seq
			result.Err = err
			result.ErrorMessage = fmt.Sprintf("entry %s (seq %d): %v", e.ID, e.Seq, err)
			return result, nil
		}
		prevHash = e.Hash
	}
	return result, nil
}

// VerifyTask loads and verifies one task's chain.
func VerifyTask(ctx context.Context, r EntryReader, taskID string, verifier crypto.Verifier) (*Result, error) {
	if err := assert.Check(taskID != "", "task id must not be empty"); err != nil {
		return nil, err
	}
	entries, err := r.ListEntries(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	return VerifyChain(taskID, entries, verifier)
}

// VerifyEntry recomputes one entry's hash and checks its signature.
func VerifyEntry(e *models.LedgerEntry, verifier crypto.Verifier) error {
	if e.Hash == "" {
		return ErrHashMismatch
	}
	if e.Signature == "" {
		return ErrInvalidSignature
	}
	calculated, err := crypto.ChainHash(e.PrevHash, e.HashPayload())
	if err != nil {
		return fmt.Errorf("calculating hash: %w", err)
	}
	if calculated != e.Hash {
		return ErrHashMismatch
	}
	if !verifier.VerifySignature(calculated, e.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
