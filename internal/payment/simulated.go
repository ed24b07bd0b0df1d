package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slyt3/GetItDone/internal/models"
)

// SimulatedConfig tunes the in-process processor.
type SimulatedConfig struct {
	// DeclineOver declines charges above this amount. Zero disables it.
	DeclineOver models.Amount
	// Latency delays every call, honoring context cancellation.
	Latency time.Duration
}

// Simulated is a deterministic Processor for tests and local runs.
type Simulated struct {
	mu          sync.Mutex
	cfg         SimulatedConfig
	seq         int
	failCharges int
	failPayouts int
	charged     map[string]models.Amount
	paid        map[string]models.Amount
	charges     map[string]string // unrefunded charge reference -> payer
}

func NewSimulated(cfg SimulatedConfig) *Simulated {
	return &Simulated{
		cfg:     cfg,
		charged: make(map[string]models.Amount),
		paid:    make(map[string]models.Amount),
		charges: make(map[string]string),
	}
}

// FailNextCharges makes the next n charges decline.
func (s *Simulated) FailNextCharges(n int) {
	s.mu.Lock()
	s.failCharges = n
	s.mu.Unlock()
}

// FailNextPayouts makes the next n payouts decline.
func (s *Simulated) FailNextPayouts(n int) {
	s.mu.Lock()
	s.failPayouts = n
	s.mu.Unlock()
}

// SetLatency changes the delay applied to subsequent calls.
func (s *Simulated) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.cfg.Latency = d
	s.mu.Unlock()
}

func (s *Simulated) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.cfg.Latency
	s.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulated) Charge(ctx context.Context, payerID string, amount models.Amount, currency string) (Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCharges > 0 {
		s.failCharges--
		return Receipt{}, fmt.Errorf("%w: card declined for %s", ErrDeclined, payerID)
	}
	if s.cfg.DeclineOver > 0 && amount > s.cfg.DeclineOver {
		return Receipt{}, fmt.Errorf("%w: %s %s over limit", ErrDeclined, amount, currency)
	}
	s.seq++
	s.charged[payerID] += amount
	ref := fmt.Sprintf("sim_ch_%06d", s.seq)
	s.charges[ref] = payerID
	return Receipt{Reference: ref, Amount: amount, Currency: currency, ProcessedAt: time.Now().UTC()}, nil
}

func (s *Simulated) Payout(ctx context.Context, payeeID string, amount models.Amount, currency string) (Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPayouts > 0 {
		s.failPayouts--
		return Receipt{}, fmt.Errorf("%w: payout account unavailable for %s", ErrDeclined, payeeID)
	}
	s.seq++
	s.paid[payeeID] += amount
	return Receipt{Reference: fmt.Sprintf("sim_po_%06d", s.seq), Amount: amount, Currency: currency, ProcessedAt: time.Now().UTC()}, nil
}

// Refund reverses a charge once. Charged drops by the refunded amount.
func (s *Simulated) Refund(ctx context.Context, charge Receipt) (Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payerID, ok := s.charges[charge.Reference]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: unknown or refunded charge %s", ErrDeclined, charge.Reference)
	}
	delete(s.charges, charge.Reference)
	s.seq++
	s.charged[payerID] -= charge.Amount
	return Receipt{Reference: fmt.Sprintf("sim_re_%06d", s.seq), Amount: charge.Amount, Currency: charge.Currency, ProcessedAt: time.Now().UTC()}, nil
}

// Charged is the net amount charged to payerID after refunds.
func (s *Simulated) Charged(payerID string) models.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charged[payerID]
}

// PaidOut is the total successfully paid to payeeID.
func (s *Simulated) PaidOut(payeeID string) models.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paid[payeeID]
}
