// Package payment is the boundary to the external payment processor.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slyt3/GetItDone/internal/models"
)

var (
	ErrDeclined = errors.New("declined by processor")
	ErrTimeout  = errors.New("processor timed out")
)

// Receipt is the processor's acknowledgement of a money movement.
type Receipt struct {
	Reference   string        `json:"reference"`
	Amount      models.Amount `json:"amount"`
	Currency    string        `json:"currency"`
	ProcessedAt time.Time     `json:"processed_at"`
}

// Processor charges posters and pays out helpers. Refund reverses a charge
// identified by its receipt reference.
type Processor interface {
	Charge(ctx context.Context, payerID string, amount models.Amount, currency string) (Receipt, error)
	Payout(ctx context.Context, payeeID string, amount models.Amount, currency string) (Receipt, error)
	Refund(ctx context.Context, charge Receipt) (Receipt, error)
}

type timeoutProcessor struct {
	next    Processor
	timeout time.Duration
}

// WithTimeout bounds every call to next by d. A processor that ignores its
// context is abandoned after d and the call fails with ErrTimeout.
func WithTimeout(next Processor, d time.Duration) Processor {
	if d <= 0 {
		return next
	}
	return &timeoutProcessor{next: next, timeout: d}
}

type result struct {
	receipt Receipt
	err     error
}

func (p *timeoutProcessor) call(ctx context.Context, fn func(ctx context.Context) (Receipt, error)) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		r, err := fn(ctx)
		done <- result{r, err}
	}()

	return p.await(ctx, done)
}

// await prefers a finished call over an expired context, so a charge that
// landed right at the deadline is not reported as a timeout.
func (p *timeoutProcessor) await(ctx context.Context, done <-chan result) (Receipt, error) {
	select {
	case res := <-done:
		return p.settle(ctx, res)
	case <-ctx.Done():
	}
	select {
	case res := <-done:
		return p.settle(ctx, res)
	default:
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Receipt{}, fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
	}
	return Receipt{}, ctx.Err()
}

func (p *timeoutProcessor) settle(ctx context.Context, res result) (Receipt, error) {
	if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Receipt{}, fmt.Errorf("%w after %s: %v", ErrTimeout, p.timeout, res.err)
	}
	return res.receipt, res.err
}

func (p *timeoutProcessor) Charge(ctx context.Context, payerID string, amount models.Amount, currency string) (Receipt, error) {
	return p.call(ctx, func(ctx context.Context) (Receipt, error) {
		return p.next.Charge(ctx, payerID, amount, currency)
	})
}

func (p *timeoutProcessor) Payout(ctx context.Context, payeeID string, amount models.Amount, currency string) (Receipt, error) {
	return p.call(ctx, func(ctx context.Context) (Receipt, error) {
		return p.next.Payout(ctx, payeeID, amount, currency)
	})
}

func (p *timeoutProcessor) Refund(ctx context.Context, charge Receipt) (Receipt, error) {
	return p.call(ctx, func(ctx context.Context) (Receipt, error) {
		return p.next.Refund(ctx, charge)
	})
}
