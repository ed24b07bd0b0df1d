package payment

import (
	"context"
	"testing"
	"time"

	"github.com/slyt3/GetItDone/internal/models"
	"github.com/stretchr/testify/require"
)

// stuck ignores its context entirely.
type stuck struct{ release chan struct{} }

func (s stuck) Charge(context.Context, string, models.Amount, string) (Receipt, error) {
	<-s.release
	return Receipt{Reference: "late"}, nil
}

func (s stuck) Payout(context.Context, string, models.Amount, string) (Receipt, error) {
	<-s.release
	return Receipt{Reference: "late"}, nil
}

func (s stuck) Refund(context.Context, Receipt) (Receipt, error) {
	<-s.release
	return Receipt{Reference: "late"}, nil
}

func TestSimulatedCharge(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{DeclineOver: 100000})
	ctx := context.Background()

	r, err := sim.Charge(ctx, "poster-1", 15000, "USD")
	require.NoError(t, err)
	require.Equal(t, "sim_ch_000001", r.Reference)
	require.Equal(t, models.Amount(15000), sim.Charged("poster-1"))

	_, err = sim.Charge(ctx, "poster-1", 100001, "USD")
	require.ErrorIs(t, err, ErrDeclined)

	sim.FailNextCharges(1)
	_, err = sim.Charge(ctx, "poster-1", 10, "USD")
	require.ErrorIs(t, err, ErrDeclined)
	_, err = sim.Charge(ctx, "poster-1", 10, "USD")
	require.NoError(t, err)
}

func TestSimulatedPayoutFailure(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{})
	sim.FailNextPayouts(1)
	_, err := sim.Payout(context.Background(), "helper-1", 14250, "USD")
	require.ErrorIs(t, err, ErrDeclined)
	require.Equal(t, models.Amount(0), sim.PaidOut("helper-1"))

	_, err = sim.Payout(context.Background(), "helper-1", 14250, "USD")
	require.NoError(t, err)
	require.Equal(t, models.Amount(14250), sim.PaidOut("helper-1"))
}

func TestWithTimeoutHonoringProcessor(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Latency: time.Second})
	p := WithTimeout(sim, 20*time.Millisecond)

	_, err := p.Charge(context.Background(), "poster-1", 100, "USD")
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, models.Amount(0), sim.Charged("poster-1"))
}

func TestWithTimeoutAbandonsStuckProcessor(t *testing.T) {
	s := stuck{release: make(chan struct{})}
	defer close(s.release)
	p := WithTimeout(s, 20*time.Millisecond)

	start := time.Now()
	_, err := p.Payout(context.Background(), "helper-1", 100, "USD")
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutPassesThroughFastCalls(t *testing.T) {
	p := WithTimeout(NewSimulated(SimulatedConfig{}), time.Second)
	r, err := p.Charge(context.Background(), "poster-1", 100, "USD")
	require.NoError(t, err)
	require.NotEmpty(t, r.Reference)
}

func TestSimulatedRefund(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{})
	ctx := context.Background()
	charge, err := sim.Charge(ctx, "poster-1", 15000, "USD")
	require.NoError(t, err)

	r, err := sim.Refund(ctx, charge)
	require.NoError(t, err)
	require.Equal(t, models.Amount(15000), r.Amount)
	require.Zero(t, sim.Charged("poster-1"))

	_, err = sim.Refund(ctx, charge)
	require.ErrorIs(t, err, ErrDeclined, "a charge is refunded once")
}

func TestFinishedCallBeatsExpiredDeadline(t *testing.T) {
	p := &timeoutProcessor{timeout: time.Millisecond}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	// Both channels are ready, so select alone would pick either.
	for i := 0; i < 100; i++ {
		done := make(chan result, 1)
		done <- result{receipt: Receipt{Reference: "sim_ch_000001", Amount: 100}}
		r, err := p.await(ctx, done)
		require.NoError(t, err)
		require.Equal(t, "sim_ch_000001", r.Reference)
	}

	_, err := p.await(ctx, make(chan result, 1))
	require.ErrorIs(t, err, ErrTimeout)
}
