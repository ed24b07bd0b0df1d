// Package notify delivers committed domain events to an external sink off
// the request path, through a bounded ring buffer and one background goroutine.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/ring"
)

// BackpressureMode defines how Publish handles a full ring buffer.
type BackpressureMode int

const (
	// BackpressureDrop drops events when the buffer is full (default).
	BackpressureDrop BackpressureMode = iota
	// BackpressureBlock waits briefly for space, then drops.
	BackpressureBlock
)

// Sink receives events one at a time from the dispatcher goroutine.
type Sink interface {
	Deliver(ctx context.Context, ev models.Event) error
}

const (
	maxDrainEvents    = 1 << 20
	drainBatch        = 64
	maxBlockAttempts  = 1000
	maxLatencyBuckets = 7
	deliverTimeout    = 10 * time.Second
)

var latencyBucketUpperNs = [maxLatencyBuckets]uint64{
	1 * uint64(time.Millisecond),
	5 * uint64(time.Millisecond),
	10 * uint64(time.Millisecond),
	25 * uint64(time.Millisecond),
	50 * uint64(time.Millisecond),
	100 * uint64(time.Millisecond),
	^uint64(0),
}

// LatencySnapshot is the delivery latency histogram. BoundsNs are bucket
// upper bounds in nanoseconds.
type LatencySnapshot struct {
	BoundsNs [maxLatencyBuckets]uint64
	Counts   [maxLatencyBuckets]uint64
	SumNs    uint64
	Count    uint64
}

// Dispatcher implements events.Publisher. Publish never blocks the caller
// in drop mode; a full buffer drops the event and counts it.
type Dispatcher struct {
	buffer           *ring.Buffer[models.Event]
	sink             Sink
	signal           chan struct{}
	quit             chan struct{}
	backpressureMode BackpressureMode

	delivered      atomic.Uint64
	dropped        atomic.Uint64
	failed         atomic.Uint64
	blockedPublish atomic.Uint64
	latencySumNs   atomic.Uint64
	latencyCount   atomic.Uint64
	latencyBuckets [maxLatencyBuckets]atomic.Uint64

	started      atomic.Bool
	closing      atomic.Bool
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewDispatcher returns a stopped dispatcher. Call Start before publishing.
func NewDispatcher(bufferSize int, sink Sink) (*Dispatcher, error) {
	if err := assert.Check(bufferSize > 0, "buffer size must be positive"); err != nil {
		return nil, err
	}
	if err := assert.NotNil(sink, "sink"); err != nil {
		return nil, err
	}
	rb, err := ring.New[models.Event](bufferSize)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		buffer: rb,
		sink:   sink,
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}, nil
}

// SetBackpressureMode must be called before Start.
func (d *Dispatcher) SetBackpressureMode(mode BackpressureMode) error {
	if err := assert.Check(mode == BackpressureDrop || mode == BackpressureBlock, "invalid backpressure mode"); err != nil {
		return err
	}
	d.backpressureMode = mode
	return nil
}

func (d *Dispatcher) BackpressureMode() BackpressureMode { return d.backpressureMode }

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run()
	}()
}

// Publish queues ev for delivery. It returns nil even when the event is
// dropped; drops are visible through Stats.
func (d *Dispatcher) Publish(_ context.Context, ev models.Event) error {
	if d.closing.Load() {
		d.drop(ev, "event_dropped_shutdown")
		return nil
	}
	if d.backpressureMode == BackpressureBlock {
		for i := 0; i < maxBlockAttempts && d.buffer.IsFull(); i++ {
			if d.closing.Load() {
				d.drop(ev, "event_dropped_shutdown")
				return nil
			}
			d.blockedPublish.Add(1)
			time.Sleep(time.Millisecond)
		}
	}
	if err := d.buffer.Push(ev); err != nil {
		d.drop(ev, "event_dropped_backpressure")
		return nil
	}
	select {
	case d.signal <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) drop(ev models.Event, msg string) {
	d.dropped.Add(1)
	logging.Warn(msg, logging.Fields{Component: "notify", TaskID: ev.TaskID, Method: string(ev.Type)})
}

func (d *Dispatcher) run() {
	for {
		select {
		case <-d.signal:
			d.drain()
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for n := 0; n < maxDrainEvents; {
		batch := d.buffer.Drain(drainBatch)
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			d.deliver(ev)
		}
		n += len(batch)
	}
}

func (d *Dispatcher) deliver(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	start := time.Now()
	if err := d.sink.Deliver(ctx, ev); err != nil {
		d.failed.Add(1)
		logging.Error("event_delivery_failed", logging.Fields{
			Component: "notify",
			TaskID:    ev.TaskID,
			Method:    string(ev.Type),
			Error:     err.Error(),
		})
	} else {
		d.delivered.Add(1)
	}
	d.recordLatency(time.Since(start))
}

func (d *Dispatcher) recordLatency(dur time.Duration) {
	if dur < 0 {
		dur = 0
	}
	ns := uint64(dur.Nanoseconds())
	for i := 0; i < maxLatencyBuckets; i++ {
		if ns <= latencyBucketUpperNs[i] {
			d.latencyBuckets[i].Add(1)
			break
		}
	}
	d.latencySumNs.Add(ns)
	d.latencyCount.Add(1)
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() (delivered, dropped, failed uint64) {
	return d.delivered.Load(), d.dropped.Load(), d.failed.Load()
}

// BlockedPublishes counts waits caused by a full buffer in block mode.
func (d *Dispatcher) BlockedPublishes() uint64 { return d.blockedPublish.Load() }

// QueueDepth returns the buffered event count and the capacity.
func (d *Dispatcher) QueueDepth() (int, int) {
	return d.buffer.Len(), d.buffer.Cap()
}

func (d *Dispatcher) LatencyMetrics() LatencySnapshot {
	var snap LatencySnapshot
	for i := 0; i < maxLatencyBuckets; i++ {
		snap.BoundsNs[i] = latencyBucketUpperNs[i]
		snap.Counts[i] = d.latencyBuckets[i].Load()
	}
	snap.SumNs = d.latencySumNs.Load()
	snap.Count = d.latencyCount.Load()
	return snap
}

// Shutdown stops accepting events, waits for the goroutine, then delivers
// whatever is still buffered.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	if err := assert.Check(timeout > 0, "timeout must be positive"); err != nil {
		return err
	}
	d.closing.Store(true)
	d.shutdownOnce.Do(func() { close(d.quit) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return fmt.Errorf("dispatcher shutdown wait exceeded %s", timeout)
	}
	d.drain()
	return nil
}
