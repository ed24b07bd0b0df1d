// Package pool recycles JSON encode buffers used by webhook delivery and
// API responses.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Metrics counts pool traffic. Misses are allocations by New.
type Metrics struct {
	BufferGets   uint64
	BufferMisses uint64
}

var globalMetrics Metrics

// GetMetrics returns a snapshot of the counters.
func GetMetrics() Metrics {
	return Metrics{
		BufferGets:   atomic.LoadUint64(&globalMetrics.BufferGets),
		BufferMisses: atomic.LoadUint64(&globalMetrics.BufferMisses),
	}
}

const maxBufferSize = 1 << 20

var bufferPool = sync.Pool{
	New: func() interface{} {
		atomic.AddUint64(&globalMetrics.BufferMisses, 1)
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

func GetBuffer() *bytes.Buffer {
	atomic.AddUint64(&globalMetrics.BufferGets, 1)
	return bufferPool.Get().(*bytes.Buffer)
}

// PutBuffer drops buffers that grew past 1MB instead of pooling them.
func PutBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxBufferSize {
		return
	}
	b.Reset()
	bufferPool.Put(b)
}
