// Package bufpool provides a tiered buffer pool for wire-message payloads.
//
// Every response frame the client reads lands in a byte slice that lives only
// until the response envelope has been decoded. Pooling those slices keeps a
// busy connection (thousands of in-flight calls) from churning the GC.
//
// Three size tiers cover the observed payload shapes:
//   - small (1KB): login responses, pings, empty result sets
//   - medium (64KB): typical single-table result sets
//   - large (4MB): bulk multi-table responses
//
// Payloads above the large tier are allocated directly and never pooled, so
// one oversized response does not pin megabytes of memory indefinitely.
//
// All operations are safe for concurrent use.
package bufpool

import "sync"

// Buffer size classes.
const (
	smallSize  = 1 << 10
	mediumSize = 64 << 10
	largeSize  = 4 << 20
)

var (
	small = sync.Pool{New: func() any {
		b := make([]byte, smallSize)
		return &b
	}}
	medium = sync.Pool{New: func() any {
		b := make([]byte, mediumSize)
		return &b
	}}
	large = sync.Pool{New: func() any {
		b := make([]byte, largeSize)
		return &b
	}}
)

// Get returns a byte slice of exactly the requested length, backed by a
// pooled buffer whose capacity may be larger. The caller must hand the slice
// back via Put once the payload has been decoded.
func Get(size int) []byte {
	var ptr *[]byte
	switch {
	case size <= smallSize:
		ptr = small.Get().(*[]byte)
	case size <= mediumSize:
		ptr = medium.Get().(*[]byte)
	case size <= largeSize:
		ptr = large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*ptr)[:size]
}

// Put returns a buffer obtained from Get to its pool. Oversized buffers that
// were allocated directly are left for the garbage collector.
func Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case smallSize:
		small.Put(&full)
	case mediumSize:
		medium.Put(&full)
	case largeSize:
		large.Put(&full)
	}
}
