// Package bufpool pools the byte buffers used to compress archive payloads,
// so a busy sink doesn't allocate a fresh buffer per message.
package bufpool

import (
	"bytes"
	"sync"
)

var pool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// Get returns a reset, ready-to-use buffer.
func Get() *bytes.Buffer {
	buf := pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. Buffers that grew past 64KB are dropped
// instead of pooled, so one large payload doesn't inflate steady-state
// memory use.
func Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > 64*1024 {
		return
	}
	buf.Reset()
	pool.Put(buf)
}
