package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// outbox is a bounded byte ring of encoded frames waiting for the writer goroutine.
// A frame is accepted whole or not at all, so the writer never sees a partial frame.
type outbox struct {
	mu     sync.Mutex
	buf    *ringbuffer.RingBuffer
	notify chan struct{}
	closed bool

	frames  atomic.Uint64
	dropped atomic.Uint64
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		buf:    ringbuffer.New(capacity),
		notify: make(chan struct{}, 1),
	}
}

// push appends one encoded frame. It never blocks.
func (o *outbox) push(raw []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrSessionClosed
	}
	if len(raw) > o.buf.Capacity()-o.buf.Length() {
		o.dropped.Add(1)
		return ErrOutboxFull
	}
	if len(raw) == 0 {
		return nil
	}
	if _, err := o.buf.Write(raw); err != nil {
		o.dropped.Add(1)
		if errors.Is(err, ringbuffer.ErrIsFull) {
			return ErrOutboxFull
		}
		return err
	}
	o.frames.Add(1)

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop moves up to len(p) queued bytes into p. Zero means empty.
func (o *outbox) pop(p []byte) int {
	n, err := o.buf.TryRead(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0
	}
	return n
}

func (o *outbox) pending() int {
	return o.buf.Length()
}

// close rejects further pushes and wakes the writer.
func (o *outbox) close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.notify)
	}
	o.mu.Unlock()
}

// discard drops everything still queued.
func (o *outbox) discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	scratch := make([]byte, 4096)
	for !o.buf.IsEmpty() {
		if o.pop(scratch) == 0 {
			return
		}
	}
}
