package rtmp

import (
	"context"
	"sync"
)

// minSendGranularity is the smallest piece a sender waits for when the
// window cannot take the whole remainder of a chunk.
const minSendGranularity = 128

// ackWindow tracks bytes sent but not yet acknowledged by the peer and
// makes senders wait while the window is full. A size of 0 disables the
// limit.
type ackWindow struct {
	mu          sync.Mutex
	size        uint32
	outstanding int64
	lastAck     uint32
	// closed and replaced on every change so waiters can retry
	wake chan struct{}
}

func newAckWindow(size uint32) *ackWindow {
	return &ackWindow{size: size, wake: make(chan struct{})}
}

func (w *ackWindow) broadcast() {
	close(w.wake)
	w.wake = make(chan struct{})
}

func (w *ackWindow) setSize(size uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.size = size
	w.broadcast()
}

func (w *ackWindow) Size() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *ackWindow) Outstanding() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding
}

// add counts bytes that went out without a reservation.
func (w *ackWindow) add(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outstanding += int64(n)
}

// reserve blocks until some of want bytes may be sent and returns how many.
// It waits for at least min(want, minSendGranularity) bytes of budget unless
// nothing is outstanding, in which case whatever the window allows goes.
func (w *ackWindow) reserve(ctx context.Context, want int) (int, error) {
	for {
		w.mu.Lock()
		if w.size == 0 {
			w.outstanding += int64(want)
			w.mu.Unlock()
			return want, nil
		}

		budget := int64(w.size) - w.outstanding
		need := int64(want)
		if need > minSendGranularity {
			need = minSendGranularity
		}
		if budget >= need || w.outstanding == 0 {
			n := int64(want)
			if budget < n {
				n = budget
			}
			w.outstanding += n
			w.mu.Unlock()
			return int(n), nil
		}

		wake := w.wake
		w.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// acknowledge applies a cumulative sequence number from the peer. clamped
// reports that the peer acknowledged more than was outstanding.
func (w *ackWindow) acknowledge(seq uint32) (delta uint32, clamped bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delta = seq - w.lastAck
	w.lastAck = seq
	if int64(delta) > w.outstanding {
		w.outstanding = 0
		clamped = true
	} else {
		w.outstanding -= int64(delta)
	}
	w.broadcast()
	return delta, clamped
}
