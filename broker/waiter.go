package broker

import (
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// Waiter is the handle returned by SubscribeOnce. Wait blocks until a
// matching message arrives or the timeout expires.
type Waiter struct {
	ch   chan *types.Message
	mu   sync.Mutex
	done bool
}

// complete delivers msg to the waiter. Returns true the first time only.
func (w *Waiter) complete(msg *types.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	w.done = true
	w.ch <- msg
	return true
}

// Wait blocks until the waiter's message arrives, or returns a TIMEOUT
// error after the given duration.
func (w *Waiter) Wait(timeout time.Duration) (*types.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-w.ch:
		return msg, nil
	case <-timer.C:
		return nil, types.NewError(types.ErrTimeout, "timeout waiting for message")
	}
}
