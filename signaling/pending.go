package signaling

import (
	"sync"
	"time"

	"github.com/openchat/rtckit/domain"
)

// pendingAck tracks one signal awaiting its acknowledgement. Each
// entry owns an independent deadline timer; timers are not batched.
type pendingAck struct {
	sig   domain.Signal
	done  chan error
	timer *time.Timer
}

type pendingTable struct {
	mu sync.Mutex
	m  map[string]*pendingAck
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[string]*pendingAck)}
}

// add registers sig and arms its timeout. Firing the deadline removes
// the entry and fails the waiter with a SignalingTimeout error.
func (t *pendingTable) add(sig domain.Signal, timeout time.Duration) *pendingAck {
	p := &pendingAck{
		sig:  sig,
		done: make(chan error, 1),
	}
	t.mu.Lock()
	t.m[sig.ID] = p
	// Armed under the lock so a racing resolve never sees a nil timer.
	p.timer = time.AfterFunc(timeout, func() {
		t.fail(sig.ID, domain.Errorf(domain.CodeSignalingTimeout, "signaling.ack",
			"no ack for %s signal %s within %s", sig.Kind, sig.ID, timeout))
	})
	t.mu.Unlock()
	return p
}

// resolve completes the waiter for id, if still pending. Late and
// duplicate acks return false and are ignored by the caller.
func (t *pendingTable) resolve(id string) bool {
	p := t.remove(id)
	if p == nil {
		return false
	}
	p.done <- nil
	return true
}

func (t *pendingTable) fail(id string, err error) bool {
	p := t.remove(id)
	if p == nil {
		return false
	}
	p.done <- err
	return true
}

// failAll fails every pending waiter, used on channel teardown.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	pending := t.m
	t.m = make(map[string]*pendingAck)
	t.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.done <- err
	}
}

func (t *pendingTable) remove(id string) *pendingAck {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[id]
	if !ok {
		return nil
	}
	delete(t.m, id)
	p.timer.Stop()
	return p
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
