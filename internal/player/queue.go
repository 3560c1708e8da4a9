package player

import (
	"errors"
	"sync"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

var errQueueFull = errors.New("player: command queue full")

// cmdQueue buffers commands issued before the control channel is up. It is a
// bounded FIFO drained exactly once on the Connecting -> Connected transition;
// submission order is preserved.
type cmdQueue struct {
	mu      sync.Mutex
	state   connState
	pending [][]any
	limit   int
}

func newCmdQueue(limit int) *cmdQueue {
	return &cmdQueue{limit: limit}
}

func (q *cmdQueue) State() connState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *cmdQueue) SetState(s connState) {
	q.mu.Lock()
	q.state = s
	q.mu.Unlock()
}

// Offer either admits the command for direct sending (connected=true) or
// buffers it. Buffering fails when the queue is full; callers surface that
// error rather than dropping silently.
func (q *cmdQueue) Offer(args []any) (connected bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == stateConnected {
		return true, nil
	}

	if len(q.pending) >= q.limit {
		return false, errQueueFull
	}
	q.pending = append(q.pending, args)
	return false, nil
}

// Connect flushes the backlog through write in submission order and only then
// marks the queue connected, all under the queue lock, so a command submitted
// mid-flush cannot overtake the buffered ones. On write failure the unwritten
// remainder stays queued for the next connect and the state is untouched.
func (q *cmdQueue) Connect(write func(args []any) error) (flushed int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		args := q.pending[0]
		if err := write(args); err != nil {
			return flushed, err
		}
		q.pending = q.pending[1:]
		flushed++
	}

	q.state = stateConnected
	q.pending = nil
	return flushed, nil
}
