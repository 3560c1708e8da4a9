package player

import "time"

// stoppableSleep is a sleep that a close of stopCh cuts short.
type stoppableSleep struct {
	stopCh chan struct{}
}

func newStoppableSleep(stopCh chan struct{}) *stoppableSleep {
	return &stoppableSleep{stopCh: stopCh}
}

// sleep returns false if the supervisor is shutting down.
func (s *stoppableSleep) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-s.stopCh:
		return false
	}
}
