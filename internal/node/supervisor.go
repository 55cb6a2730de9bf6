package node

import (
	"context"
	"fmt"
	"time"
)

// statusOffline is the reason reported when the session settles into Idle,
// whether by an explicit Disconnect or by supervisor shutdown.
const statusOffline = "Offline"

// Run supervises the session until ctx is cancelled: while a desired
// endpoint is set it keeps one connection attempt alive, sleeping an
// exponentially growing delay between failures. The delay resets whenever
// a handshake completes. Connect and Disconnect wake the loop immediately.
func (s *Session) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			s.setIdle(statusOffline)
			return
		}

		d, gen := s.snapshot()
		if d == nil {
			s.setIdle(statusOffline)
			attempt = 0
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(idlePollInterval):
			}
			continue
		}

		connected, err := s.connectOnce(ctx, *d, gen)
		if connected {
			attempt = 0
		}
		if ctx.Err() != nil {
			s.setIdle(statusOffline)
			return
		}
		if err == nil || !s.stillWanted(gen) {
			// Clean exit or superseded: loop back around without delay.
			continue
		}

		delay := s.backoff.Delay(attempt)
		attempt++
		s.setState(gen, StateReconnecting, fmt.Sprintf("reconnecting in %s: %v", delay.Round(time.Millisecond), err))
		select {
		case <-ctx.Done():
			s.setIdle(statusOffline)
			return
		case <-s.wake:
		case <-time.After(delay):
		}
	}
}

func (s *Session) setIdle(reason string) {
	s.mu.Lock()
	changed := s.state != StateIdle
	s.state = StateIdle
	s.mu.Unlock()
	if changed {
		s.notify(StateIdle, reason)
	}
}
