package client

import "time"

// MaxRetryAttempts is the reconnection budget per connection-loss episode.
// Exhausting it is terminal for the session; user intervention is required.
const MaxRetryAttempts = 10

// maxBackoff caps the delay between attempts.
const maxBackoff = 30 * time.Second

// BackoffDelay returns the delay before retry attempt n (zero-based):
// 1s, 2s, 4s, ... capped at 30s.
func BackoffDelay(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// clock abstracts timer creation so retry and grace scheduling are
// deterministic under test.
type clock interface {
	AfterFunc(d time.Duration, f func()) timer
}

type timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// transportDown handles every path by which a connection stops being
// usable: read error, close frame, write error, dial failure. Stale
// generations are ignored so an orphaned read pump cannot disturb a newer
// connection.
func (c *Client) transportDown(gen int, code int, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	c.closeCode = code
	c.closeReason = reason

	tooBig := code == CloseMessageTooBig
	if c.hasRecordLocked() {
		c.scheduleRetryLocked()
	} else {
		c.retrying = false
	}
	st := c.statusLocked()
	c.mu.Unlock()

	if tooBig {
		c.notify(Notice{
			Kind:    NoticePayloadTooBig,
			Message: "The message you sent was too large for the server to accept.",
		})
	}
	c.notifyStatus(st)
	c.logger.Warn().Str("module", "client").Int("code", code).Str("reason", reason).
		Bool("retrying", st.Reconnecting).Msg("transport down")
}

// hasRecordLocked reports whether a continuity record for this room
// exists. The record is the sole reconnection gate: no record, no retry.
func (c *Client) hasRecordLocked() bool {
	r, found := c.store.Load()
	return found && r.Matches(c.sess.RoomID)
}

// scheduleRetryLocked arms the next reconnection attempt, replacing any
// already pending. Called with c.mu held.
func (c *Client) scheduleRetryLocked() {
	if c.attempt >= MaxRetryAttempts {
		c.retrying = false
		c.terminal = true
		c.logger.Error().Str("module", "client").Int("attempts", c.attempt).
			Msg("retry budget exhausted")
		c.metrics.IncRetryExhausted()
		go c.notify(Notice{
			Kind:    NoticeDisconnected,
			Message: "Connection lost. Please rejoin the room.",
		})
		return
	}
	c.cancelRetryLocked()
	c.retrying = true
	attempt := c.attempt
	delay := BackoffDelay(attempt)
	c.logger.Info().Str("module", "client").Int("attempt", attempt+1).
		Dur("delay", delay).Msg("scheduling reconnect")
	c.metrics.IncRetryScheduled()
	c.retryTimer = c.clock.AfterFunc(delay, func() { c.retryFire(attempt) })
}

func (c *Client) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// retryFire runs when a scheduled backoff elapses.
func (c *Client) retryFire(attempt int) {
	c.mu.Lock()
	if !c.retrying || c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	if !c.hasRecordLocked() {
		// Record vanished while we waited; the disconnect became deliberate.
		c.retrying = false
		c.retryTimer = nil
		c.mu.Unlock()
		return
	}
	c.attempt++
	c.retryTimer = nil
	ctx := c.baseCtx
	c.mu.Unlock()

	_ = c.Connect(ctx)
}

// NotifyForeground signals that the application returned to the
// foreground. If a continuity record exists and the connection is not
// Open, the retry counter resets and a fresh connection starts
// immediately. Terminal sessions get a full new budget.
func (c *Client) NotifyForeground() {
	c.mu.Lock()
	if c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	if !c.hasRecordLocked() {
		c.mu.Unlock()
		return
	}
	c.cancelRetryLocked()
	c.attempt = 0
	c.retrying = false
	c.terminal = false
	ctx := c.baseCtx
	c.mu.Unlock()

	c.logger.Info().Str("module", "client").Msg("foreground resume")
	_ = c.Connect(ctx)
}
