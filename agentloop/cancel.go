package agentloop

import "sync/atomic"

// CancelSignal is a cooperative cancellation flag. Cancel may be called from
// any goroutine and is idempotent; the agent polls it at safe points.
type CancelSignal struct {
	flag atomic.Bool
}

// NewCancelSignal returns an unset signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{}
}

// Cancel requests cancellation.
func (c *CancelSignal) Cancel() {
	if c != nil {
		c.flag.Store(true)
	}
}

// Cancelled reports whether cancellation was requested. A nil signal is
// never cancelled.
func (c *CancelSignal) Cancelled() bool {
	return c != nil && c.flag.Load()
}

// Reset clears the flag.
func (c *CancelSignal) Reset() {
	if c != nil {
		c.flag.Store(false)
	}
}
