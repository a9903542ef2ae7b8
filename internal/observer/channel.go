package observer

import "sync"

// Channel is an in-process observer backed by a buffered channel.
// Send never blocks: a full buffer yields ErrObserverSlow.
type Channel struct {
	id string
	ch chan []byte

	mu     sync.Mutex
	closed bool
}

// NewChannel creates a Channel observer with the given buffer size.
func NewChannel(id string, buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{id: id, ch: make(chan []byte, buffer)}
}

// ID returns the observer ID.
func (c *Channel) ID() string { return c.id }

// C returns the receive side. It is closed when the observer is closed.
func (c *Channel) C() <-chan []byte { return c.ch }

// Send enqueues data without blocking.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrObserverClosed
	}
	select {
	case c.ch <- data:
		return nil
	default:
		return ErrObserverSlow
	}
}

// Close closes the channel once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
