package observer

import "errors"

var (
	// ErrObserverClosed is returned by Send after the observer was closed.
	ErrObserverClosed = errors.New("observer: closed")

	// ErrObserverSlow is returned by Send when the observer's buffer is full.
	ErrObserverSlow = errors.New("observer: send buffer full")
)
