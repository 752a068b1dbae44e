package network

import "github.com/bnema/xrelay/internal/wire"

// Sender is the write side of the event transport.
type Sender interface {
	Send(datagram []byte) error
	Close() error
}

// EventHandler is called for every well-formed event received. A non-nil
// error stops the receive loop.
type EventHandler func(event wire.Event) error
