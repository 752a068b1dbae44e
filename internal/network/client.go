// Package network carries encoded input events over UDP.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sender closed")

// UDPSender writes one datagram per event to the streamer. It never retries
// and never buffers; a failed write is reported to the caller and forgotten.
type UDPSender struct {
	conn     *net.UDPConn
	mu       sync.RWMutex
	closed   bool
	closeErr error
	stopOnce sync.Once

	sent   atomic.Uint64
	failed atomic.Uint64
}

// DialUDP resolves address ("host:port") and returns a connected sender.
func DialUDP(address string) (*UDPSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", address, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	// Pointer motion arrives in bursts.
	_ = conn.SetWriteBuffer(1 << 20)

	return &UDPSender{conn: conn}, nil
}

// Send writes datagram as a single UDP packet.
func (s *UDPSender) Send(datagram []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.failed.Add(1)
		return ErrClosed
	}

	if _, err := s.conn.Write(datagram); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// RemoteAddr returns the streamer address the sender writes to.
func (s *UDPSender) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Sent returns the number of datagrams written and the number of failures.
func (s *UDPSender) Sent() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}

// Close releases the socket. It is safe to call more than once.
func (s *UDPSender) Close() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.closeErr = s.conn.Close()
		s.mu.Unlock()
	})
	return s.closeErr
}
