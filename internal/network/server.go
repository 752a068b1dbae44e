package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/wire"
)

// maxDatagram bounds the read buffer; the largest event is 9 bytes.
const maxDatagram = 64

// ReceiverStats is a snapshot of receive-side counters.
type ReceiverStats struct {
	Received  uint64
	Malformed uint64
}

// UDPReceiver listens for event datagrams and hands decoded events to
// OnEvent in arrival order.
type UDPReceiver struct {
	port     int
	conn     *net.UDPConn
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once

	received  atomic.Uint64
	malformed atomic.Uint64

	OnEvent EventHandler
}

// NewUDPReceiver creates a receiver for port. Port 0 picks a free port.
func NewUDPReceiver(port int) *UDPReceiver {
	return &UDPReceiver{
		port: port,
		stop: make(chan struct{}),
	}
}

// Listen binds the UDP socket.
func (r *UDPReceiver) Listen() error {
	if r.port < 0 || r.port > 65535 {
		return fmt.Errorf("invalid port: %d", r.port)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.port})
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	_ = conn.SetReadBuffer(1 << 20)

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

// Address returns the bound address, or "" before Listen.
func (r *UDPReceiver) Address() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return ""
	}
	return r.conn.LocalAddr().String()
}

// Serve reads datagrams until ctx is cancelled, Close is called, or OnEvent
// returns an error. Malformed datagrams are counted and skipped.
func (r *UDPReceiver) Serve(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("receiver is not listening")
	}

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stop:
			return nil
		default:
		}

		// Short deadline so cancellation is noticed between datagrams.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-r.stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("read failed: %w", err)
		}

		event, err := wire.Decode(buf[:n])
		if err != nil {
			r.malformed.Add(1)
			logger.Debugf("Dropping datagram: %v", err)
			continue
		}
		r.received.Add(1)

		if r.OnEvent == nil {
			continue
		}
		if err := r.OnEvent(event); err != nil {
			return fmt.Errorf("failed to handle %s event: %w", event.Tag(), err)
		}
	}
}

// Stats returns the current counters.
func (r *UDPReceiver) Stats() ReceiverStats {
	return ReceiverStats{
		Received:  r.received.Load(),
		Malformed: r.malformed.Load(),
	}
}

// Close stops Serve and releases the socket.
func (r *UDPReceiver) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stop)
		r.mu.Lock()
		if r.conn != nil {
			err = r.conn.Close()
		}
		r.mu.Unlock()
	})
	return err
}
