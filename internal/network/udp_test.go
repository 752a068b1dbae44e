package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bnema/xrelay/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventSink struct {
	mu     sync.Mutex
	events []wire.Event
	got    chan struct{}
}

func newEventSink() *eventSink {
	return &eventSink{got: make(chan struct{}, 64)}
}

func (s *eventSink) handle(ev wire.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *eventSink) wait(t *testing.T, n int) []wire.Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Event(nil), s.events...)
}

func startReceiver(t *testing.T, handler EventHandler) (*UDPReceiver, <-chan error) {
	t.Helper()

	r := NewUDPReceiver(0)
	r.OnEvent = handler
	require.NoError(t, r.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = r.Close()
	})
	return r, done
}

func TestUDPRoundTrip(t *testing.T) {
	sink := newEventSink()
	r, _ := startReceiver(t, sink.handle)

	s, err := DialUDP(r.Address())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	events := []wire.Event{
		wire.Movement{X: 12, Y: 7},
		wire.Click{X: 300, Y: 150, Button: wire.ButtonLeft, Pressed: true},
		wire.Scroll{X: 1, Y: 2, DY: -1},
		wire.Key{Code: 30, State: wire.KeyPressed},
	}
	for _, ev := range events {
		require.NoError(t, s.Send(wire.Encode(ev)))
	}

	assert.Equal(t, events, sink.wait(t, len(events)))

	sent, failed := s.Sent()
	assert.Equal(t, uint64(4), sent)
	assert.Zero(t, failed)
	assert.Equal(t, uint64(4), r.Stats().Received)
}

func TestUDPReceiver_SkipsMalformed(t *testing.T) {
	sink := newEventSink()
	r, _ := startReceiver(t, sink.handle)

	conn, err := net.Dial("udp", r.Address())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte{0x00, 0x01}) // short movement
	require.NoError(t, err)
	_, err = conn.Write([]byte{0x42, 0, 0, 0, 0}) // unknown tag
	require.NoError(t, err)
	_, err = conn.Write(wire.Encode(wire.Movement{X: 1, Y: 1}))
	require.NoError(t, err)

	got := sink.wait(t, 1)
	assert.Equal(t, []wire.Event{wire.Movement{X: 1, Y: 1}}, got)
	assert.Equal(t, uint64(2), r.Stats().Malformed)
}

func TestUDPReceiver_HandlerErrorStopsServe(t *testing.T) {
	boom := errors.New("device gone for good")
	r, done := startReceiver(t, func(wire.Event) error { return boom })

	s, err := DialUDP(r.Address())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Send(wire.Encode(wire.Movement{})))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestUDPReceiver_ContextCancel(t *testing.T) {
	r := NewUDPReceiver(0)
	require.NoError(t, r.Listen())
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve ignored cancellation")
	}
}

func TestUDPReceiver_InvalidPort(t *testing.T) {
	assert.Error(t, NewUDPReceiver(-1).Listen())
	assert.Error(t, NewUDPReceiver(0).Serve(context.Background()))
}

func TestUDPSender_SendAfterClose(t *testing.T) {
	s, err := DialUDP("127.0.0.1:9")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte{0x00, 0, 0, 0, 0}), ErrClosed)

	_, failed := s.Sent()
	assert.Equal(t, uint64(1), failed)
}

func TestDialUDP_BadAddress(t *testing.T) {
	_, err := DialUDP("not-an-address")
	assert.Error(t, err)
}
