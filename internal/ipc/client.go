package ipc

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/bnema/xrelay/internal/logger"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultTimeout bounds one request. A drop waits for the whole macro, so
// it has to cover the configured settle and step pauses.
const DefaultTimeout = 10 * time.Second

// ErrNotRunning is returned when no stream process listens on the socket.
var ErrNotRunning = errors.New("xrelay stream is not running")

// Client handles IPC communication with a running stream process
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of c using timeout per request.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	cp := *c
	cp.timeout = timeout
	return &cp
}

// SendDrop asks the stream process to drop at (x, y) and returns the state
// after the macro finished.
func (c *Client) SendDrop(x, y int) (Status, error) {
	msg, err := NewDropMessage(x, y)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create drop message: %w", err)
	}
	return c.request(msg)
}

// SendStatus queries the stream process state.
func (c *Client) SendStatus() (Status, error) {
	msg, err := NewStatusMessage()
	if err != nil {
		return Status{}, fmt.Errorf("failed to create status message: %w", err)
	}
	return c.request(msg)
}

// IsRunning reports whether a stream process answers on the socket.
func (c *Client) IsRunning() bool {
	_, err := c.WithTimeout(time.Second).SendStatus()
	return err == nil
}

func (c *Client) request(msg *structpb.Struct) (Status, error) {
	response, err := c.sendMessage(msg)
	if err != nil {
		return Status{}, err
	}

	switch MessageType(response) {
	case TypeStatusResponse:
		return GetStatusResponse(response)
	case TypeError:
		errMsg, _ := GetError(response)
		return Status{}, fmt.Errorf("server error: %s", errMsg)
	default:
		return Status{}, fmt.Errorf("%w: response type %q", ErrUnexpectedMessage, MessageType(response))
	}
}

// sendMessage sends a message and returns the response
func (c *Client) sendMessage(msg *structpb.Struct) (*structpb.Struct, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if isNotListening(err) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.socketPath, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close IPC connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		logger.Warnf("Failed to set connection deadline: %v", err)
	}

	if err := writeMessage(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	response, err := readMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return response, nil
}

func isNotListening(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}
