package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/xrelay/internal/logger"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageHandler serves control requests inside the stream process.
type MessageHandler interface {
	// HandleDrop runs one drag-and-drop to stream-relative (x, y). ctx is
	// cancelled when the server stops.
	HandleDrop(ctx context.Context, x, y int) error
	HandleStatus() (Status, error)
}

// SocketServer handles incoming IPC connections
type SocketServer struct {
	mu         sync.Mutex
	listener   net.Listener
	socketPath string
	handler    MessageHandler
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	running    bool
}

// NewSocketServer creates a server listening on socketPath.
func NewSocketServer(socketPath string, handler MessageHandler) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handler:    handler,
	}
}

// Path returns the socket path.
func (s *SocketServer) Path() string {
	return s.socketPath
}

// Start starts the socket server
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	// Remove a stale socket left by a crashed process
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}

	// Set socket permissions (user only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptConnections(ctx)

	logger.Infof("IPC socket server started at %s", s.socketPath)
	return nil
}

// Stop stops the socket server and waits for in-flight requests.
func (s *SocketServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.cancel()
	s.listener.Close()
	s.wg.Wait()

	os.RemoveAll(s.socketPath)

	logger.Info("IPC socket server stopped")
}

func (s *SocketServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to accept connection: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock a pending read when the server stops.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger.Debug("New IPC connection established")

	for {
		msg, err := readMessage(conn)
		if err != nil {
			logger.Debugf("Connection closed or read error: %v", err)
			return
		}

		response := s.handleMessage(ctx, msg)
		if err := writeMessage(conn, response); err != nil {
			logger.Errorf("Failed to send response: %v", err)
			return
		}
	}
}

// handleMessage processes a single message and returns a response
func (s *SocketServer) handleMessage(ctx context.Context, msg *structpb.Struct) *structpb.Struct {
	switch MessageType(msg) {
	case TypeDrop:
		x, y, err := GetDrop(msg)
		if err != nil {
			return NewErrorMessage(fmt.Sprintf("Invalid drop command: %v", err))
		}
		if err := s.handler.HandleDrop(ctx, x, y); err != nil {
			return NewErrorMessage(err.Error())
		}
		return s.statusResponse()

	case TypeStatus:
		return s.statusResponse()

	default:
		return NewErrorMessage(fmt.Sprintf("Unknown message type: %q", MessageType(msg)))
	}
}

func (s *SocketServer) statusResponse() *structpb.Struct {
	status, err := s.handler.HandleStatus()
	if err != nil {
		return NewErrorMessage(err.Error())
	}
	resp, err := NewStatusResponseMessage(status)
	if err != nil {
		return NewErrorMessage(fmt.Sprintf("Failed to encode status: %v", err))
	}
	return resp
}
