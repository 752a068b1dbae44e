// Package ipc is the local control channel between the CLI and a running
// stream process: length-prefixed protobuf Struct messages over a Unix
// socket.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message types carried in the "type" field.
const (
	TypeDrop           = "drop"
	TypeStatus         = "status"
	TypeStatusResponse = "status_response"
	TypeError          = "error"
)

// maxMessageSize guards against garbage length prefixes.
const maxMessageSize = 1 << 20

// ErrUnexpectedMessage is returned when a message has the wrong type or
// lacks a required field.
var ErrUnexpectedMessage = errors.New("unexpected IPC message")

// Status is the stream process state reported to `xrelay status`.
type Status struct {
	Listen     string
	Master     string
	Dropping   bool
	PointerX   int
	PointerY   int
	Received   uint64
	Malformed  uint64
	Moves      uint64
	Clicks     uint64
	Scrolls    uint64
	Keys       uint64
	Discarded  uint64
	ClosedRace uint64
	Macros     uint64
}

// NewDropMessage asks the stream process to drop at stream-relative (x, y).
func NewDropMessage(x, y int) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type": TypeDrop,
		"x":    x,
		"y":    y,
	})
}

// NewStatusMessage creates a status query.
func NewStatusMessage() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"type": TypeStatus})
}

// NewStatusResponseMessage wraps s for the wire.
func NewStatusResponseMessage(s Status) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type":        TypeStatusResponse,
		"listen":      s.Listen,
		"master":      s.Master,
		"dropping":    s.Dropping,
		"pointer_x":   s.PointerX,
		"pointer_y":   s.PointerY,
		"received":    s.Received,
		"malformed":   s.Malformed,
		"moves":       s.Moves,
		"clicks":      s.Clicks,
		"scrolls":     s.Scrolls,
		"keys":        s.Keys,
		"discarded":   s.Discarded,
		"closed_race": s.ClosedRace,
		"macros":      s.Macros,
	})
}

// NewErrorMessage creates an error response.
func NewErrorMessage(errMsg string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":  structpb.NewStringValue(TypeError),
		"error": structpb.NewStringValue(errMsg),
	}}
}

// MessageType returns the "type" field of msg, or "" when absent.
func MessageType(msg *structpb.Struct) string {
	return msg.GetFields()["type"].GetStringValue()
}

// GetDrop extracts the drop point from a drop message.
func GetDrop(msg *structpb.Struct) (x, y int, err error) {
	if MessageType(msg) != TypeDrop {
		return 0, 0, fmt.Errorf("%w: %q is not a drop command", ErrUnexpectedMessage, MessageType(msg))
	}
	fields := msg.GetFields()
	xv, okX := fields["x"].GetKind().(*structpb.Value_NumberValue)
	yv, okY := fields["y"].GetKind().(*structpb.Value_NumberValue)
	if !okX || !okY {
		return 0, 0, fmt.Errorf("%w: drop command needs numeric x and y", ErrUnexpectedMessage)
	}
	return int(xv.NumberValue), int(yv.NumberValue), nil
}

// GetStatusResponse extracts the Status from a status response.
func GetStatusResponse(msg *structpb.Struct) (Status, error) {
	if MessageType(msg) != TypeStatusResponse {
		return Status{}, fmt.Errorf("%w: %q is not a status response", ErrUnexpectedMessage, MessageType(msg))
	}
	f := msg.GetFields()
	count := func(key string) uint64 { return uint64(f[key].GetNumberValue()) }
	return Status{
		Listen:     f["listen"].GetStringValue(),
		Master:     f["master"].GetStringValue(),
		Dropping:   f["dropping"].GetBoolValue(),
		PointerX:   int(f["pointer_x"].GetNumberValue()),
		PointerY:   int(f["pointer_y"].GetNumberValue()),
		Received:   count("received"),
		Malformed:  count("malformed"),
		Moves:      count("moves"),
		Clicks:     count("clicks"),
		Scrolls:    count("scrolls"),
		Keys:       count("keys"),
		Discarded:  count("discarded"),
		ClosedRace: count("closed_race"),
		Macros:     count("macros"),
	}, nil
}

// GetError extracts the message of an error response.
func GetError(msg *structpb.Struct) (string, error) {
	if MessageType(msg) != TypeError {
		return "", fmt.Errorf("%w: %q is not an error response", ErrUnexpectedMessage, MessageType(msg))
	}
	return msg.GetFields()["error"].GetStringValue(), nil
}

// readMessage reads one length-prefixed message.
func readMessage(r io.Reader) (*structpb.Struct, error) {
	// 4-byte big endian length, then the marshalled Struct
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read message data: %w", err)
	}

	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return msg, nil
}

// writeMessage writes one length-prefixed message.
func writeMessage(w io.Writer, msg *structpb.Struct) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	length := uint32(len(data)) //nolint:gosec // bounded by maxMessageSize on the read side
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message data: %w", err)
	}
	return nil
}
