package client

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound = errors.New("e4: device not found")
	ErrTimeout        = errors.New("e4: receive timeout")
	ErrConnectionLost = errors.New("e4: connection lost")
	ErrInvalidState   = errors.New("e4: invalid session state")
)

// AckMismatchError reports a server reply that differs from the expected acknowledgement.
// Code is the subscription involved, if any.
type AckMismatchError struct {
	Command  string
	Code     string
	Expected string
	Observed string
}

func (e *AckMismatchError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("e4: %s %s: expected ack %q, got %q", e.Command, e.Code, e.Expected, e.Observed)
	}
	return fmt.Sprintf("e4: %s: expected ack %q, got %q", e.Command, e.Expected, e.Observed)
}

// ConnectionLostError reports that the server announced the device disconnected,
// or that the link failed in the middle of a command exchange.
type ConnectionLostError struct {
	DeviceID string
	Err      error
}

func (e *ConnectionLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("e4: connection lost to device %s: %v", e.DeviceID, e.Err)
	}
	return fmt.Sprintf("e4: connection lost to device %s", e.DeviceID)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

func (e *ConnectionLostError) Is(target error) bool { return target == ErrConnectionLost }

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("e4: %s not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }
