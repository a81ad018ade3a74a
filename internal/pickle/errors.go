package pickle

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrUnknownOpcode       = errors.New("unknown opcode")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrMarkNotFound        = errors.New("mark not found")
	ErrMemoMissing         = errors.New("memo key not found")
	ErrUnsupportedProtocol = errors.New("unsupported pickle protocol")
	ErrExtensionCode       = errors.New("extension registry codes are not supported")
	ErrOutOfBand           = errors.New("out-of-band buffers are not supported")
	ErrNoStop              = errors.New("stream ended without STOP")
)

// OpcodeError wraps a failure while executing one opcode.
type OpcodeError struct {
	Op  Opcode
	Pos int // Opcode index in the stream, zero based.
	Err error
}

// Error implements the error interface.
func (e *OpcodeError) Error() string {
	return fmt.Sprintf("pickle: %s (opcode #%d): %v", e.Op, e.Pos, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpcodeError) Unwrap() error {
	return e.Err
}
