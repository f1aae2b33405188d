// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTooLarge reports a declared length over the configured maximum.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")
	// ErrMalformedFrame reports a frame whose optional fields do not fit.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrUnknownRegistry reports a registry id the container does not know.
	ErrUnknownRegistry = errors.New("protocol: unknown registry")
	// ErrUnknownPacketType reports a type id or packet type with no holder.
	ErrUnknownPacketType = errors.New("protocol: unknown packet type")
	// ErrInvalidHolder reports a holder without type or constructor.
	ErrInvalidHolder = errors.New("protocol: invalid packet holder")
)

// ProtocolError describes a violation that makes the frame boundary
// untrustworthy. The connection that produced it should be closed.
type ProtocolError struct {
	Op         string // "encode" or "decode"
	TypeID     int32
	RegistryID int32
	Length     int
	Err        error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: type %d registry %d length %d: %v", e.Op, e.TypeID, e.RegistryID, e.Length, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Reason returns a short label suitable for metrics.
func (e *ProtocolError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(e.Err, ErrUnknownRegistry):
		return "unknown_registry"
	case errors.Is(e.Err, ErrUnknownPacketType):
		return "unknown_type"
	default:
		return "malformed"
	}
}
