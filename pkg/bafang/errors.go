package bafang

import (
	"errors"
	"fmt"
)

var (
	ErrLinkSend                = errors.New("link level send failed")
	ErrControllerNotResponding = errors.New("controller not responding")
	ErrPreludeNotAcknowledged  = errors.New("prelude not acknowledged")
	ErrLengthAckTimeout        = errors.New("length announcement not acknowledged")
	ErrFirstChunkAckTimeout    = errors.New("first chunk not acknowledged")
	ErrChunkAckTimeout         = errors.New("chunk not acknowledged")
	ErrLastChunkAckTimeout     = errors.New("last chunk not confirmed")
	ErrOversizedFirmware       = errors.New("firmware too big")
	ErrFirmwareTooSmall        = errors.New("firmware too small")
	ErrSessionActive           = errors.New("a transfer is already running on this client")
)

// errWaitTimeout is returned by waits and mapped to a phase specific error by the caller.
var errWaitTimeout = errors.New("wait timeout")

// PhaseError ties a fatal error to the phase it happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

type ChunkAckTimeoutError struct {
	Index int
}

func (e *ChunkAckTimeoutError) Error() string {
	return fmt.Sprintf("chunk %d (%s) not acknowledged", e.Index, EncodeChunkIndex(e.Index))
}

func (e *ChunkAckTimeoutError) Unwrap() error {
	return ErrChunkAckTimeout
}
