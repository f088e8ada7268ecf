package bafangcan

import "errors"

var (
	ErrNillAdapter           = errors.New("adapter is nil")
	ErrDroppedFrame          = errors.New("adapter incoming channel full")
	ErrSendTimeout           = errors.New("timeout sending frame")
	ErrResponsechannelClosed = errors.New("response channel closed")
	ErrClientClosed          = errors.New("client closed")
	ErrInvalidFrame          = errors.New("invalid frame")
)
