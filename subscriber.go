package bafangcan

import (
	"context"
	"fmt"
	"sync"
)

type Subscriber struct {
	createdAt    string
	cl           *Client
	identifiers  map[uint32]struct{}
	filterCount  int
	responseChan chan *CANFrame
	done         chan struct{}
	closeOnce    sync.Once
}

// Close unregisters the subscriber, Chan() is closed once it returns.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cl.fh.unregisterSubscriber(s)
	})
}

func (s *Subscriber) Chan() <-chan *CANFrame {
	return s.responseChan
}

// Wait returns the next frame delivered to the subscriber.
func (s *Subscriber) Wait(ctx context.Context) (*CANFrame, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout: %w", ctx.Err())
	case frame, ok := <-s.responseChan:
		if !ok {
			return nil, ErrResponsechannelClosed
		}
		return frame, nil
	}
}
