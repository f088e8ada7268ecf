package bafangcan

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Client owns an opened adapter and fans incoming frames out to subscribers.
// A client serves one flashing session at a time.
type Client struct {
	adapter Adapter
	fh      *handler
	cancel  context.CancelFunc

	sendTimeout time.Duration
	onEvent     func(Event)

	closeOnce sync.Once
	closed    atomic.Bool
	fatal     atomic.Value
}

type ClientOpt func(*Client)

// OptSendTimeout bounds how long Send waits for room in the adapter send queue.
func OptSendTimeout(timeout time.Duration) ClientOpt {
	return func(c *Client) {
		if timeout > 0 {
			c.sendTimeout = timeout
		}
	}
}

// OptOnEvent receives adapter events, the default prints them with the standard logger.
func OptOnEvent(fn func(Event)) ClientOpt {
	return func(c *Client) {
		if fn != nil {
			c.onEvent = fn
		}
	}
}

// New opens the adapter and starts delivering frames.
func New(ctx context.Context, adapter Adapter, opts ...ClientOpt) (*Client, error) {
	if adapter == nil {
		return nil, ErrNillAdapter
	}
	c := &Client{
		adapter:     adapter,
		fh:          newHandler(adapter),
		sendTimeout: 500 * time.Millisecond,
		onEvent: func(e Event) {
			log.Println(e.String())
		},
	}
	for _, o := range opts {
		o(c)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	if err := adapter.Open(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open %s: %w", adapter.Name(), err)
	}
	go c.fh.run(ctx)
	go c.watch(ctx)
	return c, nil
}

func (c *Client) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.adapter.Err():
			if err == nil {
				return
			}
			c.fatal.Store(err)
			c.onEvent(Event{Type: EventTypeError, Details: err.Error()})
			return
		case e := <-c.adapter.Event():
			c.onEvent(e)
		}
	}
}

// Adapter returns the underlying adapter.
func (c *Client) Adapter() Adapter {
	return c.adapter
}

// Connected reports whether frames can still be sent through the client.
func (c *Client) Connected() bool {
	return !c.closed.Load() && c.fatal.Load() == nil
}

// Err returns the fatal adapter error, if any.
func (c *Client) Err() error {
	if err, ok := c.fatal.Load().(error); ok {
		return err
	}
	return nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.fh.Close()
		c.cancel()
		err = c.adapter.Close()
	})
	return err
}

// Send a CAN Frame
func (c *Client) Send(frame *CANFrame) error {
	if !c.Connected() {
		if err := c.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrClientClosed, err)
		}
		return ErrClientClosed
	}
	if !frame.Valid() {
		return ErrInvalidFrame
	}
	t := time.NewTimer(c.sendTimeout)
	defer t.Stop()
	select {
	case c.adapter.Send() <- frame:
		return nil
	case <-t.C:
		return ErrSendTimeout
	}
}

// SendFrame copies data into a new frame and sends it, extended selects a 29 bit identifier.
func (c *Client) SendFrame(identifier uint32, data []byte, extended bool) error {
	var b = make([]byte, len(data))
	copy(b, data)
	if extended {
		return c.Send(NewExtendedFrame(identifier, b, Outgoing))
	}
	return c.Send(NewFrame(identifier, b, Outgoing))
}

// Subscribe returns a subscriber receiving frames with the given identifiers,
// or every frame when none are given. It is closed when ctx is done.
func (c *Client) Subscribe(ctx context.Context, identifiers ...uint32) *Subscriber {
	sub := &Subscriber{
		cl:           c,
		identifiers:  make(map[uint32]struct{}, len(identifiers)),
		filterCount:  len(identifiers),
		responseChan: make(chan *CANFrame, 1024),
		done:         make(chan struct{}),
	}
	if _, file, no, ok := runtime.Caller(1); ok {
		sub.createdAt = fmt.Sprintf("%s:%d", file, no)
	}
	for _, id := range identifiers {
		sub.identifiers[id] = struct{}{}
	}
	c.fh.registerSubscriber(sub)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}
