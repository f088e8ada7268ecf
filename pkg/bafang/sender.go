package bafang

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
)

// FrameSender is the part of the client the sender needs, *bafangcan.Client satisfies it.
type FrameSender interface {
	SendFrame(identifier uint32, data []byte, extended bool) error
}

// Sender writes protocol frames with a bounded number of link level retries.
// A frame that still fails is logged and dropped, the protocol level wait of the
// calling phase decides whether the session can go on.
type Sender struct {
	tx      FrameSender
	profile func() *Profile
	delay   time.Duration
	logf    func(EventType, string, ...interface{})
}

func NewSender(tx FrameSender, profile func() *Profile, retryDelay time.Duration) *Sender {
	return &Sender{
		tx:      tx,
		profile: profile,
		delay:   retryDelay,
		logf:    func(EventType, string, ...interface{}) {},
	}
}

// Send builds <prefix><body>#<payloadHex> and writes it, trying at most attempts times.
// Only a cancelled ctx is reported back.
func (s *Sender) Send(ctx context.Context, body, payloadHex string, attempts uint) error {
	id := BuildOutgoingID(s.profile(), body)
	identifier, extended, err := ParseIdentifier(id)
	if err != nil {
		panic(fmt.Sprintf("bad outgoing identifier: %v", err))
	}
	data, err := DecodePayload(payloadHex)
	if err != nil {
		panic(fmt.Sprintf("bad outgoing payload %q: %v", payloadHex, err))
	}
	if attempts == 0 {
		attempts = 1
	}

	err = retry.Do(
		func() error {
			return s.tx.SendFrame(identifier, data, extended)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logf(EventTypeWarning, "sendFrame failed for ID%s (attempt %d/%d): %v", id, n+1, attempts, err)
		}),
	)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		s.logf(EventTypeError, "%v", fmt.Errorf("%w: %s#%s: %v", ErrLinkSend, id, payloadHex, err))
		return nil
	}
	s.logf(EventTypeDebug, "SENT ID:%s#%s", id, payloadHex)
	return nil
}
