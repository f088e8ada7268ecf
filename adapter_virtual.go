package bafangcan

import (
	"context"
	"sync"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Virtual",
		Description:        "In-process loopback bus",
		RequiresSerialPort: false,
		New:                NewVirtual,
	}); err != nil {
		panic(err)
	}
}

// Responder answers a frame written to a virtual bus with the frames a device would put back.
type Responder func(sent *CANFrame) []*CANFrame

// Virtual is an in-process bus. Sent frames are recorded and handed to the responder,
// whatever it returns is received as incoming traffic.
type Virtual struct {
	*BaseAdapter
	responder Responder

	mu   sync.Mutex
	sent []*CANFrame
}

func NewVirtual(cfg *AdapterConfig) (Adapter, error) {
	return NewVirtualBus(cfg, nil), nil
}

func NewVirtualBus(cfg *AdapterConfig, responder Responder) *Virtual {
	return &Virtual{
		BaseAdapter: NewBaseAdapter("Virtual", cfg),
		responder:   responder,
	}
}

func (v *Virtual) Open(ctx context.Context) error {
	go v.sendManager(ctx)
	return nil
}

func (v *Virtual) Close() error {
	v.BaseAdapter.Close()
	return nil
}

// Inject puts a frame on the bus as if another node had sent it.
func (v *Virtual) Inject(frame *CANFrame) {
	v.deliver(frame)
}

// Sent returns a copy of every frame written so far.
func (v *Virtual) Sent() []*CANFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*CANFrame, len(v.sent))
	copy(out, v.sent)
	return out
}

func (v *Virtual) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case frame := <-v.sendChan:
			v.mu.Lock()
			v.sent = append(v.sent, frame)
			v.mu.Unlock()
			if v.cfg.Debug {
				v.Debug(frame.ColorString())
			}
			if v.responder == nil {
				continue
			}
			for _, resp := range v.responder(frame) {
				resp.FrameType = Incoming
				v.deliver(resp)
			}
		}
	}
}
