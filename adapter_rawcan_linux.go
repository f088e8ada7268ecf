package bafangcan

import (
	"context"
	"fmt"

	"github.com/brutella/can"
)

func init() {
	for _, dev := range FindDevices() {
		if err := RegisterAdapter(&AdapterInfo{
			Name:               "RawCAN " + dev,
			Description:        "Linux SocketCAN raw socket on an interface that is already up",
			RequiresSerialPort: false,
			New:                NewRawCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

const (
	rawMaskEff = 0x1FFFFFFF
	rawMaskSff = 0x7FF
)

// RawCAN leaves link configuration to the system (ip link set can0 up type can bitrate 250000)
// and only opens a raw socket.
type RawCAN struct {
	*BaseAdapter
	bus *can.Bus
}

func NewRawCANFromDevName(dev string) func(cfg *AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		cfg.Port = dev
		return NewRawCAN(cfg)
	}
}

func NewRawCAN(cfg *AdapterConfig) (Adapter, error) {
	return &RawCAN{
		BaseAdapter: NewBaseAdapter("RawCAN", cfg),
	}, nil
}

func (a *RawCAN) Open(ctx context.Context) error {
	bus, err := can.NewBusForInterfaceWithName(a.cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.cfg.Port, err)
	}
	a.bus = bus
	bus.SubscribeFunc(a.handle)

	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			select {
			case <-a.closeChan:
			default:
				a.Fatal(fmt.Errorf("can bus publish: %w", err))
			}
		}
	}()
	go a.sendManager(ctx)
	return nil
}

func (a *RawCAN) handle(f can.Frame) {
	length := f.Length
	if length > maxDLC {
		a.Warn(fmt.Sprintf("dropping frame 0x%X with length %d", f.ID, length))
		return
	}
	data := make([]byte, length)
	copy(data, f.Data[:length])
	frame := NewFrame(f.ID&rawMaskSff, data, Incoming)
	if f.ID&EFFFlag != 0 {
		frame.Identifier = f.ID & rawMaskEff
		frame.Extended = true
	}
	a.deliver(frame)
}

func (a *RawCAN) Close() error {
	a.BaseAdapter.Close()
	if a.bus != nil {
		return a.bus.Disconnect()
	}
	return nil
}

func (a *RawCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			var data [8]uint8
			copy(data[:], f.Data)
			frame := can.Frame{
				ID:     f.RawID(),
				Length: uint8(f.Length()),
				Data:   data,
			}
			if err := a.bus.Publish(frame); err != nil {
				a.Error(fmt.Errorf("send error: %w", err))
			}
		}
	}
}
