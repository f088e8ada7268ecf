package bafangcan

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	for _, dev := range FindDevices() {
		if err := RegisterAdapter(&AdapterInfo{
			Name:               "SocketCAN " + dev,
			Description:        "Linux SocketCAN, configures bitrate and brings the link up",
			RequiresSerialPort: false,
			New:                NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	*BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCANFromDevName(dev string) func(cfg *AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	d, err := candevice.New(a.cfg.Port)
	if err != nil {
		return err
	}
	a.d = d
	if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
		return fmt.Errorf("failed to set bitrate: %w", err)
	}
	if err := d.SetUp(); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", a.cfg.Port, err)
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return err
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager()
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	if a.conn != nil {
		a.conn.Close()
	}
	if a.d != nil {
		return a.d.SetDown()
	}
	return nil
}

func (a *SocketCAN) recvManager() {
	for a.rx.Receive() {
		if a.rx.HasErrorFrame() {
			a.Warn(fmt.Sprintf("error frame: %v", a.rx.ErrorFrame()))
			continue
		}
		f := a.rx.Frame()
		data := make([]byte, f.Length)
		copy(data, f.Data[:f.Length])
		frame := NewFrame(f.ID, data, Incoming)
		frame.Extended = f.IsExtended
		a.deliver(frame)
	}
	select {
	case <-a.closeChan:
	default:
		a.Fatal(fmt.Errorf("socketcan receive: %v", a.rx.Err()))
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			frame := can.Frame{
				ID:         f.Identifier,
				Length:     uint8(f.Length()),
				IsExtended: f.Extended,
			}
			copy(frame.Data[:], f.Data)
			if err := a.tx.TransmitFrame(ctx, frame); err != nil {
				a.Error(fmt.Errorf("send error: %w", err))
			}
		}
	}
}

func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
