package bafangcan

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"go.bug.st/serial"
)

type SLCan struct {
	*BaseAdapter
	port   serial.Port
	closed bool
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SLCan",
		Description:        "Canable / Lawicel compatible SLCan adapter",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *AdapterConfig) (Adapter, error) {
	sl := &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
	}
	return sl, nil
}

var slcanRates = map[float64]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	750:  "S7",
	1000: "S8",
}

func (sl *SLCan) Open(ctx context.Context) error {
	rate, ok := slcanRates[sl.cfg.CANRate]
	if !ok {
		return fmt.Errorf("unsupported CAN rate: %.3f kbit/s", sl.cfg.CANRate)
	}
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %v", sl.cfg.Port, err)
	}
	if err := p.SetReadTimeout(3 * time.Millisecond); err != nil {
		p.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	sl.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	for _, cmd := range []string{"C", rate, "O"} {
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			p.Close()
			return fmt.Errorf("failed to write %q: %w", cmd, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	go sl.sendManager(ctx)
	go sl.recvManager(ctx)
	return nil
}

func (sl *SLCan) Close() error {
	sl.BaseAdapter.Close()
	sl.closed = true
	if sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed {
				sl.Fatal(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	var outBuf = make([]byte, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.closeChan:
			return
		case frame := <-sl.sendChan:
			outBuf = encodeSLCanFrame(outBuf[:0], frame)
			if _, err := sl.port.Write(outBuf); err != nil {
				sl.Error(fmt.Errorf("failed to write to com port: %w", err))
				continue
			}
			sl.Debug(">> " + string(outBuf[:len(outBuf)-1]))
		}
	}
}

// encodeSLCanFrame appends t<iii><l><dd..>\r or T<iiiiiiii><l><dd..>\r to buf.
func encodeSLCanFrame(buf []byte, frame *CANFrame) []byte {
	if frame.Extended {
		buf = append(buf, 'T')
		id := frame.Identifier & maxExtID
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(id>>uint(shift))&0xF))
		}
	} else {
		buf = append(buf, 't')
		id := frame.Identifier & maxStdID
		buf = append(buf, nybbleToHex(byte(id>>8)&0xF), nybbleToHex(byte(id>>4)&0xF), nybbleToHex(byte(id)&0xF))
	}
	buf = append(buf, nybbleToHex(byte(frame.Length())&0xF))
	for _, b := range frame.Data {
		buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(buf, '\r')
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		if b != '\r' {
			buf = append(buf, b)
			continue
		}
		if len(buf) == 0 {
			continue
		}
		switch buf[0] {
		case 't', 'T':
			sl.Debug("<< " + string(buf))
			f, err := decodeSLCanFrame(buf)
			if err != nil {
				sl.Warn(fmt.Sprintf("%v: %q", err, buf))
			} else {
				sl.deliver(f)
			}
		case 'z', 'Z':
			// transmit ack
		default:
			sl.Debug("unknown>> " + string(buf))
		}
		buf = buf[:0]
	}
	return buf
}

func decodeSLCanFrame(buff []byte) (*CANFrame, error) {
	idLen := 3
	extended := buff[0] == 'T'
	if extended {
		idLen = 8
	}
	if len(buff) < 2+idLen {
		return nil, fmt.Errorf("short frame")
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	dataLen, err := strconv.ParseUint(string(buff[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > maxDLC {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	start := 2 + idLen
	if len(buff) < start+int(dataLen)*2 {
		return nil, fmt.Errorf("frame body too short")
	}
	data, err := hex.DecodeString(string(buff[start : start+int(dataLen)*2]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	if extended {
		return NewExtendedFrame(uint32(id), data, Incoming), nil
	}
	return NewFrame(uint32(id), data, Incoming), nil
}
