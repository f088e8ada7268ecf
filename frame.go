package bafangcan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
)

// EFFFlag marks an extended (29-bit) identifier the way SocketCAN does in can_id.
const EFFFlag = 0x80000000

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
	maxDLC   = 8
)

type CANFrameType struct {
	Type      int
	Responses int
}

var (
	Incoming = CANFrameType{Type: 0, Responses: 0}
	Outgoing = CANFrameType{Type: 1, Responses: 0}
)

type CANFrame struct {
	Identifier uint32
	Extended   bool
	Data       []byte
	FrameType  CANFrameType
	Timestamp  time.Time
}

func NewExtendedFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	return &CANFrame{
		Identifier: identifier,
		Data:       data,
		FrameType:  frameType,
		Extended:   true,
	}
}

func NewFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	return &CANFrame{
		Identifier: identifier,
		Data:       data,
		FrameType:  frameType,
	}
}

func (f *CANFrame) Length() int {
	return len(f.Data)
}

// Valid reports whether the frame is a decodable classic CAN frame.
func (f *CANFrame) Valid() bool {
	if f == nil || len(f.Data) > maxDLC {
		return false
	}
	if f.Extended {
		return f.Identifier <= maxExtID
	}
	return f.Identifier <= maxStdID
}

// RawID returns the identifier as seen on a SocketCAN can_id, with EFFFlag set for extended frames.
func (f *CANFrame) RawID() uint32 {
	if f.Extended {
		return f.Identifier | EFFFlag
	}
	return f.Identifier
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) idString() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.RawID())
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f *CANFrame) direction() string {
	switch f.FrameType.Type {
	case 0:
		return "<i> || "
	case 1:
		return "<o> || "
	}
	return "<?> || "
}

func hexView(data []byte) string {
	var out strings.Builder
	for i, b := range data {
		out.WriteString(fmt.Sprintf("%02X", b))
		if i != len(data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}

func binView(data []byte) string {
	var out strings.Builder
	for i, b := range data {
		out.WriteString(fmt.Sprintf("%08b", b))
		if i != len(data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(f.idString() + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", hexView(f.Data)))
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("%-71s", binView(f.Data)))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(green(f.idString()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", hexView(f.Data)))
	out.WriteString(" || ")
	out.WriteString(red(fmt.Sprintf("%-71s", binView(f.Data))))
	out.WriteString(" || ")
	out.WriteString(yellow(onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
