package bafang

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roffe/bafangcan"
)

// MaxChunkIndex is the largest index a 4 digit chunk identifier can carry.
const MaxChunkIndex = 0xFFFF

// EncodeChunkIndex formats n as 4 upper case hex digits. Callers validate chunk counts up front,
// an index outside 0..0xFFFF is a bug.
func EncodeChunkIndex(n int) string {
	if n < 0 || n > MaxChunkIndex {
		panic(fmt.Sprintf("chunk index %d out of range", n))
	}
	return fmt.Sprintf("%04X", n)
}

func DecodeChunkIndex(s string) (int, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("chunk index %q is not 4 hex digits", s)
	}
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("chunk index %q: %w", s, err)
	}
	return int(n), nil
}

// EncodePayload renders bytes as contiguous upper case hex.
func EncodePayload(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// DecodePayload accepts contiguous or space separated hex.
func DecodePayload(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
}

// BuildOutgoingID prefixes a 7 digit command body with the profile's channel digit.
func BuildOutgoingID(p *Profile, body string) string {
	return p.ChannelPrefix + body
}

// MatchesAck reports whether id contains fragment. Adapters add session and channel digits
// around the part the controller actually varies, so this is deliberately not an equality test.
func MatchesAck(id, fragment string) bool {
	if fragment == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(id), strings.ToUpper(fragment))
}

// ParseIdentifier turns an identifier in SocketCAN notation into a frame identifier.
// Bit 31 marks an extended id; ids above 0x7FF are extended as well.
func ParseIdentifier(s string) (uint32, bool, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false, fmt.Errorf("identifier %q: %w", s, err)
	}
	id := uint32(v)
	if id&bafangcan.EFFFlag != 0 {
		return id &^ bafangcan.EFFFlag, true, validExtended(s, id&^bafangcan.EFFFlag)
	}
	if id > 0x7FF {
		return id, true, validExtended(s, id)
	}
	return id, false, nil
}

func validExtended(s string, id uint32) error {
	if id > 0x1FFFFFFF {
		return fmt.Errorf("identifier %q does not fit 29 bits", s)
	}
	return nil
}

// FormatIdentifier renders the identifier of f as 8 upper case hex digits in SocketCAN notation.
func FormatIdentifier(f *bafangcan.CANFrame) string {
	return fmt.Sprintf("%08X", f.RawID())
}

// RawFrame is an inbound frame in the textual form the protocol rules work on.
type RawFrame struct {
	ID   string
	Data string
	DLC  int
	// Timestamp in microseconds since the unix epoch
	Timestamp int64
}

const invalidMarker = "INVALID"

// IsInvalid reports whether the frame is the sentinel for undecodable input.
func (r RawFrame) IsInvalid() bool {
	return r.ID == invalidMarker
}

// DecodeFrame converts a received frame, anything undecodable yields the invalid sentinel.
func DecodeFrame(f *bafangcan.CANFrame) RawFrame {
	if !f.Valid() {
		return RawFrame{ID: invalidMarker, Data: invalidMarker, Timestamp: time.Now().UnixMicro()}
	}
	parts := make([]string, len(f.Data))
	for i, b := range f.Data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return RawFrame{
		ID:        FormatIdentifier(f),
		Data:      strings.Join(parts, " "),
		DLC:       len(f.Data),
		Timestamp: ts.UnixMicro(),
	}
}
