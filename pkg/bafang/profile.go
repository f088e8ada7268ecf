// Package bafang implements the firmware upgrade protocol spoken by Bafang drive units and
// displays over CAN.
//
// Every upgrade follows the same phases: the host announces itself, the controller is asked
// whether it is ready, the payload length is announced, the payload is streamed in 8 byte
// chunks and the controller confirms the last one. Controller generations differ only in
// identifiers, ack windows and a few extra handshake frames, which is what a Profile holds.
package bafang

import (
	"fmt"
	"strings"
)

type Variant int

const (
	NewMotor Variant = iota
	OldMotor
	HMI
	DPC18
)

func (v Variant) String() string {
	switch v {
	case NewMotor:
		return "NEW_MOTOR"
	case OldMotor:
		return "OLD_MOTOR"
	case HMI:
		return "HMI"
	case DPC18:
		return "DPC18"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Variants lists every supported controller generation.
func Variants() []Variant {
	return []Variant{NewMotor, OldMotor, HMI, DPC18}
}

// ParseVariant accepts the names used on the command line, e.g. "new-motor", "OLD_MOTOR" or "dpc18".
func ParseVariant(s string) (Variant, error) {
	n := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	for _, v := range Variants() {
		if v.String() == n {
			return v, nil
		}
	}
	switch n {
	case "MOTOR", "NEW":
		return NewMotor, nil
	case "OLD":
		return OldMotor, nil
	case "DISPLAY":
		return HMI, nil
	}
	return 0, fmt.Errorf("unknown variant %q", s)
}

const (
	// commandHead starts the body of every frame the host sends to the upgraded device.
	commandHead = "51"
	// hostReadyID doubles as the upgrade end broadcast with payload 01.
	hostReadyID = "5FF3005"
	resetID     = "5F83501"
)

// Profile is the parameter set of one controller generation. Profiles are never modified,
// a session swaps the whole profile when it falls back to another generation.
type Profile struct {
	Variant Variant

	// ChannelPrefix is the leading hex digit of every outgoing identifier.
	ChannelPrefix string

	ReadyRequestID    string
	ReadyAckID        string
	FirstPackageID    string
	FirstPackageAckID string

	// PreludeID is sent with an empty payload before the length announcement, empty when unused.
	PreludeID    string
	PreludeAckID string

	ChunkFirst  string
	ChunkMiddle string
	ChunkLast   string

	// AckDevice identifies the answering device in <AckDevice>2A<index> acks.
	AckDevice string
	// DeviceMarker replaces byte 2 of the image header in the ready request.
	DeviceMarker byte

	// AckWindow of 0 means every chunk waits for its own ack.
	AckWindow      int
	AckWindowStart int

	// NewFamily devices take the prelude and first chunk phases and a short finalize.
	NewFamily bool

	fallback    Variant
	hasFallback bool
}

var profiles = map[Variant]Profile{
	NewMotor: {
		Variant:           NewMotor,
		ChannelPrefix:     "8",
		ReadyRequestID:    "5114000",
		ReadyAckID:        "22A4000",
		FirstPackageID:    "5104001",
		FirstPackageAckID: "22A4001",
		PreludeID:         "5116008",
		PreludeAckID:      "22A6008",
		ChunkFirst:        "4",
		ChunkMiddle:       "5",
		ChunkLast:         "6",
		AckDevice:         "2",
		DeviceMarker:      0x02,
		AckWindow:         256,
		AckWindowStart:    2,
		NewFamily:         true,
		fallback:          OldMotor,
		hasFallback:       true,
	},
	OldMotor: {
		Variant:           OldMotor,
		ChannelPrefix:     "8",
		ReadyRequestID:    "5112000",
		ReadyAckID:        "22A2000",
		FirstPackageID:    "5142001",
		FirstPackageAckID: "22A2001",
		ChunkFirst:        "5",
		ChunkMiddle:       "5",
		ChunkLast:         "6",
		AckDevice:         "2",
		DeviceMarker:      0x02,
	},
	HMI: {
		Variant:           HMI,
		ChannelPrefix:     "8",
		ReadyRequestID:    "5194000",
		ReadyAckID:        "32A4000",
		FirstPackageID:    "5184001",
		FirstPackageAckID: "32A4001",
		PreludeID:         "5196008",
		PreludeAckID:      "32A6008",
		ChunkFirst:        "C",
		ChunkMiddle:       "D",
		ChunkLast:         "E",
		AckDevice:         "3",
		DeviceMarker:      0x03,
		AckWindow:         256,
		AckWindowStart:    2,
		NewFamily:         true,
	},
	DPC18: {
		Variant:           DPC18,
		ChannelPrefix:     "8",
		ReadyRequestID:    "5194000",
		ReadyAckID:        "32A4000",
		FirstPackageID:    "5184001",
		FirstPackageAckID: "32A4001",
		PreludeID:         "5196008",
		PreludeAckID:      "32A6008",
		ChunkFirst:        "C",
		ChunkMiddle:       "D",
		ChunkLast:         "E",
		AckDevice:         "3",
		DeviceMarker:      0x03,
		AckWindow:         4096,
		AckWindowStart:    2,
		NewFamily:         true,
	},
}

// ProfileFor returns a private copy of the profile for v.
func ProfileFor(v Variant) (*Profile, error) {
	p, ok := profiles[v]
	if !ok {
		return nil, fmt.Errorf("no profile for %s", v)
	}
	return &p, nil
}

// Fallback returns the profile to retry the handshake with when the controller stays silent.
func (p *Profile) Fallback() (*Profile, bool) {
	if !p.hasFallback {
		return nil, false
	}
	fb, err := ProfileFor(p.fallback)
	if err != nil {
		return nil, false
	}
	return fb, true
}

// ChunkBody is the 7 digit command body for a chunk frame.
func (p *Profile) ChunkBody(marker string, index int) string {
	return commandHead + marker + EncodeChunkIndex(index)
}

// AckFragment is what an ack for chunk index looks like inside an inbound identifier.
func (p *Profile) AckFragment(index int) string {
	return p.AckDevice + "2A" + EncodeChunkIndex(index)
}

// BulkStart is the first chunk sent in the bulk phase.
func (p *Profile) BulkStart() int {
	if p.NewFamily {
		return 2
	}
	return 0
}

// MinChunks is the smallest payload, in chunks, the phase sequence can carry.
func (p *Profile) MinChunks() int {
	if p.NewFamily {
		return 3
	}
	return 1
}

// RequiresAck reports whether the engine has to wait for an ack after sending chunk i.
func (p *Profile) RequiresAck(i int) bool {
	if p.AckWindow <= 0 {
		return true
	}
	return (i-p.AckWindowStart)%p.AckWindow == 0 && i != p.AckWindowStart
}

// loopbackPrefix matches the host's own chunk frames echoed back by some adapters.
func (p *Profile) loopbackPrefix() string {
	return p.ChannelPrefix + commandHead + p.ChunkMiddle
}

// resendPrefix starts a retransmission request for a single chunk.
func (p *Profile) resendPrefix() string {
	return p.ChannelPrefix + p.AckDevice + "2B"
}
