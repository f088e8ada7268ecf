package bafang

import (
	"strings"
	"sync"

	"github.com/roffe/bafangcan"
)

// Controller emulates the bootloader of a controller so transfers can be run without hardware.
// Plug Respond into a virtual bus.
type Controller struct {
	profile *Profile

	// DropAck, when set, suppresses the ack for that chunk index.
	DropAck func(index int) bool
	// Silent stops the controller from answering anything.
	Silent bool

	mu       sync.Mutex
	chunks   map[int][]byte
	length   int
	upgraded bool
}

func NewController(variant Variant) (*Controller, error) {
	p, err := ProfileFor(variant)
	if err != nil {
		return nil, err
	}
	return &Controller{
		profile: p,
		chunks:  make(map[int][]byte),
	}, nil
}

// Firmware returns the payload received so far, in chunk order.
func (c *Controller) Firmware() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for i := 0; i < len(c.chunks); i++ {
		chunk, ok := c.chunks[i]
		if !ok {
			break
		}
		out = append(out, chunk...)
	}
	return out
}

// AnnouncedLength is the payload length from the last length announcement.
func (c *Controller) AnnouncedLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// Upgraded reports whether the upgrade end broadcast was received.
func (c *Controller) Upgraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upgraded
}

// Respond implements bafangcan.Responder.
func (c *Controller) Respond(sent *bafangcan.CANFrame) []*bafangcan.CANFrame {
	if c.Silent || !sent.Valid() || !sent.Extended {
		return nil
	}
	p := c.profile
	id := FormatIdentifier(sent)
	if !strings.HasPrefix(id, p.ChannelPrefix) {
		return nil
	}
	body := id[len(p.ChannelPrefix):]

	switch body {
	case p.ReadyRequestID:
		return c.reply(p.ReadyAckID, nil)
	case p.PreludeID:
		return c.reply(p.PreludeAckID, nil)
	case p.FirstPackageID:
		if len(sent.Data) == 3 {
			c.mu.Lock()
			c.length = int(sent.Data[0])<<16 | int(sent.Data[1])<<8 | int(sent.Data[2])
			c.mu.Unlock()
		}
		return c.reply(p.FirstPackageAckID, nil)
	case hostReadyID:
		if len(sent.Data) == 1 && sent.Data[0] == 0x01 {
			c.mu.Lock()
			c.upgraded = true
			c.mu.Unlock()
		}
		return nil
	}

	if !strings.HasPrefix(body, commandHead) || len(body) != 7 {
		return nil
	}
	marker := body[2:3]
	if marker != p.ChunkFirst && marker != p.ChunkMiddle && marker != p.ChunkLast {
		return nil
	}
	index, err := DecodeChunkIndex(body[3:])
	if err != nil {
		return nil
	}
	data := make([]byte, len(sent.Data))
	copy(data, sent.Data)
	c.mu.Lock()
	c.chunks[index] = data
	c.mu.Unlock()

	if c.DropAck != nil && c.DropAck(index) {
		return nil
	}
	switch {
	case marker == p.ChunkLast:
		return c.reply(p.AckFragment(index), nil)
	case p.NewFamily && marker == p.ChunkMiddle && index == 1:
		return c.reply(p.AckFragment(2), nil)
	case marker == p.ChunkMiddle && index >= p.BulkStart() && p.RequiresAck(index):
		return c.reply(p.AckFragment(index), nil)
	}
	return nil
}

func (c *Controller) reply(body string, data []byte) []*bafangcan.CANFrame {
	if body == "" {
		return nil
	}
	id, ext, err := ParseIdentifier(c.profile.ChannelPrefix + body)
	if err != nil {
		return nil
	}
	if data == nil {
		data = []byte{}
	}
	if ext {
		return []*bafangcan.CANFrame{bafangcan.NewExtendedFrame(id, data, bafangcan.Incoming)}
	}
	return []*bafangcan.CANFrame{bafangcan.NewFrame(id, data, bafangcan.Incoming)}
}
