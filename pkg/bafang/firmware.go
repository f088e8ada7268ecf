package bafang

import (
	"fmt"
	"os"
)

const (
	// HeaderSize leading bytes of an image are metadata and never flashed.
	HeaderSize = 16
	// ChunkSize is the payload carried by one data frame.
	ChunkSize = 8
	// MaxPayload is what the 3 byte length announcement can express.
	MaxPayload = 1<<24 - 1
)

// Image is a loaded firmware file. It is read-only after construction.
type Image struct {
	data []byte
}

func NewImage(b []byte) (*Image, error) {
	payload := len(b) - HeaderSize
	if payload > MaxPayload {
		return nil, fmt.Errorf("%w: payload is %d bytes, max is %d", ErrOversizedFirmware, payload, MaxPayload)
	}
	data := make([]byte, len(b))
	copy(data, b)
	return &Image{data: data}, nil
}

func LoadImage(filename string) (*Image, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware file: %w", err)
	}
	return NewImage(data)
}

// Size is the length of the whole file.
func (img *Image) Size() int {
	return len(img.data)
}

func (img *Image) PayloadSize() int {
	if n := len(img.data) - HeaderSize; n > 0 {
		return n
	}
	return 0
}

func (img *Image) Chunks() int {
	return (img.PayloadSize() + ChunkSize - 1) / ChunkSize
}

// Chunk returns chunk n of the payload, the last one may be short.
func (img *Image) Chunk(n int) []byte {
	start := HeaderSize + n*ChunkSize
	if n < 0 || start >= len(img.data) {
		return nil
	}
	end := start + ChunkSize
	if end > len(img.data) {
		end = len(img.data)
	}
	return img.data[start:end]
}

func (img *Image) Header() []byte {
	if len(img.data) < HeaderSize {
		return img.data
	}
	return img.data[:HeaderSize]
}

// LengthPayload is the payload size as 3 big endian bytes.
func (img *Image) LengthPayload() []byte {
	n := img.PayloadSize()
	return []byte{byte(n >> 16), byte(n >> 8), byte(n)}
}

// HandshakePayload is header bytes 0, 1 and 3 with the device marker in place of byte 2.
func (img *Image) HandshakePayload(marker byte) []byte {
	at := func(i int) byte {
		if i < len(img.data) {
			return img.data[i]
		}
		return 0
	}
	return []byte{at(0), at(1), marker, at(3)}
}
