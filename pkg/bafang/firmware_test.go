package bafang

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testImage(payload int) []byte {
	b := make([]byte, HeaderSize+payload)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestImageChunks(t *testing.T) {
	tests := []struct {
		size, chunks int
	}{
		{0, 0},
		{10, 0},
		{16, 0},
		{17, 1},
		{24, 1},
		{25, 2},
		{32, 2},
		{16 + 8*600, 600},
		{16 + 8*600 + 3, 601},
	}
	for _, tt := range tests {
		img, err := NewImage(make([]byte, tt.size))
		if err != nil {
			t.Fatalf("NewImage(%d) error = %v", tt.size, err)
		}
		if got := img.Chunks(); got != tt.chunks {
			t.Errorf("Chunks() for %d bytes = %d, want %d", tt.size, got, tt.chunks)
		}
		total := 0
		for i := 0; i < img.Chunks(); i++ {
			total += len(img.Chunk(i))
		}
		if total != img.PayloadSize() {
			t.Errorf("chunks of %d byte image cover %d bytes, payload is %d", tt.size, total, img.PayloadSize())
		}
	}
}

func TestImage32Bytes(t *testing.T) {
	b := testImage(16)
	img, err := NewImage(b)
	if err != nil {
		t.Fatal(err)
	}
	if img.Chunks() != 2 {
		t.Fatalf("Chunks() = %d, want 2", img.Chunks())
	}
	if got := EncodePayload(img.LengthPayload()); got != "000010" {
		t.Errorf("LengthPayload() = %s, want 000010", got)
	}
	if !bytes.Equal(img.Chunk(0), b[16:24]) || !bytes.Equal(img.Chunk(1), b[24:32]) {
		t.Errorf("Chunk() does not map to the payload")
	}
	if img.Chunk(2) != nil || img.Chunk(-1) != nil {
		t.Errorf("Chunk() out of range should be nil")
	}
	if !bytes.Equal(img.Header(), b[:16]) {
		t.Errorf("Header() = % X", img.Header())
	}
}

func TestImageShortLastChunk(t *testing.T) {
	img, err := NewImage(testImage(19))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(img.Chunk(2)); got != 3 {
		t.Errorf("len(Chunk(2)) = %d, want 3", got)
	}
}

func TestHandshakePayload(t *testing.T) {
	img, _ := NewImage([]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5})
	if got := EncodePayload(img.HandshakePayload(0x02)); got != "A1B202D4" {
		t.Errorf("HandshakePayload(02) = %s", got)
	}
	short, _ := NewImage([]byte{0xA1})
	if got := EncodePayload(short.HandshakePayload(0x03)); got != "A1000300" {
		t.Errorf("HandshakePayload(03) on short image = %s", got)
	}
}

func TestOversizedFirmware(t *testing.T) {
	if _, err := NewImage(make([]byte, HeaderSize+MaxPayload)); err != nil {
		t.Fatalf("max payload rejected: %v", err)
	}
	_, err := NewImage(make([]byte, HeaderSize+MaxPayload+1))
	if !errors.Is(err, ErrOversizedFirmware) {
		t.Fatalf("NewImage() error = %v, want ErrOversizedFirmware", err)
	}
}

func TestLoadImage(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "fw.bin")
	if err := os.WriteFile(fn, testImage(40), 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := LoadImage(fn)
	if err != nil {
		t.Fatal(err)
	}
	if img.Size() != 56 || img.Chunks() != 5 {
		t.Errorf("LoadImage() size %d chunks %d", img.Size(), img.Chunks())
	}
	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("LoadImage() on missing file expected error")
	}
}
