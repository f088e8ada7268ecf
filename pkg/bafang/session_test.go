package bafang

import (
	"strings"
	"testing"

	"github.com/roffe/bafangcan"
)

func newTestSession(t *testing.T, v Variant, chunks int) *Session {
	t.Helper()
	p, err := ProfileFor(v)
	if err != nil {
		t.Fatal(err)
	}
	img, err := NewImage(testImage(chunks * ChunkSize))
	if err != nil {
		t.Fatal(err)
	}
	return NewSession(p, img)
}

func inbound(t *testing.T, id string) *bafangcan.CANFrame {
	t.Helper()
	identifier, ext, err := ParseIdentifier(id)
	if err != nil {
		t.Fatal(err)
	}
	if ext {
		return bafangcan.NewExtendedFrame(identifier, []byte{}, bafangcan.Incoming)
	}
	return bafangcan.NewFrame(identifier, []byte{}, bafangcan.Incoming)
}

func TestObserveFlags(t *testing.T) {
	s := newTestSession(t, NewMotor, 600)
	s.Observe(inbound(t, "822A4000"))
	if !s.ControllerReady() {
		t.Error("ready ack not observed")
	}
	s.Observe(inbound(t, "822A6008"))
	if !s.PreludeAcked() {
		t.Error("prelude ack not observed")
	}
	s.Observe(inbound(t, "822A4001"))
	if !s.TransferStarted() {
		t.Error("first package ack not observed")
	}
	s.Observe(inbound(t, "822A0002"))
	if !s.FirstChunkAcked() {
		t.Error("first chunk ack not observed")
	}
	if s.LastChunkConfirmed() {
		t.Error("last chunk confirmed before it was sent")
	}

	// flags never go back
	s.Observe(inbound(t, "80000000"))
	if !s.ControllerReady() || !s.TransferStarted() || !s.PreludeAcked() || !s.FirstChunkAcked() {
		t.Error("a flag was cleared")
	}
}

func TestObserveChunkAck(t *testing.T) {
	s := newTestSession(t, NewMotor, 600)
	s.Observe(inbound(t, "822A0102"))
	if s.ChunkAcked(258) {
		t.Error("ack recorded while no chunk was outstanding")
	}
	s.setLastSent(258)
	s.Observe(inbound(t, "822A0104"))
	if s.ChunkAcked(258) || s.ChunkAcked(260) {
		t.Error("ack for another chunk recorded")
	}
	s.Observe(inbound(t, "822A0102"))
	if !s.ChunkAcked(258) {
		t.Error("ack for the outstanding chunk not recorded")
	}
}

func TestObserveNextChunkAck(t *testing.T) {
	s := newTestSession(t, NewMotor, 600)
	s.setLastSent(258)
	s.Observe(inbound(t, "822A0103"))
	if !s.ChunkAcked(259) {
		t.Error("ack for the next expected chunk not recorded")
	}
	if s.ChunkAcked(258) {
		t.Error("ack for 259 recorded as 258")
	}

	s = newTestSession(t, OldMotor, MaxChunkIndex+1)
	s.setLastSent(MaxChunkIndex)
	s.Observe(inbound(t, "822AFFFF"))
	if !s.ChunkAcked(MaxChunkIndex) {
		t.Error("ack for the highest chunk index not recorded")
	}
}

func TestObserveAckForResentChunk(t *testing.T) {
	s := newTestSession(t, HMI, 600)
	s.setLastSent(300)
	s.setResent(16)
	s.Observe(inbound(t, "832A0010"))
	if !s.ChunkAcked(16) {
		t.Error("ack for the re-sent chunk not recorded")
	}
	s.Observe(inbound(t, "832A012C"))
	if !s.ChunkAcked(300) {
		t.Error("re-sending a chunk hid the ack for the last chunk sent")
	}
}

func TestObserveLastChunk(t *testing.T) {
	for _, ack := range []string{"822A0257", "822A0258"} {
		s := newTestSession(t, NewMotor, 600)
		s.Observe(inbound(t, ack))
		if s.LastChunkConfirmed() {
			t.Errorf("%s confirmed the last chunk before it was sent", ack)
		}
		s.setLastSent(599)
		s.Observe(inbound(t, ack))
		if !s.LastChunkConfirmed() {
			t.Errorf("%s did not confirm the last chunk", ack)
		}
	}
}

func TestObserveHMIProfile(t *testing.T) {
	s := newTestSession(t, HMI, 600)
	s.Observe(inbound(t, "822A4000"))
	if s.ControllerReady() {
		t.Error("motor ack accepted by display session")
	}
	s.Observe(inbound(t, "832A4000"))
	if !s.ControllerReady() {
		t.Error("display ack not observed")
	}
}

func TestObserveFollowsProfileSwap(t *testing.T) {
	s := newTestSession(t, NewMotor, 600)
	fb, _ := s.Profile().Fallback()
	s.setProfile(fb)
	s.Observe(inbound(t, "822A4000"))
	if s.ControllerReady() {
		t.Error("new family ready ack accepted after fallback")
	}
	s.Observe(inbound(t, "822A2000"))
	if !s.ControllerReady() {
		t.Error("old family ready ack not observed after fallback")
	}
}

func TestObserveInvalidFrame(t *testing.T) {
	s := newTestSession(t, NewMotor, 600)
	var logged []string
	s.logf = func(_ EventType, format string, _ ...interface{}) {
		logged = append(logged, format)
	}
	s.Observe(nil)
	s.Observe(bafangcan.NewFrame(0x100, make([]byte, 12), bafangcan.Incoming))
	if len(logged) != 0 || s.ControllerReady() || s.Overall() != 0 {
		t.Errorf("invalid frames changed the session, logged %v", logged)
	}
}

func TestObserveIgnoresLoopback(t *testing.T) {
	s := newTestSession(t, NewMotor, 600)
	var logged []string
	s.logf = func(_ EventType, format string, _ ...interface{}) {
		logged = append(logged, format)
	}
	s.Observe(inbound(t, "85150010"))
	if len(logged) != 0 {
		t.Errorf("own chunk frame was processed: %v", logged)
	}
	s.Observe(inbound(t, "822A4000"))
	if len(logged) == 0 || !strings.HasPrefix(logged[0], "RECV") {
		t.Errorf("ack was not logged: %v", logged)
	}
}

func TestObserveAfterTerminate(t *testing.T) {
	s := newTestSession(t, NewMotor, 600)
	s.terminate()
	s.Observe(inbound(t, "822A4000"))
	if s.ControllerReady() {
		t.Error("frame observed after terminate")
	}
}

func TestObserveResendRequest(t *testing.T) {
	s := newTestSession(t, HMI, 600)
	var got []int
	s.Observe(inbound(t, "832B0010"))
	s.onResend = func(i int) { got = append(got, i) }
	s.Observe(inbound(t, "832B0010"))
	s.Observe(inbound(t, "832BFFFF"))
	if len(got) != 1 || got[0] != 0x10 {
		t.Errorf("resend requests = %v, want [16]", got)
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name                  string
		progress              int
		ready, started, final bool
		want                  int
	}{
		{"fresh", 0, false, false, false, 0},
		{"ready only", 0, true, false, false, 0},
		{"halfway", 50, true, true, false, 49},
		{"done", 100, true, true, true, 100},
		{"progress without flags", 2, false, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, NewMotor, 10)
			s.setProgress(tt.progress)
			s.controllerReady.Store(tt.ready)
			s.transferStarted.Store(tt.started)
			s.lastChunkConfirmed.Store(tt.final)
			if got := s.Overall(); got != tt.want {
				t.Errorf("Overall() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSetProgressMonotonic(t *testing.T) {
	s := newTestSession(t, NewMotor, 10)
	s.setProgress(40)
	s.setProgress(20)
	s.setProgress(250)
	if got := s.progress.Load(); got != 100 {
		t.Errorf("progress = %d, want 100", got)
	}
}
