package bafang

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roffe/bafangcan"
)

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAnnounce
	PhaseHandshake
	PhasePrelude
	PhaseLengthAnnounce
	PhaseFirstChunk
	PhaseBulkTransfer
	PhaseLastChunk
	PhaseFinalize
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAnnounce:
		return "announce"
	case PhaseHandshake:
		return "handshake"
	case PhasePrelude:
		return "prelude"
	case PhaseLengthAnnounce:
		return "length announce"
	case PhaseFirstChunk:
		return "first chunk"
	case PhaseBulkTransfer:
		return "bulk transfer"
	case PhaseLastChunk:
		return "last chunk"
	case PhaseFinalize:
		return "finalize"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the shared state of one transfer. The engine drives it while the receive loop
// feeds every inbound frame to Observe. Flags only ever go from false to true.
type Session struct {
	image   *Image
	profile atomic.Pointer[Profile]
	phase   atomic.Int32

	controllerReady    atomic.Bool
	preludeAcked       atomic.Bool
	transferStarted    atomic.Bool
	firstChunkAcked    atomic.Bool
	lastChunkConfirmed atomic.Bool
	terminated         atomic.Bool

	lastSent atomic.Int64
	resent   atomic.Int64
	progress atomic.Int32
	deadline atomic.Int64

	mu        sync.Mutex
	chunkAcks map[int]bool

	logf     func(EventType, string, ...interface{})
	onResend func(index int)
}

func NewSession(profile *Profile, image *Image) *Session {
	s := &Session{
		image:     image,
		chunkAcks: make(map[int]bool),
		logf:      func(EventType, string, ...interface{}) {},
	}
	s.profile.Store(profile)
	s.lastSent.Store(-1)
	s.resent.Store(-1)
	return s
}

// Profile is the profile currently in force, it changes once if the session falls back.
func (s *Session) Profile() *Profile {
	return s.profile.Load()
}

func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Session) ControllerReady() bool    { return s.controllerReady.Load() }
func (s *Session) PreludeAcked() bool       { return s.preludeAcked.Load() }
func (s *Session) TransferStarted() bool    { return s.transferStarted.Load() }
func (s *Session) FirstChunkAcked() bool    { return s.firstChunkAcked.Load() }
func (s *Session) LastChunkConfirmed() bool { return s.lastChunkConfirmed.Load() }
func (s *Session) Terminated() bool         { return s.terminated.Load() }

// ChunkAcked reports whether an ack for chunk i was seen while it was outstanding: the last
// chunk sent, the one after it, or a chunk the controller asked for again.
func (s *Session) ChunkAcked(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkAcks[i]
}

// Deadline is the end of the wait currently in progress.
func (s *Session) Deadline() time.Time {
	return time.Unix(0, s.deadline.Load())
}

func (s *Session) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

func (s *Session) setProfile(p *Profile) {
	s.profile.Store(p)
}

func (s *Session) setLastSent(i int) {
	s.lastSent.Store(int64(i))
}

// setResent marks chunk i as re-sent on request. The driver keeps its own lastSent so a window
// wait in progress still sees the ack it is waiting for.
func (s *Session) setResent(i int) {
	s.resent.Store(int64(i))
}

func (s *Session) setDeadline(t time.Time) {
	s.deadline.Store(t.UnixNano())
}

// setProgress never lowers the bulk progress.
func (s *Session) setProgress(p int) {
	if p > 100 {
		p = 100
	}
	for {
		cur := s.progress.Load()
		if int32(p) <= cur || s.progress.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

func (s *Session) terminate() {
	s.terminated.Store(true)
}

// Observe applies one inbound frame to the session.
func (s *Session) Observe(frame *bafangcan.CANFrame) {
	if s.terminated.Load() {
		return
	}
	raw := DecodeFrame(frame)
	if raw.IsInvalid() {
		return
	}
	p := s.Profile()
	if strings.HasPrefix(raw.ID, p.loopbackPrefix()) {
		return
	}
	s.logf(EventTypeDebug, "RECV ID: %s DLC: %d Data: %s (Timestamp: %d)", raw.ID, raw.DLC, raw.Data, raw.Timestamp)

	if MatchesAck(raw.ID, p.ReadyAckID) && s.controllerReady.CompareAndSwap(false, true) {
		s.logf(EventTypeInfo, "controller is ready for update")
	}
	if MatchesAck(raw.ID, p.FirstPackageAckID) && s.transferStarted.CompareAndSwap(false, true) {
		s.logf(EventTypeInfo, "controller is ready to receive firmware")
	}
	if s.matchesFinalAck(p, raw.ID) && s.lastChunkConfirmed.CompareAndSwap(false, true) {
		s.logf(EventTypeInfo, "controller confirmed the last chunk")
	}
	if MatchesAck(raw.ID, p.PreludeAckID) && s.preludeAcked.CompareAndSwap(false, true) {
		s.logf(EventTypeDebug, "prelude acknowledged")
	}
	if last := int(s.lastSent.Load()); last >= 0 {
		s.recordAck(p, raw.ID, last)
		s.recordAck(p, raw.ID, last+1)
	}
	if resent := int(s.resent.Load()); resent >= 0 {
		s.recordAck(p, raw.ID, resent)
	}
	if MatchesAck(raw.ID, p.AckFragment(2)) {
		s.firstChunkAcked.Store(true)
	}
	if s.onResend != nil && strings.HasPrefix(raw.ID, p.resendPrefix()) && len(raw.ID) >= 8 {
		if idx, err := DecodeChunkIndex(raw.ID[4:8]); err == nil && idx < s.image.Chunks() {
			s.onResend(idx)
		}
	}
}

func (s *Session) recordAck(p *Profile, id string, i int) {
	if i > MaxChunkIndex || !MatchesAck(id, p.AckFragment(i)) {
		return
	}
	s.mu.Lock()
	s.chunkAcks[i] = true
	s.mu.Unlock()
}

// matchesFinalAck accepts an ack for the chunk count or for the last chunk index, once the
// last chunk is out. Handshake acks of some profiles look like chunk acks.
func (s *Session) matchesFinalAck(p *Profile, id string) bool {
	n := s.image.Chunks()
	if n <= 0 || s.lastSent.Load() != int64(n-1) {
		return false
	}
	if n <= MaxChunkIndex && MatchesAck(id, p.AckFragment(n)) {
		return true
	}
	return n-1 <= MaxChunkIndex && MatchesAck(id, p.AckFragment(n-1))
}

// Overall is the bulk progress plus one point per completed milestone, less three, clamped
// to 0..100.
func (s *Session) Overall() int {
	p := int(s.progress.Load())
	for _, b := range []bool{s.controllerReady.Load(), s.transferStarted.Load(), s.lastChunkConfirmed.Load()} {
		if b {
			p++
		}
	}
	p -= 3
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
