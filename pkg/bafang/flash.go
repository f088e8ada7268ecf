package bafang

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roffe/bafangcan"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

type Status int

const (
	Succeeded Status = iota
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Outcome is the single terminal result of a transfer.
type Outcome struct {
	Status Status
	// Phase the session was in when it ended
	Phase Phase
	Err   error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s in %s: %v", o.Status, o.Phase, o.Err)
	}
	return o.Status.String()
}

// Engine flashes firmware through a connected client.
type Engine struct {
	client *bafangcan.Client
	cfg    Config
	busy   atomic.Bool
}

func New(client *bafangcan.Client, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine{client: client, cfg: cfg}
}

// Flash uploads bin to a controller of the given variant and blocks until the transfer ends.
func (e *Engine) Flash(ctx context.Context, bin []byte, variant Variant) Outcome {
	img, err := NewImage(bin)
	if err != nil {
		return Outcome{Status: Failed, Phase: PhaseIdle, Err: err}
	}
	return e.FlashImage(ctx, img, variant)
}

func (e *Engine) FlashImage(ctx context.Context, img *Image, variant Variant) Outcome {
	profile, err := ProfileFor(variant)
	if err != nil {
		return Outcome{Status: Failed, Phase: PhaseIdle, Err: err}
	}
	if err := checkImage(img, profile); err != nil {
		return Outcome{Status: Failed, Phase: PhaseIdle, Err: err}
	}
	if !e.busy.CompareAndSwap(false, true) {
		return Outcome{Status: Failed, Phase: PhaseIdle, Err: ErrSessionActive}
	}
	defer e.busy.Store(false)
	return e.run(ctx, NewSession(profile, img))
}

func checkImage(img *Image, p *Profile) error {
	n := img.Chunks()
	if n-1 > MaxChunkIndex {
		return fmt.Errorf("%w: %d chunks do not fit a 4 digit chunk index", ErrOversizedFirmware, n)
	}
	if n < p.MinChunks() {
		return fmt.Errorf("%w: %d chunks, %s needs at least %d", ErrFirmwareTooSmall, n, p.Variant, p.MinChunks())
	}
	return nil
}

func (e *Engine) logf(t EventType, format string, values ...interface{}) {
	if e.cfg.OnEvent == nil {
		return
	}
	e.cfg.OnEvent(Event{Type: t, Details: fmt.Sprintf(format, values...)})
}

func (e *Engine) run(parent context.Context, s *Session) Outcome {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.logf = e.logf
	tx := NewSender(e.client, s.Profile, e.cfg.LinkRetryDelay)
	tx.logf = e.logf
	if e.cfg.ResendOnRequest {
		s.onResend = func(i int) {
			p := s.Profile()
			e.logf(EventTypeInfo, "controller requested chunk %d again", i)
			s.setResent(i)
			_ = tx.Send(ctx, p.ChunkBody(p.ChunkMiddle, i), EncodePayload(s.image.Chunk(i)), e.cfg.LinkAttempts)
		}
	}

	sub := e.client.Subscribe(ctx)
	defer sub.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listen(gctx, s, sub)
	})
	if e.cfg.OnProgress != nil {
		g.Go(func() error {
			return e.reportProgress(gctx, s)
		})
	}

	img := s.image
	e.logf(EventTypeInfo, "starting %s upgrade: %d bytes payload in %d chunks", s.Profile().Variant, img.PayloadSize(), img.Chunks())
	e.logf(EventTypeDebug, "File header data: % X", img.Header())

	err := e.drive(gctx, s, tx, g)
	s.terminate()
	cancel()
	_ = g.Wait()

	out := e.outcome(parent, s, err)
	if out.Status == Succeeded && e.cfg.OnProgress != nil {
		e.cfg.OnProgress(s.Overall())
	}
	switch out.Status {
	case Succeeded:
		e.logf(EventTypeInfo, "Firmware update completed successfully!")
	case Cancelled:
		e.logf(EventTypeWarning, "firmware update cancelled in %s", out.Phase)
	default:
		e.logf(EventTypeError, "%v", out.Err)
		e.logf(EventTypeError, "Firmware update failed or was not completed.")
	}
	return out
}

func (e *Engine) outcome(parent context.Context, s *Session, err error) Outcome {
	if err == nil {
		s.setPhase(PhaseDone)
		return Outcome{Status: Succeeded, Phase: PhaseDone}
	}
	if parent.Err() != nil {
		return Outcome{Status: Cancelled, Phase: s.Phase(), Err: parent.Err()}
	}
	phase := s.Phase()
	var pe *PhaseError
	if errors.As(err, &pe) {
		phase = pe.Phase
	}
	s.setPhase(PhaseFailed)
	return Outcome{Status: Failed, Phase: phase, Err: err}
}

func listen(ctx context.Context, s *Session, sub *bafangcan.Subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-sub.Chan():
			if !ok {
				return nil
			}
			s.Observe(frame)
		}
	}
}

func (e *Engine) reportProgress(ctx context.Context, s *Session) error {
	t := time.NewTicker(e.cfg.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.cfg.OnProgress(s.Overall())
		}
	}
}

func (e *Engine) drive(ctx context.Context, s *Session, tx *Sender, g *errgroup.Group) error {
	s.setPhase(PhaseAnnounce)
	g.Go(func() error {
		return e.announce(ctx, s, tx)
	})
	if err := e.handshake(ctx, s, tx); err != nil {
		return err
	}
	if err := sleep(ctx, e.cfg.PhaseGap); err != nil {
		return err
	}

	// the profile is fixed from here on
	p := s.Profile()
	if p.NewFamily && p.PreludeID != "" {
		if err := e.prelude(ctx, s, tx, p); err != nil {
			return err
		}
	}
	if err := e.announceLength(ctx, s, tx, p); err != nil {
		return err
	}
	if p.NewFamily {
		if err := e.firstChunk(ctx, s, tx, p); err != nil {
			return err
		}
	}
	if err := e.bulk(ctx, s, tx, p); err != nil {
		return err
	}
	if err := e.lastChunk(ctx, s, tx, p); err != nil {
		return err
	}
	return e.finalize(ctx, s, tx, p)
}

// announce broadcasts host ready until the controller answers the handshake.
func (e *Engine) announce(ctx context.Context, s *Session, tx *Sender) error {
	rate := e.cfg.AnnounceRate
	if rate <= 0 {
		rate = 100
	}
	rl := ratelimit.New(rate)
	for !s.ControllerReady() && !s.Terminated() {
		rl.Take()
		if ctx.Err() != nil {
			return nil
		}
		if err := tx.Send(ctx, hostReadyID, "00", 1); err != nil {
			return nil
		}
	}
	return nil
}

func (e *Engine) handshake(ctx context.Context, s *Session, tx *Sender) error {
	s.setPhase(PhaseHandshake)
	e.logf(EventTypeInfo, "waiting for controller to get ready")
	start := time.Now()
	s.setDeadline(start.Add(e.cfg.SessionTimeout))
	fellBack := false
	for {
		p := s.Profile()
		payload := EncodePayload(s.image.HandshakePayload(p.DeviceMarker))
		if err := tx.Send(ctx, p.ReadyRequestID, payload, e.cfg.LinkAttempts); err != nil {
			return err
		}
		if err := sleep(ctx, e.cfg.HandshakeInterval); err != nil {
			return err
		}
		if s.ControllerReady() {
			return nil
		}
		elapsed := time.Since(start)
		if elapsed > e.cfg.SessionTimeout {
			return &PhaseError{Phase: PhaseHandshake, Err: ErrControllerNotResponding}
		}
		if fellBack || elapsed <= e.cfg.SessionTimeout-e.cfg.FallbackGrace {
			continue
		}
		if fb, ok := p.Fallback(); ok {
			fellBack = true
			s.setProfile(fb)
			e.logf(EventTypeWarning, "controller not responding as %s, trying %s", p.Variant, fb.Variant)
		}
	}
}

func (e *Engine) prelude(ctx context.Context, s *Session, tx *Sender, p *Profile) error {
	s.setPhase(PhasePrelude)
	if err := tx.Send(ctx, p.PreludeID, "", e.cfg.LinkAttempts); err != nil {
		return err
	}
	if err := e.wait(ctx, s, e.cfg.SessionTimeout, s.PreludeAcked); err != nil {
		return phaseError(PhasePrelude, err, ErrPreludeNotAcknowledged)
	}
	return sleep(ctx, e.cfg.PhaseGap)
}

func (e *Engine) announceLength(ctx context.Context, s *Session, tx *Sender, p *Profile) error {
	s.setPhase(PhaseLengthAnnounce)
	e.logf(EventTypeInfo, "announcing payload length %d", s.image.PayloadSize())
	if err := tx.Send(ctx, p.FirstPackageID, EncodePayload(s.image.LengthPayload()), e.cfg.LinkAttempts); err != nil {
		return err
	}
	if err := e.wait(ctx, s, e.cfg.SessionTimeout, s.TransferStarted); err != nil {
		return phaseError(PhaseLengthAnnounce, err, ErrLengthAckTimeout)
	}
	return nil
}

func (e *Engine) firstChunk(ctx context.Context, s *Session, tx *Sender, p *Profile) error {
	s.setPhase(PhaseFirstChunk)
	if err := e.sendChunk(ctx, s, tx, p.ChunkFirst, 0); err != nil {
		return err
	}
	if err := sleep(ctx, e.cfg.ChunkSpacing); err != nil {
		return err
	}
	if err := e.sendChunk(ctx, s, tx, p.ChunkMiddle, 1); err != nil {
		return err
	}
	if err := e.wait(ctx, s, e.cfg.SessionTimeout, s.FirstChunkAcked); err != nil {
		return phaseError(PhaseFirstChunk, err, ErrFirstChunkAckTimeout)
	}
	return sleep(ctx, e.cfg.PhaseGap)
}

// bulk streams every chunk but the last. Windowed profiles stop at each window boundary
// until the controller acks it, the others wait for every single chunk.
func (e *Engine) bulk(ctx context.Context, s *Session, tx *Sender, p *Profile) error {
	s.setPhase(PhaseBulkTransfer)
	n := s.image.Chunks()
	for i := p.BulkStart(); i <= n-2; i++ {
		if err := e.sendChunk(ctx, s, tx, p.ChunkMiddle, i); err != nil {
			return err
		}
		s.setProgress((i*100 + n/2) / n)
		if !p.RequiresAck(i) {
			if err := sleep(ctx, e.cfg.ChunkSpacing); err != nil {
				return err
			}
			continue
		}
		i := i
		err := e.wait(ctx, s, e.cfg.SessionTimeout, func() bool {
			return s.ChunkAcked(i) || s.ChunkAcked(i+1)
		})
		if errors.Is(err, errWaitTimeout) {
			return &PhaseError{Phase: PhaseBulkTransfer, Err: &ChunkAckTimeoutError{Index: i}}
		}
		if err != nil {
			return err
		}
	}
	e.logf(EventTypeInfo, "All data chunks (except the last) sent.")
	return nil
}

// lastChunk sends the final chunk and repeats it every LastChunkResend until the controller
// confirms it or LastChunkTimeout passes.
func (e *Engine) lastChunk(ctx context.Context, s *Session, tx *Sender, p *Profile) error {
	s.setPhase(PhaseLastChunk)
	if err := sleep(ctx, e.cfg.ChunkSpacing); err != nil {
		return err
	}
	last := s.image.Chunks() - 1
	deadline := time.Now().Add(e.cfg.LastChunkTimeout)
	for {
		if err := e.sendChunk(ctx, s, tx, p.ChunkLast, last); err != nil {
			return err
		}
		timeout := time.Until(deadline)
		if r := e.cfg.LastChunkResend; r > 0 && r < timeout {
			timeout = r
		}
		err := e.wait(ctx, s, timeout, s.LastChunkConfirmed)
		if err == nil {
			break
		}
		if !errors.Is(err, errWaitTimeout) || !time.Now().Before(deadline) {
			return phaseError(PhaseLastChunk, err, ErrLastChunkAckTimeout)
		}
		e.logf(EventTypeDebug, "last chunk not confirmed yet, sending it again")
	}
	s.setProgress(100)
	return nil
}

// finalize tells the controller the upgrade is over. The old family additionally needs the
// ready sequence replayed and a reset before it boots the new firmware.
func (e *Engine) finalize(ctx context.Context, s *Session, tx *Sender, p *Profile) error {
	s.setPhase(PhaseFinalize)
	e.logf(EventTypeInfo, "announcing firmware upgrade end")
	ends := 1
	if p.NewFamily {
		ends = 2
	}
	for i := 0; i < ends; i++ {
		if err := sleep(ctx, e.cfg.FinalizeDelay); err != nil {
			return err
		}
		if err := tx.Send(ctx, hostReadyID, "01", e.cfg.LinkAttempts); err != nil {
			return err
		}
		if err := sleep(ctx, e.cfg.FinalizeDelay); err != nil {
			return err
		}
	}
	if p.NewFamily {
		return nil
	}

	if err := sleep(ctx, e.cfg.TeardownDelay); err != nil {
		return err
	}
	payload := EncodePayload(s.image.HandshakePayload(p.DeviceMarker))
	for i := 0; i < 6; i++ {
		if err := tx.Send(ctx, hostReadyID, "00", e.cfg.LinkAttempts); err != nil {
			return err
		}
		if err := tx.Send(ctx, p.ReadyRequestID, payload, e.cfg.LinkAttempts); err != nil {
			return err
		}
		if err := sleep(ctx, e.cfg.TeardownFrameGap); err != nil {
			return err
		}
	}
	if err := sleep(ctx, e.cfg.TeardownDelay); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := tx.Send(ctx, resetID, "00", e.cfg.LinkAttempts); err != nil {
			return err
		}
		if err := sleep(ctx, e.cfg.ResetFrameGap); err != nil {
			return err
		}
	}
	return sleep(ctx, e.cfg.TeardownDelay)
}

func (e *Engine) sendChunk(ctx context.Context, s *Session, tx *Sender, marker string, i int) error {
	s.setLastSent(i)
	return tx.Send(ctx, s.Profile().ChunkBody(marker, i), EncodePayload(s.image.Chunk(i)), e.cfg.LinkAttempts)
}

// wait polls cond until it holds, the timeout passes or ctx is done.
func (e *Engine) wait(ctx context.Context, s *Session, timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	s.setDeadline(deadline)
	interval := e.cfg.PollInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for !cond() {
		if time.Now().After(deadline) {
			return errWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func phaseError(phase Phase, err, timeoutErr error) error {
	if errors.Is(err, errWaitTimeout) {
		return &PhaseError{Phase: phase, Err: timeoutErr}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
