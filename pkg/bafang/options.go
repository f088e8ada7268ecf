package bafang

import (
	"log"
	"time"

	"github.com/roffe/bafangcan"
)

type (
	Event     = bafangcan.Event
	EventType = bafangcan.EventType
)

const (
	EventTypeError   = bafangcan.EventTypeError
	EventTypeWarning = bafangcan.EventTypeWarning
	EventTypeInfo    = bafangcan.EventTypeInfo
	EventTypeDebug   = bafangcan.EventTypeDebug
)

// Timing holds every delay and timeout of a transfer.
type Timing struct {
	// SessionTimeout bounds the handshake and every single protocol wait.
	SessionTimeout time.Duration
	// FallbackGrace is how long before SessionTimeout a silent controller triggers the fallback profile.
	FallbackGrace    time.Duration
	LastChunkTimeout time.Duration
	// LastChunkResend is how often the last chunk goes out again until it is confirmed, 0 sends it once.
	LastChunkResend time.Duration

	PollInterval      time.Duration
	HandshakeInterval time.Duration
	// AnnounceRate is the number of host ready frames per second until the controller answers.
	AnnounceRate int
	PhaseGap     time.Duration
	ChunkSpacing time.Duration

	LinkAttempts   uint
	LinkRetryDelay time.Duration

	FinalizeDelay    time.Duration
	TeardownDelay    time.Duration
	TeardownFrameGap time.Duration
	ResetFrameGap    time.Duration

	ProgressInterval time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		SessionTimeout:    10 * time.Second,
		FallbackGrace:     5 * time.Second,
		LastChunkTimeout:  60 * time.Second,
		LastChunkResend:   time.Second,
		PollInterval:      10 * time.Millisecond,
		HandshakeInterval: 60 * time.Millisecond,
		AnnounceRate:      100,
		PhaseGap:          20 * time.Millisecond,
		ChunkSpacing:      time.Millisecond,
		LinkAttempts:      3,
		LinkRetryDelay:    time.Millisecond,
		FinalizeDelay:     5 * time.Second,
		TeardownDelay:     4 * time.Second,
		TeardownFrameGap:  50 * time.Millisecond,
		ResetFrameGap:     20 * time.Millisecond,
		ProgressInterval:  time.Second,
	}
}

type Config struct {
	Timing
	ResendOnRequest bool
	OnEvent         func(Event)
	OnProgress      func(percent int)
}

type Option func(*Config)

// WithTimeout sets the session timeout and keeps the fallback grace within it.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d <= 0 {
			return
		}
		c.SessionTimeout = d
		if c.FallbackGrace >= d {
			c.FallbackGrace = d / 2
		}
	}
}

func WithTiming(t Timing) Option {
	return func(c *Config) {
		c.Timing = t
	}
}

func WithEventHandler(fn func(Event)) Option {
	return func(c *Config) {
		if fn != nil {
			c.OnEvent = fn
		}
	}
}

// WithProgressHandler receives the overall progress, 0 to 100, about once per ProgressInterval.
func WithProgressHandler(fn func(percent int)) Option {
	return func(c *Config) {
		c.OnProgress = fn
	}
}

// WithResendOnRequest answers chunk retransmission requests from the controller.
func WithResendOnRequest(enabled bool) Option {
	return func(c *Config) {
		c.ResendOnRequest = enabled
	}
}

func defaultConfig() Config {
	return Config{
		Timing: DefaultTiming(),
		OnEvent: func(e Event) {
			if e.Type == EventTypeDebug {
				return
			}
			log.Println(e.String())
		},
	}
}
