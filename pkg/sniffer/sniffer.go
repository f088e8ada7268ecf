// Package sniffer logs bus traffic, collapsing runs of identical frames into a single line.
package sniffer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roffe/bafangcan"
	"github.com/roffe/bafangcan/pkg/bafang"
)

// DefaultFilter drops the status broadcast the display sends several times a second.
var DefaultFilter = []string{
	"82F83200", "82F83201", "82F83202", "82F83203", "82F83204", "82F83205",
	"82F83206", "82F83207", "82F83208", "82F83209", "82F8320A", "82F8320B",
}

type entry struct {
	data      string
	dlc       int
	count     int
	timestamp int64
}

type Sniffer struct {
	filtered map[string]struct{}
	output   func(string)

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

type Option func(*Sniffer)

// WithFilter replaces the ignored identifiers, given in SocketCAN notation such as 82F83200.
func WithFilter(ids ...string) Option {
	return func(s *Sniffer) {
		s.filtered = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			s.filtered[id] = struct{}{}
		}
	}
}

func WithOutput(fn func(string)) Option {
	return func(s *Sniffer) {
		if fn != nil {
			s.output = fn
		}
	}
}

func New(opts ...Option) *Sniffer {
	s := &Sniffer{
		output:  func(line string) { log.Println(line) },
		entries: make(map[string]*entry),
	}
	WithFilter(DefaultFilter...)(s)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run logs every frame received by c until ctx is done, then flushes pending repeats.
func (s *Sniffer) Run(ctx context.Context, c *bafangcan.Client) error {
	sub := c.Subscribe(ctx)
	defer sub.Close()
	s.output("Listening for frames...")
	defer func() {
		s.Flush()
		s.output("Stopping sniffer...")
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-sub.Chan():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := c.Err(); err != nil {
					return err
				}
				return bafangcan.ErrResponsechannelClosed
			}
			s.Observe(frame)
		}
	}
}

// Observe logs frame unless it repeats the last data seen for its identifier.
func (s *Sniffer) Observe(frame *bafangcan.CANFrame) {
	raw := bafang.DecodeFrame(frame)
	if raw.IsInvalid() {
		return
	}
	if _, ok := s.filtered[raw.ID]; ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[raw.ID]
	if !ok {
		s.output(line(raw.Timestamp, raw.ID, raw.DLC, raw.Data))
		s.entries[raw.ID] = &entry{data: raw.Data, dlc: raw.DLC, count: 1, timestamp: raw.Timestamp}
		s.order = append(s.order, raw.ID)
		return
	}
	if e.data == raw.Data {
		e.count++
		e.timestamp = raw.Timestamp
		return
	}
	if e.count > 1 {
		s.output(repeated(raw.ID, e))
	}
	s.output(line(raw.Timestamp, raw.ID, raw.DLC, raw.Data))
	e.data, e.dlc, e.count, e.timestamp = raw.Data, raw.DLC, 1, raw.Timestamp
}

// Flush logs the repeat count of every identifier that is still mid run.
func (s *Sniffer) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		e := s.entries[id]
		if e.count > 1 {
			s.output(repeated(id, e))
			e.count = 1
		}
	}
}

func line(ts int64, id string, dlc int, data string) string {
	return fmt.Sprintf("%s\tID:%s\tDLC:%d\tData:%s", stamp(ts), id, dlc, data)
}

func repeated(id string, e *entry) string {
	return fmt.Sprintf("%s\t(Repeated %d times)", line(e.timestamp, id, e.dlc, e.data), e.count)
}

func stamp(us int64) string {
	return time.UnixMicro(us).Format("15:04:05.000000")
}
