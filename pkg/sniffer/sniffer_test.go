package sniffer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roffe/bafangcan"
)

type lines struct {
	mu  sync.Mutex
	out []string
}

func (l *lines) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, s)
}

func (l *lines) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.out...)
}

func frame(id uint32, data ...byte) *bafangcan.CANFrame {
	f := bafangcan.NewExtendedFrame(id, data, bafangcan.Incoming)
	f.Timestamp = time.Now()
	return f
}

func TestObserveDedupe(t *testing.T) {
	var l lines
	s := New(WithOutput(l.add))

	s.Observe(frame(0x02FF1200, 0x01))
	s.Observe(frame(0x02FF1200, 0x01))
	s.Observe(frame(0x02FF1200, 0x01))
	s.Observe(frame(0x02FF1200, 0x02))

	got := l.get()
	if len(got) != 3 {
		t.Fatalf("got %d lines: %q", len(got), got)
	}
	if !strings.Contains(got[0], "ID:82FF1200\tDLC:1\tData:01") {
		t.Errorf("first line = %q", got[0])
	}
	if !strings.HasSuffix(got[1], "Data:01\t(Repeated 3 times)") {
		t.Errorf("summary line = %q", got[1])
	}
	if !strings.HasSuffix(got[2], "Data:02") {
		t.Errorf("change line = %q", got[2])
	}
}

func TestObserveSingleFrameHasNoSummary(t *testing.T) {
	var l lines
	s := New(WithOutput(l.add))
	s.Observe(frame(0x100, 0x01))
	s.Observe(frame(0x100, 0x02))
	s.Flush()
	for _, line := range l.get() {
		if strings.Contains(line, "Repeated") {
			t.Errorf("unexpected summary %q", line)
		}
	}
}

func TestObserveFilterAndInvalid(t *testing.T) {
	var l lines
	s := New(WithOutput(l.add))
	s.Observe(frame(0x02F83205, 0x01))
	s.Observe(nil)
	s.Observe(bafangcan.NewFrame(0x900, nil, bafangcan.Incoming))
	if got := l.get(); len(got) != 0 {
		t.Errorf("filtered or invalid frames logged: %q", got)
	}

	s = New(WithOutput(l.add), WithFilter())
	s.Observe(frame(0x02F83205, 0x01))
	if got := l.get(); len(got) != 1 {
		t.Errorf("empty filter still drops frames: %q", got)
	}
}

func TestFlush(t *testing.T) {
	var l lines
	s := New(WithOutput(l.add))
	for i := 0; i < 5; i++ {
		s.Observe(frame(0x0310630A, 0xAA, 0xBB))
	}
	s.Observe(frame(0x0210630A, 0x01))
	s.Flush()
	got := l.get()
	if len(got) != 3 || !strings.HasSuffix(got[2], "Data:AA BB\t(Repeated 5 times)") {
		t.Fatalf("lines = %q", got)
	}
	s.Flush()
	if len(l.get()) != 3 {
		t.Error("second flush repeated the summary")
	}
}

func TestRun(t *testing.T) {
	bus := bafangcan.NewVirtualBus(nil, nil)
	c, err := bafangcan.New(context.Background(), bus, bafangcan.OptOnEvent(func(bafangcan.Event) {}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var l lines
	s := New(WithOutput(l.add))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx, c) }()

	deadline := time.Now().Add(time.Second)
	for len(l.get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Inject(frame(0x022A4000))
	bus.Inject(frame(0x022A4000))
	for len(l.get()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := l.get()
	want := []string{"Listening", "ID:822A4000", "Repeated 2 times", "Stopping"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q", got)
	}
	for i, w := range want {
		if !strings.Contains(got[i], w) {
			t.Errorf("line %d = %q, want it to contain %q", i, got[i], w)
		}
	}
}
