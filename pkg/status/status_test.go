package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/roffe/bafangcan"
	"github.com/roffe/bafangcan/pkg/bafang"
)

func TestOutcomeFields(t *testing.T) {
	tests := []struct {
		name string
		in   bafang.Outcome
		want map[string]interface{}
	}{
		{
			name: "succeeded",
			in:   bafang.Outcome{Status: bafang.Succeeded, Phase: bafang.PhaseDone},
			want: map[string]interface{}{"status": "succeeded", "phase": "done", "error": "", "progress": 100},
		},
		{
			name: "failed",
			in: bafang.Outcome{
				Status: bafang.Failed,
				Phase:  bafang.PhaseHandshake,
				Err:    &bafang.PhaseError{Phase: bafang.PhaseHandshake, Err: bafang.ErrControllerNotResponding},
			},
			want: map[string]interface{}{"status": "failed", "phase": "handshake", "error": "handshake: controller not responding"},
		},
		{
			name: "cancelled",
			in:   bafang.Outcome{Status: bafang.Cancelled, Phase: bafang.PhaseBulkTransfer, Err: context.Canceled},
			want: map[string]interface{}{"status": "cancelled", "phase": "bulk transfer", "error": "context canceled"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OutcomeFields(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("OutcomeFields() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestStartFields(t *testing.T) {
	got := StartFields(bafang.HMI, "dp.bin", 1024)
	if got["variant"] != "HMI" || got["file"] != "dp.bin" || got["size"] != 1024 || got["status"] != "running" || got["progress"] != 0 {
		t.Errorf("StartFields() = %v", got)
	}
}

func TestPublisherUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := New(client, "")
	defer p.Close()

	if p.key != DefaultKey {
		t.Errorf("key = %q, want %q", p.key, DefaultKey)
	}
	if err := p.Progress(10); err == nil {
		t.Error("Progress() on unreachable server expected error")
	}
	if err := p.Outcome(bafang.Outcome{Status: bafang.Succeeded}); err == nil {
		t.Error("Outcome() on unreachable server expected error")
	}
	if err := p.Event(bafangcan.Event{Type: bafangcan.EventTypeDebug, Details: "RECV"}); err != nil {
		t.Errorf("debug events are not published, got %v", err)
	}
}

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "127.0.0.1:1", "")
	if err == nil {
		t.Fatal("Dial() expected error")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Log("dial timed out instead of being refused")
	}
}
