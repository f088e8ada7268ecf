// Package status mirrors a running transfer into Redis so dashboards and other services can follow it.
//
// The state lives in one hash, every change is also published on "<key> <field>".
package status

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/roffe/bafangcan"
	"github.com/roffe/bafangcan/pkg/bafang"
)

const DefaultKey = "bafang-flash"

type Publisher struct {
	redis *redis.Client
	key   string
	mu    sync.Mutex
	ctx   context.Context
}

func New(client *redis.Client, key string) *Publisher {
	if key == "" {
		key = DefaultKey
	}
	return &Publisher{
		redis: client,
		key:   key,
		ctx:   context.Background(),
	}
}

// Dial connects to the Redis server at addr, host:port.
func Dial(ctx context.Context, addr, key string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, key), nil
}

func (p *Publisher) Close() error {
	return p.redis.Close()
}

// Start resets the hash for a new transfer.
func (p *Publisher) Start(variant bafang.Variant, file string, size int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pipe := p.redis.Pipeline()
	pipe.Del(p.ctx, p.key)
	pipe.HSet(p.ctx, p.key, StartFields(variant, file, size))
	pipe.Publish(p.ctx, p.channel("status"), "running")
	if _, err := pipe.Exec(p.ctx); err != nil {
		return fmt.Errorf("failed to send start: %v", err)
	}
	return nil
}

func (p *Publisher) Progress(percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pipe := p.redis.Pipeline()
	pipe.HSet(p.ctx, p.key, "progress", percent)
	pipe.Publish(p.ctx, p.channel("progress"), percent)
	if _, err := pipe.Exec(p.ctx); err != nil {
		return fmt.Errorf("failed to send progress: %v", err)
	}
	return nil
}

// Event publishes log lines, debug output stays local.
func (p *Publisher) Event(e bafangcan.Event) error {
	if e.Type == bafangcan.EventTypeDebug {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.redis.Publish(p.ctx, p.channel("log"), e.String()).Err(); err != nil {
		return fmt.Errorf("failed to publish log: %v", err)
	}
	return nil
}

func (p *Publisher) Outcome(o bafang.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pipe := p.redis.Pipeline()
	pipe.HSet(p.ctx, p.key, OutcomeFields(o))
	pipe.Publish(p.ctx, p.channel("status"), o.Status.String())
	if _, err := pipe.Exec(p.ctx); err != nil {
		return fmt.Errorf("failed to send outcome: %v", err)
	}
	return nil
}

func (p *Publisher) channel(field string) string {
	return p.key + " " + field
}

func StartFields(variant bafang.Variant, file string, size int) map[string]interface{} {
	return map[string]interface{}{
		"variant":  variant.String(),
		"file":     file,
		"size":     size,
		"status":   "running",
		"phase":    bafang.PhaseIdle.String(),
		"progress": 0,
		"error":    "",
	}
}

func OutcomeFields(o bafang.Outcome) map[string]interface{} {
	fields := map[string]interface{}{
		"status": o.Status.String(),
		"phase":  o.Phase.String(),
		"error":  "",
	}
	if o.Err != nil {
		fields["error"] = o.Err.Error()
	}
	if o.Status == bafang.Succeeded {
		fields["progress"] = 100
	}
	return fields
}
