// Package ratelimit meters canvas renders per caller. Each caller holds a
// budget of render tokens that refills evenly over a window; a render spends
// tokens in proportion to its canvas size.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "canvasflow:ratelimit"

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	Charged    int64
	RetryAfter time.Duration
}

// Limiter decides whether subject may spend cost tokens now.
type Limiter interface {
	AllowN(ctx context.Context, subject string, cost int) (Decision, error)
}

type BudgetConfig struct {
	Capacity int
	Window   time.Duration
	Prefix   string
}

// spendScript refills the hash at KEYS[1] for the time elapsed since its last
// touch, then spends ARGV[3] tokens if it can. It returns
// {allowed, whole tokens left, ms until the request would fit}.
var spendScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
tokens = math.min(capacity, tokens + math.max(0, now - last) * per_ms)

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// RenderBudget keeps budgets in Redis so every API replica draws from the same
// one.
type RenderBudget struct {
	client   redis.UniversalClient
	capacity int64
	perMS    float64
	ttl      time.Duration
	prefix   string
	now      func() time.Time
}

func NewRenderBudget(client redis.UniversalClient, cfg BudgetConfig) (*RenderBudget, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case cfg.Capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	case cfg.Window <= 0:
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}

	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RenderBudget{
		client:   client,
		capacity: int64(cfg.Capacity),
		perMS:    float64(cfg.Capacity) / float64(max(1, cfg.Window.Milliseconds())),
		ttl:      2 * cfg.Window,
		prefix:   prefix,
		now:      time.Now,
	}, nil
}

// AllowN spends cost tokens. A cost above capacity is charged as the full
// capacity so the largest canvas still renders on an untouched budget.
func (b *RenderBudget) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	charged := b.charge(cost)

	raw, err := spendScript.Run(ctx, b.client,
		[]string{b.key(subject)},
		b.capacity,
		b.perMS,
		charged,
		b.now().UTC().UnixMilli(),
		b.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("spend render budget: %w", err)
	}

	decision, err := parseSpend(raw)
	if err != nil {
		return Decision{}, err
	}
	decision.Limit = b.capacity
	decision.Charged = charged
	return decision, nil
}

func (b *RenderBudget) charge(cost int) int64 {
	return min(max(int64(cost), 1), b.capacity)
}

func (b *RenderBudget) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return b.prefix + ":" + subject
}

func parseSpend(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected render budget reply %v", raw)
	}

	var fields [3]int64
	for i, v := range values {
		n, err := scriptInt(v)
		if err != nil {
			return Decision{}, fmt.Errorf("render budget reply field %d: %w", i, err)
		}
		fields[i] = n
	}

	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
	}, nil
}

// scriptInt reads a Lua number as go-redis returns it.
func scriptInt(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
