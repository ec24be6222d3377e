// Package ratelimit provides per-tool token bucket rate limiting for MCP
// tools.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit is the sustained rate and burst of one tool.
type Limit struct {
	PerMinute float64
	Burst     int
}

// DefaultLimits returns the limits for the cellsim tools. Running and
// rendering build and step a whole simulation, so they are the tightest.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"cellsim_run":      {PerMinute: 6, Burst: 2},
		"cellsim_graph":    {PerMinute: 20, Burst: 5},
		"cellsim_validate": {PerMinute: 60, Burst: 10},
		"cellsim_series":   {PerMinute: 60, Burst: 10},
	}
}

// LimitError is returned when a tool is called faster than its limit.
type LimitError struct {
	Tool       string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Tool, e.RetryAfter.Round(time.Second))
}

// ToolLimiters holds one limiter per tool. Tools without a limit are never
// limited. A nil *ToolLimiters allows everything. It is safe for concurrent
// use.
type ToolLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewToolLimiters creates limiters for limits.
func NewToolLimiters(limits map[string]Limit) *ToolLimiters {
	t := &ToolLimiters{
		limiters: make(map[string]*rate.Limiter, len(limits)),
		now:      time.Now,
	}
	for tool, l := range limits {
		t.limiters[tool] = rate.NewLimiter(rate.Limit(l.PerMinute/60), l.Burst)
	}
	return t
}

// Check consumes one token for tool, or returns a *LimitError telling the
// caller how long to wait.
func (t *ToolLimiters) Check(tool string) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[tool]
	if !ok {
		return nil
	}
	now := t.now()
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return &LimitError{Tool: tool, RetryAfter: rate.InfDuration}
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return &LimitError{Tool: tool, RetryAfter: d}
	}
	return nil
}
