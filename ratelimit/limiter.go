// Package ratelimit admits consumer API calls against per-tier minute and day
// quotas.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

type Limits struct {
	RequestsPerMinute int `json:"rpm"`
	RequestsPerDay    int `json:"rpd"`
	Burst             int `json:"burst"`
}

type Usage struct {
	Minute int64 `json:"minute"`
	Day    int64 `json:"day"`
}

type Result struct {
	Allowed   bool              `json:"allowed"`
	Tier      string            `json:"tier"`
	Limits    Limits            `json:"limits"`
	Current   Usage             `json:"current"`
	Remaining int64             `json:"remaining"`
	Reset     int64             `json:"reset"`
	Headers   map[string]string `json:"headers"`
}

type Limiter struct {
	counter Counter
	now     func() time.Time
}

func NewLimiter(counter Counter) *Limiter {
	return &Limiter{counter: counter, now: func() time.Time { return time.Now().UTC() }}
}

// Check counts the client's requests in the trailing minute and since UTC
// midnight. Burst is reported with the tier but does not affect admission.
func (l *Limiter) Check(ctx context.Context, clientId, tierName string) (*Result, error) {
	tier := TierFor(tierName)
	now := l.now().UTC()

	minute, err := l.counter.Count(ctx, clientId, now.Add(-time.Minute))
	if err != nil {
		return nil, err
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	day, err := l.counter.Count(ctx, clientId, midnight)
	if err != nil {
		return nil, err
	}
	return evaluate(tier, minute, day, now), nil
}

func evaluate(tier Tier, minute, day int64, now time.Time) *Result {
	remaining := int64(tier.RequestsPerMinute) - minute
	if remaining < 0 {
		remaining = 0
	}
	reset := ResetAt(now).Unix()
	return &Result{
		Allowed:   minute < int64(tier.RequestsPerMinute) && day < int64(tier.RequestsPerDay),
		Tier:      tier.Name,
		Limits:    Limits{RequestsPerMinute: tier.RequestsPerMinute, RequestsPerDay: tier.RequestsPerDay, Burst: tier.Burst},
		Current:   Usage{Minute: minute, Day: day},
		Remaining: remaining,
		Reset:     reset,
		Headers: map[string]string{
			"X-RateLimit-Limit":     strconv.Itoa(tier.RequestsPerMinute),
			"X-RateLimit-Remaining": strconv.FormatInt(remaining, 10),
			"X-RateLimit-Reset":     strconv.FormatInt(reset, 10),
		},
	}
}

// ResetAt is the start of the next minute. A time exactly on a boundary
// resets at the following one.
func ResetAt(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}
