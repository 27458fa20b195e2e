// Package expiry decides when stored files expire and fires their deletion.
package expiry

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haukened/stash/internal/app"
)

// Mode names an expiry policy.
type Mode string

const (
	ModeTTL  Mode = "ttl"  // fixed duration from creation
	ModeCron Mode = "cron" // next matching wall-clock cutoff
)

// DefaultTTL is one week.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultCronSpec is the end of every Sunday.
const DefaultCronSpec = "59 59 23 * * 0"

// TTL expires objects a fixed duration after creation.
type TTL time.Duration

// ExpiresAt implements app.ExpiryPolicy.
func (t TTL) ExpiresAt(created time.Time) time.Time { return created.Add(time.Duration(t)) }

// Cron expires objects at the next instant matching a cron schedule.
type Cron struct {
	schedule cron.Schedule
	loc      *time.Location
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewCron parses spec (an optional leading seconds field is accepted) and
// evaluates it in the named zone, UTC when tz is empty.
func NewCron(spec, tz string) (*Cron, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	loc := time.UTC
	if tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("load time zone %q: %w", tz, err)
		}
	}
	return &Cron{schedule: sched, loc: loc}, nil
}

// ExpiresAt implements app.ExpiryPolicy. A schedule that never matches
// falls back to DefaultTTL so every object still expires.
func (c *Cron) ExpiresAt(created time.Time) time.Time {
	next := c.schedule.Next(created.In(c.loc))
	if next.IsZero() {
		return created.Add(DefaultTTL)
	}
	return next.UTC()
}

// NewPolicy builds the policy selected by mode.
func NewPolicy(mode Mode, ttl time.Duration, spec, tz string) (app.ExpiryPolicy, error) {
	switch mode {
	case ModeTTL, "":
		if ttl <= 0 {
			return nil, fmt.Errorf("ttl must be positive, got %s", ttl)
		}
		return TTL(ttl), nil
	case ModeCron:
		if spec == "" {
			spec = DefaultCronSpec
		}
		return NewCron(spec, tz)
	default:
		return nil, fmt.Errorf("unknown expiry mode %q", mode)
	}
}
