package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/conclave-ai/conclave/internal/config"
)

// ScheduleKind discriminates the schedule variants.
type ScheduleKind string

const (
	// ScheduleAt fires once at a fixed instant.
	ScheduleAt ScheduleKind = "at"

	// ScheduleCron fires on a cron expression in a timezone.
	ScheduleCron ScheduleKind = "cron"

	// ScheduleEvery fires on a fixed interval.
	ScheduleEvery ScheduleKind = "every"
)

// Schedule is when a job fires. Exactly one variant is populated.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// At is the instant for one-shot schedules, RFC 3339.
	At time.Time `json:"at,omitempty"`

	// Expr and Timezone describe a repeating cron schedule. An empty
	// Timezone means the process's local zone.
	Expr     string `json:"expr,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Every is the interval for fixed-interval schedules.
	Every time.Duration `json:"every,omitempty"`
}

var cronParser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// ParseSchedule builds a Schedule from its config form, validating that
// exactly one variant is set and that cron expressions parse.
func ParseSchedule(cfg config.CronScheduleConfig) (Schedule, error) {
	set := 0
	if strings.TrimSpace(cfg.At) != "" {
		set++
	}
	if strings.TrimSpace(cfg.Cron) != "" {
		set++
	}
	if cfg.Every > 0 {
		set++
	}
	if set == 0 {
		return Schedule{}, errors.New("schedule requires one of at, cron, or every")
	}
	if set > 1 {
		return Schedule{}, errors.New("schedule variants at, cron, and every are mutually exclusive")
	}

	switch {
	case strings.TrimSpace(cfg.At) != "":
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(cfg.At))
		if err != nil {
			return Schedule{}, fmt.Errorf("parse schedule.at: %w", err)
		}
		return Schedule{Kind: ScheduleAt, At: at}, nil

	case strings.TrimSpace(cfg.Cron) != "":
		expr := strings.TrimSpace(cfg.Cron)
		if _, err := cronParser.Parse(expr); err != nil {
			return Schedule{}, fmt.Errorf("parse schedule.cron: %w", err)
		}
		if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return Schedule{}, fmt.Errorf("parse schedule.timezone: %w", err)
			}
		}
		return Schedule{Kind: ScheduleCron, Expr: expr, Timezone: strings.TrimSpace(cfg.Timezone)}, nil

	default:
		return Schedule{Kind: ScheduleEvery, Every: cfg.Every}, nil
	}
}

// Next returns the first fire time strictly after now, or ok=false when
// the schedule has no further firings (a one-shot already past).
func (s Schedule) Next(now time.Time) (time.Time, bool) {
	switch s.Kind {
	case ScheduleAt:
		if s.At.After(now) {
			return s.At, true
		}
		return time.Time{}, false

	case ScheduleCron:
		spec, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false
		}
		at := now
		if s.Timezone != "" {
			if loc, lerr := time.LoadLocation(s.Timezone); lerr == nil {
				at = at.In(loc)
			}
		}
		return spec.Next(at), true

	case ScheduleEvery:
		if s.Every <= 0 {
			return time.Time{}, false
		}
		return now.Add(s.Every), true

	default:
		return time.Time{}, false
	}
}

// OneShot reports whether the schedule fires at most once.
func (s Schedule) OneShot() bool {
	return s.Kind == ScheduleAt
}
