package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trigger computes firing times for a job.
type Trigger interface {
	// Next returns the first firing strictly after t.
	Next(t time.Time) time.Time
	String() string
}

type interval struct {
	every time.Duration
}

// Every fires every d, starting d after the job is started.
func Every(d time.Duration) Trigger {
	if d <= 0 {
		d = time.Second
	}
	return interval{every: d}
}

func (i interval) Next(t time.Time) time.Time { return t.Add(i.every) }

// String renders the period as interval[H:MM:SS].
func (i interval) String() string {
	secs := int64(i.every.Round(time.Second) / time.Second)
	return fmt.Sprintf("interval[%d:%02d:%02d]", secs/3600, secs%3600/60, secs%60)
}

type daily struct {
	hour, minute int
	loc          *time.Location
}

// Daily fires once a day at hour:minute wall-clock time in loc.
func Daily(hour, minute int, loc *time.Location) Trigger {
	if loc == nil {
		loc = time.UTC
	}
	return daily{hour: hour, minute: minute, loc: loc}
}

// ParseDaily accepts "HH:MM".
func ParseDaily(clock string, loc *time.Location) (Trigger, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return nil, fmt.Errorf("daily trigger %q: want HH:MM", clock)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return nil, fmt.Errorf("daily trigger %q: bad hour", clock)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("daily trigger %q: bad minute", clock)
	}
	return Daily(hour, minute, loc), nil
}

func (d daily) Next(t time.Time) time.Time {
	local := t.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(t) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

func (d daily) String() string {
	return fmt.Sprintf("cron[%02d:%02d %s]", d.hour, d.minute, d.loc)
}
