// Package recurrence turns a recurrence intent (granularity, interval,
// time of day, start date) into a five-field periodic trigger descriptor.
//
// Every descriptor carries the timezone it was compiled in, and the
// scheduler evaluates it with robfig/cron in that zone.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
	Year  Granularity = "year"
)

var (
	ErrGranularity = errors.New("granularity must be one of day, week, month, year")
	ErrInterval    = errors.New("interval must be at least 1")
	ErrTimeOfDay   = errors.New("time must be HH:MM")
	ErrDate        = errors.New("date must be YYYY-MM-DD or RFC3339")
	ErrEndsBefore  = errors.New("ends must be after starts")
)

// Five-field parser without seconds or descriptors: a compiled trigger is
// always a plain crontab line.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Day, Week, Month, Year:
		return g, nil
	}
	return "", ErrGranularity
}

type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS"; seconds are dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, ErrTimeOfDay
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, ErrTimeOfDay
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, ErrTimeOfDay
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseDate reads a calendar date in loc. RFC3339 timestamps are accepted
// and converted to loc before the date is taken.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ErrDate
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

// Spec is a validated recurrence intent.
type Spec struct {
	Granularity Granularity
	Interval    int
	At          TimeOfDay
	Start       time.Time
	End         *time.Time
}

func (s Spec) Validate() error {
	if _, err := ParseGranularity(string(s.Granularity)); err != nil {
		return err
	}
	if s.Interval < 1 {
		return ErrInterval
	}
	if s.End != nil && !s.End.After(s.Start) {
		return ErrEndsBefore
	}
	return nil
}

// FirstRun is the earliest instant the trigger may fire: the start date at
// the configured time of day.
func (s Spec) FirstRun() time.Time {
	return time.Date(s.Start.Year(), s.Start.Month(), s.Start.Day(), s.At.Hour, s.At.Minute, 0, 0, s.Start.Location())
}

// TriggerSpec is the canonical periodic trigger descriptor.
type TriggerSpec struct {
	Minute      string `json:"minute"`
	Hour        string `json:"hour"`
	DayOfMonth  string `json:"day_of_month"`
	MonthOfYear string `json:"month_of_year"`
	DayOfWeek   string `json:"day_of_week"`
	Timezone    string `json:"timezone"`
}

// Expression renders the standard crontab field order.
func (t TriggerSpec) Expression() string {
	return strings.Join([]string{t.Minute, t.Hour, t.DayOfMonth, t.MonthOfYear, t.DayOfWeek}, " ")
}

// Schedule parses the descriptor for evaluation in its own timezone.
func (t TriggerSpec) Schedule() (cron.Schedule, error) {
	expr := t.Expression()
	if t.Timezone != "" {
		expr = "CRON_TZ=" + t.Timezone + " " + expr
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse trigger %q: %w", expr, err)
	}
	return sched, nil
}

type Compiler struct {
	loc *time.Location
}

func NewCompiler(loc *time.Location) *Compiler {
	if loc == nil {
		loc = time.UTC
	}
	return &Compiler{loc: loc}
}

// LoadCompiler resolves an IANA zone name.
func LoadCompiler(tz string) (*Compiler, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return NewCompiler(loc), nil
}

func (c *Compiler) Location() *time.Location { return c.loc }

// Compile maps a recurrence onto the descriptor. Week and year fire once per
// week/year whatever the interval; day-of-month is copied from start as is,
// so a 31st only fires in months that have one.
func (c *Compiler) Compile(g Granularity, interval int, at TimeOfDay, start time.Time) (TriggerSpec, error) {
	if interval < 1 {
		return TriggerSpec{}, ErrInterval
	}
	start = start.In(c.loc)
	t := TriggerSpec{
		Minute:      strconv.Itoa(at.Minute),
		Hour:        strconv.Itoa(at.Hour),
		DayOfMonth:  "*",
		MonthOfYear: "*",
		DayOfWeek:   "*",
		Timezone:    c.loc.String(),
	}
	switch g {
	case Day:
		t.DayOfMonth = "*/" + strconv.Itoa(interval)
	case Week:
		t.DayOfWeek = strconv.Itoa(int(start.Weekday()))
	case Month:
		t.DayOfMonth = strconv.Itoa(start.Day())
		t.MonthOfYear = "*/" + strconv.Itoa(interval)
	case Year:
		t.DayOfMonth = strconv.Itoa(start.Day())
		t.MonthOfYear = strconv.Itoa(int(start.Month()))
	default:
		return TriggerSpec{}, ErrGranularity
	}
	return t, nil
}

// CompileSpec compiles a validated Spec.
func (c *Compiler) CompileSpec(s Spec) (TriggerSpec, error) {
	return c.Compile(s.Granularity, s.Interval, s.At, s.Start)
}

// CompileOnce pins minute, hour, day and month of at. Day-of-week stays "*"
// because cron ORs a restricted weekday with a restricted day-of-month; the
// one-off trigger's start time keeps it from firing in an earlier year.
func (c *Compiler) CompileOnce(at time.Time) TriggerSpec {
	at = at.In(c.loc)
	return TriggerSpec{
		Minute:      strconv.Itoa(at.Minute()),
		Hour:        strconv.Itoa(at.Hour()),
		DayOfMonth:  strconv.Itoa(at.Day()),
		MonthOfYear: strconv.Itoa(int(at.Month())),
		DayOfWeek:   "*",
		Timezone:    c.loc.String(),
	}
}
