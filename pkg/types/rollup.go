package types

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// Rollup selects how values are summarized per bucket
type Rollup int

const (
	RollupNone Rollup = iota
	RollupAverage
	RollupMin
	RollupMax
	RollupSum
	RollupCount
	RollupFirst
	RollupLast
	RollupIntegral
	RollupArithmeticMean
	// RollupCalendar emits every statistic on calendar aligned buckets
	RollupCalendar
)

var rollupNames = []string{
	"NONE",
	"AVERAGE",
	"MIN",
	"MAX",
	"SUM",
	"COUNT",
	"FIRST",
	"LAST",
	"INTEGRAL",
	"ARITHMETIC_MEAN",
	"CALENDAR",
}

func (r Rollup) String() string {
	if r >= 0 && int(r) < len(rollupNames) {
		return rollupNames[r]
	}
	return "Rollup(" + strconv.Itoa(int(r)) + ")"
}

// ParseRollup parses a rollup name, case-insensitively. The empty string is NONE.
func ParseRollup(s string) (Rollup, error) {
	if s == "" {
		return RollupNone, nil
	}
	for i, name := range rollupNames {
		if strings.EqualFold(name, s) {
			return Rollup(i), nil
		}
	}
	return RollupNone, ConfigError("rollup", s, "unknown rollup")
}

// MarshalText implements encoding.TextMarshaler
func (r Rollup) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Rollup) UnmarshalText(b []byte) error {
	parsed, err := ParseRollup(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// PeriodUnit is the unit of a rollup interval
type PeriodUnit int

const (
	Milliseconds PeriodUnit = iota
	Seconds
	Minutes
	Hours
	Days
	Weeks
	Months
	Years
)

var unitNames = []string{
	"MILLISECONDS",
	"SECONDS",
	"MINUTES",
	"HOURS",
	"DAYS",
	"WEEKS",
	"MONTHS",
	"YEARS",
}

var unitDurations = []time.Duration{
	time.Millisecond,
	time.Second,
	time.Minute,
	time.Hour,
}

func (u PeriodUnit) String() string {
	if u >= 0 && int(u) < len(unitNames) {
		return unitNames[u]
	}
	return "PeriodUnit(" + strconv.Itoa(int(u)) + ")"
}

// IsCalendar reports whether the unit length depends on the calendar
func (u PeriodUnit) IsCalendar() bool {
	return u >= Days
}

func parseUnit(s string) (PeriodUnit, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range unitNames {
		// accept singular forms: MINUTE, DAY
		if s == name || s+"S" == name {
			return PeriodUnit(i), true
		}
	}
	return 0, false
}

// Interval is a rollup period such as 15 MINUTES or 1 MONTHS
type Interval struct {
	Count int
	Unit  PeriodUnit
}

func (i Interval) String() string {
	return strconv.Itoa(i.Count) + " " + i.Unit.String()
}

// IsZero reports whether no interval was configured
func (i Interval) IsZero() bool {
	return i.Count == 0
}

// Duration returns the fixed length of the interval. Calendar units are
// approximated with 24 hour days; use a calendar bucket calculator for exact
// boundaries.
func (i Interval) Duration() time.Duration {
	if int(i.Unit) < len(unitDurations) {
		return time.Duration(i.Count) * unitDurations[i.Unit]
	}
	day := 24 * time.Hour
	switch i.Unit {
	case Days:
		return time.Duration(i.Count) * day
	case Weeks:
		return time.Duration(i.Count) * 7 * day
	case Months:
		return time.Duration(i.Count) * 30 * day
	default:
		return time.Duration(i.Count) * 365 * day
	}
}

// ParseInterval accepts "15 MINUTES", "1 day" or an ISO 8601 duration such
// as "PT15M" or "P1M".
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Interval{}, nil
	}
	if s[0] == 'P' || s[0] == 'p' {
		return parseISOInterval(s)
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Interval{}, ConfigError("rollupInterval", s, "expected <count> <unit>")
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count <= 0 {
		return Interval{}, ConfigError("rollupInterval", s, "count must be a positive integer")
	}
	unit, ok := parseUnit(fields[1])
	if !ok {
		return Interval{}, ConfigError("rollupInterval", s, "unknown period unit")
	}
	return Interval{Count: count, Unit: unit}, nil
}

func parseISOInterval(s string) (Interval, error) {
	d, err := duration.Parse(strings.ToUpper(s))
	if err != nil {
		return Interval{}, &Error{
			Message:       "invalid ISO 8601 duration",
			Kind:          ConfigurationInvalid,
			PropertyName:  "rollupInterval",
			PropertyValue: s,
			NestedError:   err,
		}
	}
	if d.Negative {
		return Interval{}, ConfigError("rollupInterval", s, "interval must be positive")
	}

	// A single whole component keeps its unit so calendar periods stay calendar aware.
	parts := []struct {
		v    float64
		unit PeriodUnit
	}{
		{d.Years, Years},
		{d.Months, Months},
		{d.Weeks, Weeks},
		{d.Days, Days},
		{d.Hours, Hours},
		{d.Minutes, Minutes},
		{d.Seconds, Seconds},
	}
	var found []int
	for i, p := range parts {
		if p.v != 0 {
			found = append(found, i)
		}
	}
	if len(found) == 1 {
		p := parts[found[0]]
		if p.v == math.Trunc(p.v) && p.v > 0 {
			return Interval{Count: int(p.v), Unit: p.unit}, nil
		}
	}

	ms := d.ToTimeDuration().Milliseconds()
	if ms <= 0 {
		return Interval{}, ConfigError("rollupInterval", s, "interval must be positive")
	}
	return Interval{Count: int(ms), Unit: Milliseconds}, nil
}
