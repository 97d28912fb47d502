package generic

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATE - Calendar day without a time component
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day, always held at UTC midnight.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping t's own calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date { return DateOf(time.Now()) }

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return Date{t: t}, nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) Time() time.Time       { return d.t }
func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) String() string        { return d.t.Format(DateLayout) }

func DaysBetween(from, to Date) int { return int(to.t.Sub(from.t).Hours() / 24) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// CLOCK TIME - Wall-clock time within a day
// =============================================================================

// ClockTime is a wall-clock time stored as seconds since midnight.
// 24:00 is accepted as the end of the day.
type ClockTime int

const endOfDay = ClockTime(24 * 60 * 60)

// ParseClock accepts HH:MM and HH:MM:SS. Each field is one or two digits
// and nothing may follow the last one.
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q (use HH:MM)", s)
	}
	var fields [3]int
	for i, part := range parts {
		n, ok := clockField(part)
		if !ok {
			return 0, fmt.Errorf("invalid time %q (use HH:MM)", s)
		}
		fields[i] = n
	}
	h, m, sec := fields[0], fields[1], fields[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid time %q (use HH:MM)", s)
	}
	c := ClockTime(h*3600 + m*60 + sec)
	if c > endOfDay {
		return 0, fmt.Errorf("invalid time %q (use HH:MM)", s)
	}
	return c, nil
}

func clockField(s string) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func (c ClockTime) String() string {
	h, m, s := int(c)/3600, int(c)%3600/60, int(c)%60
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// =============================================================================
// TIME RANGE - Half-open [Start, End) interval within one day
// =============================================================================

type TimeRange struct {
	Start ClockTime
	End   ClockTime
}

// Valid requires End strictly after Start.
func (r TimeRange) Valid() bool { return r.End > r.Start }

// Overlaps treats both ranges as half-open, so 09:00-10:00 and 10:00-11:00
// do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return o.Start < r.End && o.End > r.Start
}

func (r TimeRange) Hours() Hours {
	return NewHoursFromInt(int(r.End - r.Start)).Div(NewHoursFromInt(3600))
}

func (r TimeRange) String() string { return r.Start.String() + "-" + r.End.String() }
