/*
Package generic provides the primitives shared by the timesheet and TOIL packages.

PURPOSE:
  Domain-agnostic value types for logging time and keeping hour balances.
  Nothing here knows about submissions, approvals or tenants; the
  timesheet and toil packages build those rules on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Hours: A decimal quantity of hours (7.5h, 0.25h, 40h)
  - Epsilon: Tolerance used when comparing balances against requests

DESIGN PRINCIPLES:
  1. Precision: Hours use decimal.Decimal so 0.1 + 0.2 == 0.3
  2. Value semantics: Hours is a small struct, pass it by value
  3. Wire friendly: Hours marshals as a JSON number and accepts
     numbers or numeric strings on input

USAGE:
  logged := generic.NewHours(40)
  contracted := generic.NewHours(37.5)
  overtime := logged.Sub(contracted).Max(generic.ZeroHours) // 2.5h

SEE ALSO:
  - time.go: Date, ClockTime, TimeRange
  - period.go: Week
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOURS - Decimal quantity of time
// =============================================================================

// Hours is a quantity of hours backed by a decimal.
type Hours struct {
	Value decimal.Decimal
}

// ZeroHours is the additive identity.
var ZeroHours = Hours{Value: decimal.Zero}

// Epsilon is the tolerance applied when checking a balance against a request.
var Epsilon = decimal.New(1, -6)

// HoursPerDay converts TOIL hours into days for display.
var HoursPerDay = MustParseHours("7.5")

// DailyLimit is the maximum number of hours a user can log on one calendar day.
var DailyLimit = MustParseHours("24")

func NewHours(value float64) Hours { return Hours{Value: decimal.NewFromFloat(value)} }

func NewHoursFromInt(value int) Hours { return Hours{Value: decimal.NewFromInt(int64(value))} }

func ParseHours(s string) (Hours, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid hours %q: %w", s, err)
	}
	return Hours{Value: d}, nil
}

// MustParseHours panics on malformed input. For package-level constants.
func MustParseHours(s string) Hours {
	h, err := ParseHours(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hours) Add(o Hours) Hours        { return Hours{Value: h.Value.Add(o.Value)} }
func (h Hours) Sub(o Hours) Hours        { return Hours{Value: h.Value.Sub(o.Value)} }
func (h Hours) Abs() Hours               { return Hours{Value: h.Value.Abs()} }
func (h Hours) Div(o Hours) Hours        { return Hours{Value: h.Value.DivRound(o.Value, 4)} }
func (h Hours) IsZero() bool             { return h.Value.IsZero() }
func (h Hours) IsPositive() bool         { return h.Value.IsPositive() }
func (h Hours) IsNegative() bool         { return h.Value.IsNegative() }
func (h Hours) Equal(o Hours) bool       { return h.Value.Equal(o.Value) }
func (h Hours) GreaterThan(o Hours) bool { return h.Value.GreaterThan(o.Value) }
func (h Hours) LessThan(o Hours) bool    { return h.Value.LessThan(o.Value) }
func (h Hours) Round(places int32) Hours { return Hours{Value: h.Value.Round(places)} }
func (h Hours) String() string           { return h.Value.String() }

func (h Hours) Max(o Hours) Hours {
	if h.GreaterThan(o) {
		return h
	}
	return o
}

// Covers reports whether h is enough to pay for req, allowing Epsilon of
// rounding slack.
func (h Hours) Covers(req Hours) bool {
	return !h.Value.LessThan(req.Value.Sub(Epsilon))
}

// MarshalJSON writes hours as a bare JSON number.
func (h Hours) MarshalJSON() ([]byte, error) {
	return []byte(h.Value.String()), nil
}

// UnmarshalJSON accepts 7.5 and "7.5".
func (h *Hours) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid hours: %w", err)
	}
	h.Value = d
	return nil
}
