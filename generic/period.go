package generic

// =============================================================================
// WEEK - The submission period
// =============================================================================

// Week is an inclusive [Start, End] range of at most seven days. Timesheets
// are submitted and approved one week at a time.
type Week struct {
	Start Date
	End   Date
}

// NewWeek validates the bounds. It does not force Start onto a Monday;
// tenants pick their own week start.
func NewWeek(start, end Date) (Week, error) {
	if start.IsZero() || end.IsZero() {
		return Week{}, BadRequest("week start and end are required")
	}
	if end.Before(start) {
		return Week{}, BadRequest("week end %s is before week start %s", end, start)
	}
	if DaysBetween(start, end) > 6 {
		return Week{}, BadRequest("week %s to %s spans more than 7 days", start, end)
	}
	return Week{Start: start, End: end}, nil
}

// Contains returns true if d is within [Start, End].
func (w Week) Contains(d Date) bool {
	return d.AfterOrEqual(w.Start) && d.BeforeOrEqual(w.End)
}

func (w Week) String() string {
	return "[" + w.Start.String() + ", " + w.End.String() + "]"
}
