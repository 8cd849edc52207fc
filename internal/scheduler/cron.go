package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is a parsed cron field: the set of values that satisfy it.
type field map[int]bool

// cronExpr is a parsed 5-field cron expression (minute hour
// day-of-month month day-of-week).
type cronExpr struct {
	minute field
	hour   field
	dom    field
	month  field
	dow    field
}

var fieldRanges = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week (0 = Sunday)
}

// parseCron parses a 5-field expression supporting `*`, ranges `a-b`,
// lists `a,b,c`, and steps `*/n` or `a-b/n` (spec section 4.5.1).
func parseCron(expr string) (*cronExpr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("scheduler: cron expression must have 5 fields, got %d", len(parts))
	}

	fields := make([]field, 5)
	for i, part := range parts {
		f, err := parseField(part, fieldRanges[i][0], fieldRanges[i][1])
		if err != nil {
			return nil, fmt.Errorf("scheduler: field %d (%q): %w", i, part, err)
		}
		fields[i] = f
	}

	return &cronExpr{
		minute: fields[0], hour: fields[1], dom: fields[2], month: fields[3], dow: fields[4],
	}, nil
}

func parseField(part string, lo, hi int) (field, error) {
	f := make(field)
	for _, item := range strings.Split(part, ",") {
		if err := parseItem(item, lo, hi, f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func parseItem(item string, lo, hi int, out field) error {
	step := 1
	rangePart := item
	if idx := strings.IndexByte(item, '/'); idx >= 0 {
		rangePart = item[:idx]
		s, err := strconv.Atoi(item[idx+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step %q", item[idx+1:])
		}
		step = s
	}

	start, end := lo, hi
	switch {
	case rangePart == "*":
		// full range already set above
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("invalid range %q", rangePart)
		}
		start, end = a, b
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return fmt.Errorf("invalid value %q", rangePart)
		}
		start, end = v, v
	}

	if start < lo || end > hi || start > end {
		return fmt.Errorf("value out of range [%d,%d]", lo, hi)
	}
	for v := start; v <= end; v += step {
		out[v] = true
	}
	return nil
}

// next returns the smallest time strictly after from satisfying every
// field, scanning minute-by-minute up to 4 years out (a malformed
// expression that never matches is the caller's problem, not an
// infinite loop here).
func (c *cronExpr) next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(4, 0, 0)
	for t.Before(limit) {
		if c.minute[t.Minute()] && c.hour[t.Hour()] && c.month[int(t.Month())] && c.dayMatches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return limit
}

// dayMatches implements cron's historical OR-of-restricted-fields rule
// for day-of-month and day-of-week: if both are restricted (not `*`),
// a match on either field is sufficient.
func (c *cronExpr) dayMatches(t time.Time) bool {
	domAll := len(c.dom) == fieldRanges[2][1]-fieldRanges[2][0]+1
	dowAll := len(c.dow) == fieldRanges[4][1]-fieldRanges[4][0]+1

	domMatch := c.dom[t.Day()]
	dowMatch := c.dow[int(t.Weekday())]

	if domAll && dowAll {
		return true
	}
	if domAll {
		return dowMatch
	}
	if dowAll {
		return domMatch
	}
	return domMatch || dowMatch
}
