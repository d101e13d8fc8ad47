package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed wall-clock schedule expression. The expression is a
// whitespace-separated sequence of positional fields, each either `*` or a
// concrete constraint. Constraints are recognized by shape: a weekday name
// (Mon, tuesday, ...), a month name (Jan, december, ...), an integer
// day-of-month (1-31), and exactly one time-of-day (8:00AM, 17:30).
type Schedule struct {
	expr    string
	hour    int
	minute  int
	weekday *time.Weekday
	month   *time.Month
	day     *int
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// ParseSchedule parses a schedule expression.
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return nil, fmt.Errorf("invalid schedule %q: empty expression", expr)
	}

	s := &Schedule{expr: expr, hour: -1}
	for _, field := range fields {
		if field == "*" {
			continue
		}

		lower := strings.ToLower(field)
		if wd, ok := weekdayNames[lower]; ok {
			if s.weekday != nil {
				return nil, fmt.Errorf("invalid schedule %q: duplicate weekday field", expr)
			}
			s.weekday = &wd
			continue
		}
		if m, ok := monthNames[lower]; ok {
			if s.month != nil {
				return nil, fmt.Errorf("invalid schedule %q: duplicate month field", expr)
			}
			s.month = &m
			continue
		}
		if n, err := strconv.Atoi(field); err == nil {
			if n < 1 || n > 31 {
				return nil, fmt.Errorf("invalid schedule %q: day-of-month %d out of range", expr, n)
			}
			if s.day != nil {
				return nil, fmt.Errorf("invalid schedule %q: duplicate day-of-month field", expr)
			}
			s.day = &n
			continue
		}
		hour, minute, err := parseTimeOfDay(field)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
		}
		if s.hour >= 0 {
			return nil, fmt.Errorf("invalid schedule %q: duplicate time-of-day field", expr)
		}
		s.hour, s.minute = hour, minute
	}

	if s.hour < 0 {
		return nil, fmt.Errorf("invalid schedule %q: exactly one time-of-day field is required", expr)
	}
	return s, nil
}

// parseTimeOfDay parses "8:00AM", "12:15pm" or 24-hour "17:30".
func parseTimeOfDay(field string) (hour, minute int, err error) {
	lower := strings.ToLower(field)
	meridiem := ""
	if strings.HasSuffix(lower, "am") || strings.HasSuffix(lower, "pm") {
		meridiem = lower[len(lower)-2:]
		lower = lower[:len(lower)-2]
	}

	parts := strings.Split(lower, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unrecognized field %q", field)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unrecognized field %q", field)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("unrecognized field %q", field)
	}

	switch meridiem {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("hour out of range in %q", field)
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("hour out of range in %q", field)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour < 0 || hour > 23 {
			return 0, 0, fmt.Errorf("hour out of range in %q", field)
		}
	}
	return hour, minute, nil
}

// Next returns the next wall-clock instant strictly after t that satisfies
// every concrete field.
func (s *Schedule) Next(t time.Time) time.Time {
	// Walk forward day by day; the time-of-day field pins the candidate
	// within each day. Four years bounds the search even for Feb 29
	// style day/month combinations.
	for add := 0; add < 4*366; add++ {
		day := t.AddDate(0, 0, add)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), s.hour, s.minute, 0, 0, t.Location())
		if !candidate.After(t) {
			continue
		}
		if s.weekday != nil && candidate.Weekday() != *s.weekday {
			continue
		}
		if s.day != nil && candidate.Day() != *s.day {
			continue
		}
		if s.month != nil && candidate.Month() != *s.month {
			continue
		}
		return candidate
	}
	return time.Time{}
}

// String returns the original expression.
func (s *Schedule) String() string {
	return s.expr
}
