package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ValidateDaily reports whether s is a usable HH:MM daily time.
func ValidateDaily(s string) error {
	_, _, err := parseHHMM(s)
	return err
}

func cronSpec(hour, minute int) string { return fmt.Sprintf("%d %d * * *", minute, hour) }

// lastOccurrence returns the latest hh:mm in loc that is not after now.
func lastOccurrence(now time.Time, hour, minute int, loc *time.Location) time.Time {
	n := now.In(loc)
	due := time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, loc)
	if due.After(n) {
		y := n.AddDate(0, 0, -1)
		due = time.Date(y.Year(), y.Month(), y.Day(), hour, minute, 0, 0, loc)
	}
	return due
}

// decideRun applies the misfire rules to one occurrence. lastRun is the
// occurrence recorded by the previous run (zero when hasLast is false).
func decideRun(now, due, lastRun time.Time, hasLast bool, grace time.Duration) Result {
	if grace <= 0 {
		grace = DefaultGrace
	}
	switch {
	case hasLast && !lastRun.Before(due):
		return ResultAlreadyDone
	case now.Before(due):
		return ResultNotDue
	case now.Sub(due) > grace:
		return ResultMissedGrace
	default:
		return ResultRan
	}
}
