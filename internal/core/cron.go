package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// previousWindows bound the backward search in Previous. The last window covers a
// full leap-year cycle so that expressions such as "0 0 29 2 *" resolve.
var previousWindows = []time.Duration{
	time.Hour,
	24 * time.Hour,
	8 * 24 * time.Hour,
	32 * 24 * time.Hour,
	367 * 24 * time.Hour,
	(4*366 + 1) * 24 * time.Hour,
}

// NormalizeExpression trims whitespace and strips escaping backslashes.
func NormalizeExpression(expr string) string {
	return strings.TrimSpace(strings.ReplaceAll(expr, `\`, ""))
}

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = NormalizeExpression(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: expression is empty", ErrInvalidExpression)
	}
	if strings.HasPrefix(expr, "@") {
		return nil, fmt.Errorf("%w %q: only 5-field cron expressions are supported", ErrInvalidExpression, expr)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	return schedule, nil
}

// Next returns the earliest instant strictly after after that matches expr.
// The expression is evaluated in after's location.
func Next(expr string, after time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return nextOf(schedule, expr, after)
}

// Previous returns the latest instant strictly before before that matches expr.
func Previous(expr string, before time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	prev, ok := previousOf(schedule, before)
	if !ok {
		return time.Time{}, fmt.Errorf("%w %q: no occurrence before %s", ErrInvalidExpression, NormalizeExpression(expr), before.Format(time.RFC3339))
	}
	return prev, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}

func nextOf(schedule cron.Schedule, expr string, after time.Time) (time.Time, error) {
	next := schedule.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w %q: expression never fires", ErrInvalidExpression, NormalizeExpression(expr))
	}
	return next, nil
}

func previousOf(schedule cron.Schedule, before time.Time) (time.Time, bool) {
	for _, window := range previousWindows {
		var prev time.Time
		for t := schedule.Next(before.Add(-window)); !t.IsZero() && t.Before(before); t = schedule.Next(t) {
			prev = t
		}
		if !prev.IsZero() {
			return prev, true
		}
	}
	return time.Time{}, false
}
