package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "plannerbot/internal/log"
)

const defaultMaxOccurrences = 52

// Occurrences expands an RRULE ("FREQ=WEEKLY;COUNT=4", optionally prefixed
// with "RRULE:") anchored at start and returns the start times in
// [start, until], in start's location. At most max times are returned; a
// non-positive max uses a default cap.
func Occurrences(rule string, start, until time.Time, max int) ([]time.Time, error) {
	rule = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if rule == "" {
		return nil, errors.New("recurrence rule is empty")
	}
	if until.Before(start) {
		return nil, errors.New("recurrence range ends before it starts")
	}
	if max <= 0 {
		max = defaultMaxOccurrences
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, err
	}
	// Anchor the rule at the plan's first start, not at time.Now.
	r.DTStart(start)

	times := r.Between(start, until, true)
	if len(times) > max {
		appLog.Error("recurrence truncated", errors.New("max occurrences reached"), "rule", rule, "cap", max)
		times = times[:max]
	}
	for i := range times {
		times[i] = times[i].In(start.Location())
	}
	return times, nil
}
