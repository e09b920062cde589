// Package cron parses standard 5-field cron expressions and computes the
// next matching time. It backs the credential refresh scheduler's run loop.
package cron

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidExpression is returned when a cron expression cannot be
	// parsed due to incorrect field count, out-of-range values, or
	// malformed syntax.
	ErrInvalidExpression = errors.New("invalid cron expression")

	// ErrNoMatch is returned when Next exhausts its iteration limit without
	// finding a time that satisfies all fields.
	ErrNoMatch = errors.New("cron: no matching time found within iteration limit")
)

const fieldCount = 5

// Schedule computes the next execution time after a reference time.
type Schedule interface {
	Next(time.Time) (time.Time, error)
}

type fieldSet []int

func (fs fieldSet) contains(v int) bool {
	return slices.Contains(fs, v)
}

type schedule struct {
	minutes fieldSet
	hours   fieldSet
	doms    fieldSet
	months  fieldSet
	dows    fieldSet
}

type fieldBounds struct {
	name string
	min  int
	max  int
}

var bounds = [fieldCount]fieldBounds{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 6},
}

// Parse parses a standard cron expression of the form
// "minute hour day-of-month month day-of-week".
func Parse(expr string) (Schedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != fieldCount {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidExpression, fieldCount, len(fields))
	}

	var sets [fieldCount]fieldSet

	for i, raw := range fields {
		set, err := parseField(raw, bounds[i])
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", bounds[i].name, err)
		}

		sets[i] = set
	}

	return &schedule{
		minutes: sets[0],
		hours:   sets[1],
		doms:    sets[2],
		months:  sets[3],
		dows:    sets[4],
	}, nil
}

// Next computes the next execution time strictly after from, in UTC.
// It advances minute by minute, skipping whole months, days, and hours that
// cannot match, and returns ErrNoMatch after scanning a bit more than a year.
func (sched *schedule) Next(from time.Time) (time.Time, error) {
	from = from.UTC()
	candidate := from.Add(time.Minute).Truncate(time.Minute)

	const maxIterations = 366 * 24 * 60
	for range maxIterations {
		switch {
		case !sched.months.contains(int(candidate.Month())):
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !sched.doms.contains(candidate.Day()) || !sched.dows.contains(int(candidate.Weekday())):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		case !sched.hours.contains(candidate.Hour()):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour(), 0, 0, 0, time.UTC).Add(time.Hour)
		case !sched.minutes.contains(candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate, nil
		}
	}

	return time.Time{}, ErrNoMatch
}

func parseField(field string, b fieldBounds) (fieldSet, error) {
	var result []int

	for _, part := range strings.Split(field, ",") {
		vals, err := parsePart(part, b)
		if err != nil {
			return nil, err
		}

		result = append(result, vals...)
	}

	slices.Sort(result)

	return slices.Compact(result), nil
}

func parsePart(part string, b fieldBounds) ([]int, error) {
	rangePart, stepPart, hasStep := strings.Cut(part, "/")

	step := 1

	if hasStep {
		parsed, err := strconv.Atoi(stepPart)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%w: invalid step %q", ErrInvalidExpression, stepPart)
		}

		step = parsed
	}

	lo, hi, err := parseRange(rangePart, b, hasStep)
	if err != nil {
		return nil, err
	}

	if !hasStep && lo == hi {
		return []int{lo}, nil
	}

	vals := make([]int, 0, (hi-lo)/step+1)
	for v := lo; v <= hi; v += step {
		vals = append(vals, v)
	}

	return vals, nil
}

func parseRange(rangePart string, b fieldBounds, hasStep bool) (int, int, error) {
	if rangePart == "*" {
		return b.min, b.max, nil
	}

	if loRaw, hiRaw, isRange := strings.Cut(rangePart, "-"); isRange {
		lo, err := strconv.Atoi(loRaw)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid range start %q", ErrInvalidExpression, loRaw)
		}

		hi, err := strconv.Atoi(hiRaw)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid range end %q", ErrInvalidExpression, hiRaw)
		}

		if lo < b.min || hi > b.max || lo > hi {
			return 0, 0, fmt.Errorf("%w: range %d-%d out of bounds [%d, %d]", ErrInvalidExpression, lo, hi, b.min, b.max)
		}

		return lo, hi, nil
	}

	val, err := strconv.Atoi(rangePart)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid value %q", ErrInvalidExpression, rangePart)
	}

	if val < b.min || val > b.max {
		return 0, 0, fmt.Errorf("%w: value %d out of bounds [%d, %d]", ErrInvalidExpression, val, b.min, b.max)
	}

	if hasStep {
		// "N/step" means start at N and repeat through the field maximum.
		return val, b.max, nil
	}

	return val, val, nil
}
