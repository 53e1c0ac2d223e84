// Package utils provides utility functions for the loan portfolio engine.
package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date layout used across the engine.
const DateLayout = "2006-01-02"

// spreadsheetEpoch is day zero of the legacy spreadsheet serial date encoding.
// No 1900 leap-year compensation is applied; downstream data assumes this.
var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var (
	numericPrefixRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
	intPrefixRe     = regexp.MustCompile(`^[+-]?\d+`)

	serialDateRe = regexp.MustCompile(`^\d{4,5}$`)
	ymdSlashRe   = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)
	dmySlashRe   = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	dmyDashRe    = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
)

// NormalizeAmount parses a money cell, handling Latin-American separators.
// Empty or unparseable input yields zero; it never fails.
func NormalizeAmount(raw string) decimal.Decimal {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, raw)
	if s == "" {
		return decimal.Zero
	}

	hasComma := strings.Contains(s, ",")
	hasPeriod := strings.Contains(s, ".")
	switch {
	case hasComma && !hasPeriod:
		s = strings.Replace(s, ",", ".", 1)
	case hasComma && hasPeriod:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	prefix := numericPrefixRe.FindString(s)
	if prefix == "" {
		return decimal.Zero
	}

	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// NormalizeDate converts the date encodings found in extracts to YYYY-MM-DD.
// Unrecognized formats are returned unchanged; empty input yields nil.
func NormalizeDate(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	var out string
	switch {
	case serialDateRe.MatchString(s):
		days, _ := strconv.Atoi(s)
		out = spreadsheetEpoch.AddDate(0, 0, days).Format(DateLayout)
	case ymdSlashRe.MatchString(s):
		m := ymdSlashRe.FindStringSubmatch(s)
		out = isoDate(m[1], m[2], m[3])
	case dmySlashRe.MatchString(s):
		m := dmySlashRe.FindStringSubmatch(s)
		out = isoDate(m[3], m[2], m[1])
	case dmyDashRe.MatchString(s):
		m := dmyDashRe.FindStringSubmatch(s)
		out = isoDate(m[3], m[2], m[1])
	default:
		out = s
	}

	return &out
}

func isoDate(year, month, day string) string {
	return year + "-" + padTwo(month) + "-" + padTwo(day)
}

func padTwo(s string) string {
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

// ParseLenientInt reads the leading integer of a cell ("45", " 12 días", "3.0").
func ParseLenientInt(raw string) (int, bool) {
	prefix := intPrefixRe.FindString(strings.TrimSpace(raw))
	if prefix == "" {
		return 0, false
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DayOfMonth extracts the day component of a normalized date string.
func DayOfMonth(date string) (int, bool) {
	s := strings.TrimSpace(date)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, "-") {
		parts := strings.Split(s, "-")
		return ParseLenientInt(parts[len(parts)-1])
	}
	if strings.Contains(s, "/") {
		// assume d/m/y
		return ParseLenientInt(strings.Split(s, "/")[0])
	}
	return 0, false
}

// TruncateToDay drops the clock part of t, keeping its location.
func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// LocalDay returns the calendar day t falls on in loc, at midnight in loc.
// A value sitting exactly on midnight of its own location is a bare date, as
// DATE columns and date-only input produce, and keeps its own day.
func LocalDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if !t.Equal(TruncateToDay(t)) {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween counts calendar days from one date to another, ignoring the clock
// and daylight-saving shifts. Negative when to is before from.
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
