// Package calendar counts working days on a Monday–Friday calendar with an
// optional set of holidays.
package calendar

import "time"

// Calendar is safe for concurrent use once built.
type Calendar struct {
	loc      *time.Location
	holidays map[civilDate]bool
}

type civilDate struct {
	y int
	m time.Month
	d int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

// New builds a calendar whose dates are taken in loc (UTC when nil). Holidays are
// compared by calendar date only.
func New(loc *time.Location, holidays ...time.Time) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{loc: loc, holidays: make(map[civilDate]bool, len(holidays))}
	for _, h := range holidays {
		c.holidays[dateOf(h)] = true
	}
	return c
}

// Default is a Mon–Fri UTC calendar without holidays.
func Default() *Calendar { return New(time.UTC) }

func (c *Calendar) Location() *time.Location { return c.loc }

// IsWorkday reports whether t's calendar date is Mon–Fri and not a holiday.
func (c *Calendar) IsWorkday(t time.Time) bool {
	t = t.In(c.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[dateOf(t)]
}

// Date truncates t to midnight of its calendar date in the calendar location.
func (c *Calendar) Date(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// BusinessDays counts working days d with date(start) < d <= date(end): the
// start date is excluded and the end date included, so it is not a strictly
// between count. For weekday endpoints it equals the count over [start, end).
// Same-day and reversed ranges count zero.
func (c *Calendar) BusinessDays(start, end time.Time) int {
	from := c.Date(start)
	to := c.Date(end)
	if !to.After(from) {
		return 0
	}
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsWorkday(d) {
			n++
		}
	}
	return n
}

// DaysBetween is the calendar-day difference between the dates of start and end.
func (c *Calendar) DaysBetween(start, end time.Time) int {
	from := c.Date(start)
	to := c.Date(end)
	// Noon avoids DST edges when converting the span to whole days.
	a := time.Date(from.Year(), from.Month(), from.Day(), 12, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 12, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// AddBusinessDays returns the date n working days after start's date.
func (c *Calendar) AddBusinessDays(start time.Time, n int) time.Time {
	d := c.Date(start)
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if c.IsWorkday(d) {
			n--
		}
	}
	return d
}
