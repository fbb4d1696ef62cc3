package utils

import (
	"time"

	"github.com/scmhub/calendar"
)

// BusinessCalendar answers business-day questions for the business-day quick
// intervals, backed by scmhub/calendar.
type BusinessCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// GetBusinessCalendar returns the calendar for an ISO 10383 MIC code
// (e.g. "xnys"). Empty or unknown codes fall back to a simple Mon-Fri
// calendar in the given location.
func GetBusinessCalendar(mic string, loc *time.Location) *BusinessCalendar {
	if loc == nil {
		loc = time.Local
	}
	if mic == "" {
		return &BusinessCalendar{Fallback: true, Timezone: loc}
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		return &BusinessCalendar{Fallback: true, Timezone: loc}
	}
	return &BusinessCalendar{Calendar: cal, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

// IsBusinessDay reports whether the date is a business day.
func (bc *BusinessCalendar) IsBusinessDay(date time.Time) bool {
	if bc.Timezone != nil {
		date = date.In(bc.Timezone)
	}
	if bc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return bc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// CurrentBusinessDayStart returns the start of the most recent business day
// at or before t.
func (bc *BusinessCalendar) CurrentBusinessDayStart(t time.Time) time.Time {
	if bc.Timezone != nil {
		t = t.In(bc.Timezone)
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for !bc.IsBusinessDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// -----------------------------------------------------------------------------

// PreviousBusinessDay returns the [start, end) range of the business day
// before the most recent one.
func (bc *BusinessCalendar) PreviousBusinessDay(t time.Time) (time.Time, time.Time) {
	current := bc.CurrentBusinessDayStart(t)
	day := current.AddDate(0, 0, -1)
	for !bc.IsBusinessDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day, day.AddDate(0, 0, 1)
}
