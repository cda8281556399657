package period

import (
	"fmt"
	"time"
)

// Unit is the calendar unit a reference period is measured in.
type Unit string

const (
	Day    Unit = "day"
	Week   Unit = "week"
	Month  Unit = "month"
	Season Unit = "season"
	Year   Unit = "year"
)

// Direction selects which period relative to the anchor is reported on.
type Direction string

const (
	Backward Direction = "backward"
	Current  Direction = "current"
	Forward  Direction = "forward"
)

// Period is a calendar window. Start and End are pure dates (midnight UTC).
// For season units End is padded by one day so that half-open range queries
// (ts >= start AND ts < end) cover the full season.
type Period struct {
	Start time.Time
	End   time.Time
}

// shift maps a direction to a signed number of units.
func (d Direction) shift() (int, error) {
	switch d {
	case Backward:
		return -1, nil
	case Current:
		return 0, nil
	case Forward:
		return 1, nil
	}
	return 0, fmt.Errorf("unknown period direction: %q", d)
}

// Valid reports whether u is a supported unit.
func (u Unit) Valid() bool {
	switch u {
	case Day, Week, Month, Season, Year:
		return true
	}
	return false
}

// Compute resolves the reference period for an anchor date.
//
// The base period containing the anchor is computed first, then shifted by
// -1/0/+1 periods for backward/current/forward. Day and week shift by the
// unit length in days; month and year shift in calendar units so that month
// lengths and leap years stay correct. Season forward is the next season in
// the cycle; season backward is the previous occurrence of the anchor's own
// season, since the containing one is still running.
//
// For every unit except Day the anchor is advanced by one day before the
// containing-period lookup. Most-recent-data dates for non-daily cadences
// are stamped at the period's last instant (e.g. Dec 31), and without the
// advance they would resolve to the already-reported previous period.
func Compute(anchor time.Time, unit Unit, dir Direction) (Period, error) {
	n, err := dir.shift()
	if err != nil {
		return Period{}, err
	}

	day := truncate(anchor)
	if unit != Day {
		day = day.AddDate(0, 0, 1)
	}

	switch unit {
	case Day:
		d := day.AddDate(0, 0, n)
		return Period{Start: d, End: d}, nil

	case Week:
		start := mondayOf(day).AddDate(0, 0, 7*n)
		return Period{Start: start, End: start.AddDate(0, 0, 6)}, nil

	case Month:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		first = first.AddDate(0, n, 0)
		// last calendar day of the shifted month
		end := first.AddDate(0, 1, -1)
		return Period{Start: first, End: end}, nil

	case Season:
		idx, seasonYear := seasonAt(day)
		if n < 0 {
			// The anchor's season is still running, so backward names
			// the previous occurrence of the same season: the latest
			// one that has fully completed.
			seasonYear += n
		} else {
			idx, seasonYear = advanceSeason(idx, seasonYear, n)
		}
		return seasonPeriod(idx, seasonYear), nil

	case Year:
		y := day.Year() + n
		return Period{
			Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
		}, nil
	}

	return Period{}, fmt.Errorf("unknown period unit: %q", unit)
}

// truncate drops any time-of-day component and pins the date to UTC.
func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mondayOf returns the Monday of the ISO week containing d.
func mondayOf(d time.Time) time.Time {
	wd := int(d.Weekday())
	if wd == 0 { // Sunday
		wd = 7
	}
	return d.AddDate(0, 0, 1-wd)
}

// SeasonOf maps a calendar month to the meteorological season index:
// 1=Spring (Mar-May), 2=Summer (Jun-Aug), 3=Fall (Sep-Nov),
// 4=Winter (Dec-Feb).
func SeasonOf(m time.Month) int {
	switch m {
	case time.March, time.April, time.May:
		return 1
	case time.June, time.July, time.August:
		return 2
	case time.September, time.October, time.November:
		return 3
	default:
		return 4
	}
}

// SeasonYear returns the season-year a date belongs to. January and
// February count toward the winter that started the previous December.
func SeasonYear(d time.Time) int {
	if d.Month() == time.January || d.Month() == time.February {
		return d.Year() - 1
	}
	return d.Year()
}

// seasonAt resolves the season index and season-year containing d.
func seasonAt(d time.Time) (int, int) {
	return SeasonOf(d.Month()), SeasonYear(d)
}

// advanceSeason moves n seasons forward across the 4-index cycle,
// carrying the season-year when the wrap crosses 4->1.
func advanceSeason(idx, year, n int) (int, int) {
	for ; n > 0; n-- {
		idx++
		if idx > 4 {
			idx = 1
			year++
		}
	}
	return idx, year
}

// seasonPeriod builds the calendar window of one season. Winter starts in
// December of the season-year and ends in February of the following year.
// End carries the one-day pad for half-open queries.
func seasonPeriod(idx, year int) Period {
	var start, end time.Time
	switch idx {
	case 1:
		start = time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	case 2:
		start = time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(year, time.August, 31, 0, 0, 0, 0, time.UTC)
	case 3:
		start = time.Date(year, time.September, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(year, time.November, 30, 0, 0, 0, 0, time.UTC)
	default:
		start = time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC)
		end = lastOfFebruary(year + 1)
	}
	return Period{Start: start, End: end.AddDate(0, 0, 1)}
}

// lastOfFebruary is leap-year aware.
func lastOfFebruary(year int) time.Time {
	return time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// SeasonName returns the display name for a season index.
func SeasonName(idx int) string {
	switch idx {
	case 1:
		return "Spring"
	case 2:
		return "Summer"
	case 3:
		return "Fall"
	case 4:
		return "Winter"
	}
	return "Unknown"
}
