package period

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		anchor    time.Time
		unit      Unit
		dir       Direction
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:   "previous winter from mid january",
			anchor: date(2026, time.January, 20),
			unit:   Season, dir: Backward,
			wantStart: date(2024, time.December, 1),
			wantEnd:   date(2025, time.March, 1), // end exclusive via +1 day pad
		},
		{
			name:   "previous summer from mid august",
			anchor: date(2026, time.August, 10),
			unit:   Season, dir: Backward,
			wantStart: date(2025, time.June, 1),
			wantEnd:   date(2025, time.September, 1),
		},
		{
			name:   "previous month non leap february",
			anchor: date(2026, time.March, 1),
			unit:   Month, dir: Backward,
			wantStart: date(2026, time.February, 1),
			wantEnd:   date(2026, time.February, 28),
		},
		{
			name:   "previous month leap february",
			anchor: date(2024, time.March, 1),
			unit:   Month, dir: Backward,
			wantStart: date(2024, time.February, 1),
			wantEnd:   date(2024, time.February, 29),
		},
		{
			name:   "previous day",
			anchor: date(2026, time.March, 1),
			unit:   Day, dir: Backward,
			wantStart: date(2026, time.February, 28),
			wantEnd:   date(2026, time.February, 28),
		},
		{
			name:   "current day keeps anchor",
			anchor: date(2026, time.July, 14),
			unit:   Day, dir: Current,
			wantStart: date(2026, time.July, 14),
			wantEnd:   date(2026, time.July, 14),
		},
		{
			name:   "previous week is monday to sunday",
			anchor: date(2026, time.January, 21), // Wednesday; advanced to Thursday
			unit:   Week, dir: Backward,
			wantStart: date(2026, time.January, 12),
			wantEnd:   date(2026, time.January, 18),
		},
		{
			name:   "week containing a sunday anchor",
			anchor: date(2026, time.January, 17), // Saturday; advanced to Sunday Jan 18
			unit:   Week, dir: Current,
			wantStart: date(2026, time.January, 12),
			wantEnd:   date(2026, time.January, 18),
		},
		{
			name:   "forward month across year boundary",
			anchor: date(2025, time.December, 15),
			unit:   Month, dir: Forward,
			wantStart: date(2026, time.January, 1),
			wantEnd:   date(2026, time.January, 31),
		},
		{
			name:   "month shift respects 30 day months",
			anchor: date(2026, time.May, 10),
			unit:   Month, dir: Backward,
			wantStart: date(2026, time.April, 1),
			wantEnd:   date(2026, time.April, 30),
		},
		{
			name:   "current season mid summer",
			anchor: date(2026, time.July, 10),
			unit:   Season, dir: Current,
			wantStart: date(2026, time.June, 1),
			wantEnd:   date(2026, time.September, 1),
		},
		{
			name:   "forward season wraps fall to winter",
			anchor: date(2026, time.October, 10),
			unit:   Season, dir: Forward,
			wantStart: date(2026, time.December, 1),
			wantEnd:   date(2027, time.March, 1),
		},
		{
			name:   "winter season end is leap aware",
			anchor: date(2024, time.January, 15),
			unit:   Season, dir: Current,
			wantStart: date(2023, time.December, 1),
			wantEnd:   date(2024, time.March, 1), // Feb 29 + 1 day pad
		},
		{
			name:   "previous year",
			anchor: date(2026, time.January, 1),
			unit:   Year, dir: Backward,
			wantStart: date(2025, time.January, 1),
			wantEnd:   date(2025, time.December, 31),
		},
		{
			name:   "previous year is calendar arithmetic not 365 days",
			anchor: date(2025, time.June, 30),
			unit:   Year, dir: Backward,
			wantStart: date(2024, time.January, 1),
			wantEnd:   date(2024, time.December, 31),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.anchor, tt.unit, tt.dir)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if !got.Start.Equal(tt.wantStart) {
				t.Errorf("start = %s, want %s", got.Start.Format("2006-01-02"), tt.wantStart.Format("2006-01-02"))
			}
			if !got.End.Equal(tt.wantEnd) {
				t.Errorf("end = %s, want %s", got.End.Format("2006-01-02"), tt.wantEnd.Format("2006-01-02"))
			}
		})
	}
}

// A most-recent-data date of Dec 31 must resolve to the period that just
// ended, not to the one before it. This is the one-day anchor advance for
// non-daily units; dropping it silently regenerates the previous period.
func TestComputeAnchorAdvance(t *testing.T) {
	got, err := Compute(date(2025, time.December, 31), Month, Backward)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if !got.Start.Equal(date(2025, time.December, 1)) || !got.End.Equal(date(2025, time.December, 31)) {
		t.Errorf("month backward from Dec 31 = %s..%s, want 2025-12-01..2025-12-31",
			got.Start.Format("2006-01-02"), got.End.Format("2006-01-02"))
	}

	got, err = Compute(date(2025, time.December, 31), Year, Backward)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if got.Start.Year() != 2025 {
		t.Errorf("year backward from Dec 31 starts %d, want 2025", got.Start.Year())
	}

	// Day units do not advance: yesterday's data names yesterday.
	got, err = Compute(date(2025, time.December, 31), Day, Current)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if !got.Start.Equal(date(2025, time.December, 31)) {
		t.Errorf("day current from Dec 31 = %s, want 2025-12-31", got.Start.Format("2006-01-02"))
	}
}

func TestComputeNormalizesTimeOfDay(t *testing.T) {
	anchor := time.Date(2026, time.April, 3, 17, 45, 12, 0, time.UTC)
	got, err := Compute(anchor, Day, Current)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if got.Start.Hour() != 0 || got.Start.Minute() != 0 {
		t.Errorf("start carries time of day: %s", got.Start)
	}
}

func TestComputeRejectsUnknownInput(t *testing.T) {
	if _, err := Compute(date(2026, time.January, 1), Unit("decade"), Current); err == nil {
		t.Error("expected error for unknown unit")
	}
	if _, err := Compute(date(2026, time.January, 1), Month, Direction("sideways")); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestSeasonHelpers(t *testing.T) {
	if got := SeasonOf(time.December); got != 4 {
		t.Errorf("SeasonOf(December) = %d, want 4", got)
	}
	if got := SeasonOf(time.March); got != 1 {
		t.Errorf("SeasonOf(March) = %d, want 1", got)
	}
	if got := SeasonYear(date(2026, time.February, 10)); got != 2025 {
		t.Errorf("SeasonYear(Feb 2026) = %d, want 2025", got)
	}
	if got := SeasonYear(date(2026, time.December, 10)); got != 2026 {
		t.Errorf("SeasonYear(Dec 2026) = %d, want 2026", got)
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		name string
		p    Period
		unit Unit
		want string
	}{
		{"day", Period{Start: date(2026, time.January, 20), End: date(2026, time.January, 20)}, Day, "2026-01-20"},
		{"week", Period{Start: date(2026, time.January, 12), End: date(2026, time.January, 18)}, Week, "2026-01-12 - 2026-01-18"},
		{"month", Period{Start: date(2026, time.February, 1), End: date(2026, time.February, 28)}, Month, "February 2026"},
		{"winter season named by starting year", Period{Start: date(2024, time.December, 1), End: date(2025, time.March, 1)}, Season, "Winter 2024"},
		{"year", Period{Start: date(2025, time.January, 1), End: date(2025, time.December, 31)}, Year, "2025"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Label(tt.p, tt.unit); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}
