package period

import "fmt"

// Label renders the human-readable expression of a period, used in story
// titles and as the :reference_period substitution value.
func Label(p Period, unit Unit) string {
	switch unit {
	case Day:
		return p.Start.Format("2006-01-02")
	case Week:
		return fmt.Sprintf("%s - %s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	case Month:
		return fmt.Sprintf("%s %d", p.Start.Month().String(), p.Start.Year())
	case Season:
		// the season-year is the year the season started in
		return fmt.Sprintf("%s %d", SeasonName(SeasonOf(p.Start.Month())), p.Start.Year())
	case Year:
		return fmt.Sprintf("%d", p.Start.Year())
	}
	return p.Start.Format("2006-01-02")
}
