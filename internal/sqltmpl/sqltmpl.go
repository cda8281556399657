// Package sqltmpl renders operator-authored SQL command templates against a
// calculated reference period. Two placeholder families are recognized:
// text tokens that vary the shape of the query (period label, month and
// season names, the focus filter fragment) and bind tokens that become
// query parameters. Scalar values are always bound, never concatenated.
//
// Substitution is purely textual and parametric; template authors remain
// responsible for overall query correctness.
package sqltmpl

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/period"
)

// Context carries the resolved values a template may reference.
type Context struct {
	Period        period.Period
	Unit          period.Unit
	PublishedDate time.Time

	// FilterValue narrows the query to one focus; empty means no filter.
	FilterValue string
	// FilterFields is the whitelist of columns :focus_filter may compare
	// FilterValue against.
	FilterFields []string
}

// identPattern is the strict identifier check for whitelisted filter
// columns. Anything else is dropped rather than interpolated.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// bindPattern matches the bind-parameter token family. Longer names come
// first so that season_year is not consumed as season.
var bindPattern = regexp.MustCompile(
	`:(period_start_date|period_end_date|published_date|previous_year|season_year|filter_value|season|month|year)\b`)

// Year returns the reference year of the context, taken from the period
// start.
func (c *Context) Year() int { return c.Period.Start.Year() }

// Month returns the reference month number.
func (c *Context) Month() int { return int(c.Period.Start.Month()) }

// Season returns the meteorological season index of the period start.
func (c *Context) Season() int { return period.SeasonOf(c.Period.Start.Month()) }

// SeasonYear returns the season-year of the period start.
func (c *Context) SeasonYear() int { return period.SeasonYear(c.Period.Start) }

// Render substitutes all placeholder tokens in a command template and
// returns the bound SQL plus its positional parameters, ready for
// parameterized execution.
func Render(tmpl string, ctx *Context) (string, []any, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", nil, fmt.Errorf("empty sql template")
	}

	sql := Normalize(tmpl)

	// Text tokens first; the focus filter may introduce a :filter_value
	// bind token that the second pass picks up. Longest names first so
	// :reference_period does not shadow its variants.
	replacer := strings.NewReplacer(
		":reference_period_month", ctx.Period.Start.Month().String(),
		":reference_period_season", period.SeasonName(ctx.Season()),
		":reference_period", period.Label(ctx.Period, ctx.Unit),
		":focus_filter", FocusFilter(ctx.FilterFields, ctx.FilterValue),
	)
	sql = replacer.Replace(sql)

	// Bind tokens become $1..$n in order of first appearance.
	var args []any
	seen := map[string]string{}

	sql = bindPattern.ReplaceAllStringFunc(sql, func(tok string) string {
		name := tok[1:]
		if ph, ok := seen[name]; ok {
			return ph
		}
		args = append(args, bindValue(name, ctx))
		ph := fmt.Sprintf("$%d", len(args))
		seen[name] = ph
		return ph
	})

	return sql, args, nil
}

// ReplaceTextTokens substitutes the text token family in a narrative
// string such as a context key, a table title or a prompt. Bind tokens are
// not tokens here; :published_date becomes its formatted date instead.
func ReplaceTextTokens(s string, ctx *Context) string {
	replacer := strings.NewReplacer(
		":reference_period_month", ctx.Period.Start.Month().String(),
		":reference_period_season", period.SeasonName(ctx.Season()),
		":reference_period", period.Label(ctx.Period, ctx.Unit),
		":published_date", ctx.PublishedDate.Format("2006-01-02"),
	)
	return replacer.Replace(s)
}

// bindValue resolves one bind token against the context.
func bindValue(name string, ctx *Context) any {
	switch name {
	case "period_start_date":
		return ctx.Period.Start
	case "period_end_date":
		return ctx.Period.End
	case "published_date":
		return ctx.PublishedDate
	case "year":
		return ctx.Year()
	case "previous_year":
		return ctx.Year() - 1
	case "month":
		return ctx.Month()
	case "season":
		return ctx.Season()
	case "season_year":
		return ctx.SeasonYear()
	case "filter_value":
		return ctx.FilterValue
	}
	return nil
}

// FocusFilter expands the :focus_filter token. Without a filter value the
// result is a no-op predicate. With one, an OR-of-equality predicate is
// built over the whitelisted columns; names failing the identifier check
// are dropped, and the value itself always stays a bind parameter.
func FocusFilter(fields []string, value string) string {
	if value == "" {
		return "1=1"
	}
	var cols []string
	for _, f := range fields {
		if identPattern.MatchString(f) {
			cols = append(cols, f)
		}
	}
	if len(cols) == 0 {
		return "1=1"
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s = :filter_value", col)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Normalize flattens an authored command: line endings become spaces,
// whitespace collapses and a trailing semicolon is removed.
func Normalize(sql string) string {
	s := strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(sql)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(strings.TrimSuffix(s, ";"))
}
