package sanitize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// spanishMonths maps the abbreviations the CNV portal uses. "sep" has been
// seen as both "sep" and "sept".
var spanishMonths = map[string]time.Month{
	"ene": time.January, "feb": time.February, "mar": time.March,
	"abr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "ago": time.August, "sep": time.September,
	"sept": time.September, "oct": time.October, "nov": time.November,
	"dic": time.December,
}

// ParseSpanishDate parses portal dates like "3 jun 2024" or "28 jun. 2024".
func ParseSpanishDate(s string) (time.Time, error) {
	day, month, year, rest, err := parseSpanishParts(s)
	if err != nil {
		return time.Time{}, err
	}
	if rest != "" {
		return time.Time{}, fmt.Errorf("sanitize: trailing content %q in date %q", rest, s)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// ParseSpanishDateTime parses portal reception stamps like "3 jun 2024 14:05".
func ParseSpanishDateTime(s string) (time.Time, error) {
	day, month, year, rest, err := parseSpanishParts(s)
	if err != nil {
		return time.Time{}, err
	}
	hhmm := strings.Split(rest, ":")
	if len(hhmm) != 2 {
		return time.Time{}, fmt.Errorf("sanitize: missing time in %q", s)
	}
	hour, err1 := strconv.Atoi(hhmm[0])
	min, err2 := strconv.Atoi(hhmm[1])
	if err1 != nil || err2 != nil || hour > 23 || min > 59 {
		return time.Time{}, fmt.Errorf("sanitize: bad time in %q", s)
	}
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC), nil
}

func parseSpanishParts(s string) (day int, month time.Month, year int, rest string, err error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 3 {
		return 0, 0, 0, "", fmt.Errorf("sanitize: not a spanish date: %q", s)
	}

	day, err = strconv.Atoi(fields[0])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, 0, "", fmt.Errorf("sanitize: bad day in %q", s)
	}

	monthKey := strings.ToLower(strings.TrimSuffix(fields[1], "."))
	month, ok := spanishMonths[monthKey]
	if !ok {
		return 0, 0, 0, "", fmt.Errorf("sanitize: unknown month %q in %q", fields[1], s)
	}

	year, err = strconv.Atoi(fields[2])
	if err != nil || year < 1900 {
		return 0, 0, 0, "", fmt.Errorf("sanitize: bad year in %q", s)
	}

	return day, month, year, strings.Join(fields[3:], " "), nil
}

// subjectDatePattern matches the as-of token FIMA embeds in mail subjects,
// e.g. "28-06-2024", "28/06/24", "3-6-24".
var subjectDatePattern = regexp.MustCompile(`\d{1,2}[-/]\d{1,2}[-/]\d{2,4}`)

// SubjectDateToken extracts the first day-month-year token from free text.
// Returns the empty string when no token is present.
func SubjectDateToken(s string) string {
	return subjectDatePattern.FindString(s)
}

// ParseDayMonthYear parses a subject token, trying a 4-digit year first and
// falling back to 2 digits. Both "-" and "/" separators are accepted.
func ParseDayMonthYear(s string) (time.Time, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
	for _, layoutStr := range []string{"2-1-2006", "02-01-2006", "2-1-06", "02-01-06"} {
		if t, err := time.Parse(layoutStr, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("sanitize: unparseable day-month-year token %q", s)
}

// sheetDateLayouts are the renderings observed for the embedded as-of cell
// in FIMA sheets, depending on how the cell was formatted.
var sheetDateLayouts = []string{
	"02/01/2006", "2/1/2006", "02/01/06",
	"02-01-2006", "02-01-06", "2006-01-02",
	"01-02-06 15:04:05", // tealeg's rendering of an unformatted datetime cell
}

// ParseSheetDate leniently parses the embedded as-of cell. The embedded date
// is optional, so failure yields nil rather than an error.
func ParseSheetDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layoutStr := range sheetDateLayouts {
		if t, err := time.Parse(layoutStr, s); err == nil {
			return &t
		}
	}
	return nil
}
