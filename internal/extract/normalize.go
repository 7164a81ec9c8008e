package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/invoice-cli/internal/model"
)

var (
	isoDate      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	namedMonth4  = regexp.MustCompile(`^(\d{1,2})[-\s./]+([A-Za-z]{3,9})[-\s./,]+(\d{4})$`)
	namedMonth2  = regexp.MustCompile(`^(\d{1,2})[-\s./]+([A-Za-z]{3,9})[-\s./,]+(\d{2})$`)
	dottedShort  = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{2})$`)
	dottedLong   = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	slashedLong  = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)
	slashedShort = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2})$`)
)

// yearPivot splits two-digit years: above it is 19xx, otherwise 20xx.
const yearPivot = 50

// NormalizeDate converts a captured date into YYYY-MM-DD. It returns ok=false
// for "due immediately" markers and for anything it cannot read as a real
// calendar date.
func NormalizeDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Contains(strings.ToLower(s), "immediate") {
		return "", false
	}

	if m := isoDate.FindStringSubmatch(s); m != nil {
		return calendarDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := namedMonth4.FindStringSubmatch(s); m != nil {
		return namedDate(m[1], m[2], atoi(m[3]))
	}
	if m := namedMonth2.FindStringSubmatch(s); m != nil {
		return namedDate(m[1], m[2], expandYear(atoi(m[3])))
	}
	if m := dottedShort.FindStringSubmatch(s); m != nil {
		return calendarDate(expandYear(atoi(m[3])), atoi(m[2]), atoi(m[1]))
	}
	if m := dottedLong.FindStringSubmatch(s); m != nil {
		return calendarDate(atoi(m[3]), atoi(m[2]), atoi(m[1]))
	}
	if m := slashedLong.FindStringSubmatch(s); m != nil {
		return calendarDate(atoi(m[3]), atoi(m[2]), atoi(m[1]))
	}
	if m := slashedShort.FindStringSubmatch(s); m != nil {
		return calendarDate(expandYear(atoi(m[3])), atoi(m[2]), atoi(m[1]))
	}
	return "", false
}

func expandYear(yy int) int {
	if yy > yearPivot {
		return 1900 + yy
	}
	return 2000 + yy
}

func namedDate(day, month string, year int) (string, bool) {
	if len(month) < 3 {
		return "", false
	}
	// Title-case so "MAY" and "may" both parse against the "Jan" layout.
	token := cases.Title(language.English).String(month)[:3]
	t, err := time.Parse("Jan", token)
	if err != nil {
		return "", false
	}
	return calendarDate(year, int(t.Month()), atoi(day))
}

func calendarDate(year, month, day int) (string, bool) {
	if month < 1 || month > 12 || day < 1 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return "", false
	}
	return t.Format(model.DateLayout), true
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

var currencyMarks = strings.NewReplacer(",", "", "₹", "", "INR", "", "Rs.", "", "Rs", "", " ", "", "\u00a0", "")

// NormalizeNumeric strips separators and currency marks and parses a decimal.
// With excludeYear, bare integers in [2020,2030] are treated as a year that
// was picked up next to an amount label.
func NormalizeNumeric(raw string, excludeYear bool) (decimal.Decimal, bool) {
	s := currencyMarks.Replace(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if excludeYear && !strings.Contains(s, ".") && d.IsInteger() {
		if y := d.IntPart(); y >= 2020 && y <= 2030 {
			return decimal.Decimal{}, false
		}
	}
	return d, true
}

// NormalizeBool reads yes/no style flags.
func NormalizeBool(raw string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", "1":
		return true, true
	case "no", "n", "false", "0":
		return false, true
	default:
		return false, false
	}
}

// NormalizeString collapses runs of whitespace.
func NormalizeString(raw string) (string, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	return s, s != ""
}

// normalize converts v to the typed value stored on a record, or nil.
func normalize(v RawValue) any {
	switch v.Kind {
	case model.KindDate:
		if s, ok := NormalizeDate(v.Text); ok {
			return s
		}
	case model.KindNumeric:
		if d, ok := NormalizeNumeric(v.Text, v.ExcludeYear); ok {
			return d
		}
	case model.KindBoolean:
		if b, ok := NormalizeBool(v.Text); ok {
			return b
		}
	default:
		if s, ok := NormalizeString(v.Text); ok {
			return s
		}
	}
	return nil
}
