package tally

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	wireDateLayout    = "20060102"
	displayDateLayout = "02-Jan-06"
)

// FormatDate renders a date the way Tally expects it on the wire.
func FormatDate(t time.Time) string {
	return t.Format(wireDateLayout)
}

// ParseTallyDate accepts YYYYMMDD values as returned in ODBC columns.
func ParseTallyDate(s string) (time.Time, error) {
	return time.Parse(wireDateLayout, strings.TrimSpace(s))
}

// FormatDisplayDate renders DD-Mon-YY.
func FormatDisplayDate(t time.Time) string {
	return t.Format(displayDateLayout)
}

// ParseDisplayDate parses DD-Mon-YY, falling back to the wire layout.
func ParseDisplayDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(displayDateLayout, s); err == nil {
		return t, nil
	}
	return ParseTallyDate(s)
}

// displayDate converts a wire date to display form, leaving unknown formats
// untouched.
func displayDate(raw string) string {
	t, err := ParseTallyDate(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return FormatDisplayDate(t)
}

// FormatAmount renders a signed amount with two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

var amountPrinter = message.NewPrinter(language.MustParse("en-IN"))

// DisplayAmount renders an absolute amount with digit grouping for people.
func DisplayAmount(d decimal.Decimal) string {
	f, _ := d.Abs().Round(2).Float64()
	return amountPrinter.Sprintf("%.2f", f)
}

// parseAmount reads Tally amounts, tolerating grouping commas and the
// "Dr"/"Cr" suffixes some reports add.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ",", "")
	negative := false
	switch {
	case strings.HasSuffix(s, "Dr"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "Dr"))
		negative = true
	case strings.HasSuffix(s, "Cr"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "Cr"))
	}
	if s == "" {
		return decimal.Zero, nil
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Abs().Neg()
	}
	return d, nil
}
