package sheet

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParsePrice reads a human-typed money value. Currency symbols, whitespace and
// thousands separators are ignored; "12,50" is read as a decimal comma. Blank
// or unreadable input returns nil, which means "not specified" rather than zero.
func ParsePrice(s string) *decimal.Decimal {
	clean := cleanNumber(s)
	if clean == "" {
		return nil
	}

	lastComma := strings.LastIndex(clean, ",")
	lastDot := strings.LastIndex(clean, ".")
	if lastComma > lastDot && len(clean)-lastComma-1 == 2 {
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	} else {
		clean = strings.ReplaceAll(clean, ",", "")
	}
	if strings.Count(clean, ",")+strings.Count(clean, ".") > 1 {
		return nil
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil
	}
	return &d
}

// cleanNumber keeps digits, separators and a leading minus sign. Symbols and
// words may surround the number but not sit inside it: "12abc34" is garbage.
func cleanNumber(s string) string {
	var b strings.Builder
	digits, junk := false, false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsDigit(r):
			if junk {
				return ""
			}
			digits = true
			b.WriteRune(r)
		case r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'':
			// thousands grouping
		default:
			if digits {
				junk = true
			}
		}
	}
	out := b.String()
	if strings.Trim(out, "-.,") == "" {
		return ""
	}
	return out
}

func parseQuantity(s string) *int {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if clean == "" {
		return nil
	}
	n, err := strconv.Atoi(clean)
	if err != nil {
		// Spreadsheet tools like to turn 3 into 3.0.
		d, derr := decimal.NewFromString(clean)
		if derr != nil || !d.Equal(d.Truncate(0)) {
			return nil
		}
		n = int(d.IntPart())
	}
	if n < 0 {
		return nil
	}
	return &n
}

func parseID(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		return id
	}
	if d, err := decimal.NewFromString(s); err == nil && d.IsPositive() && d.Equal(d.Truncate(0)) {
		return d.IntPart()
	}
	return 0
}

func parseIDList(s string) []int64 {
	var out []int64
	for _, p := range strings.Split(s, ",") {
		if id := parseID(p); id != 0 {
			out = append(out, id)
		}
	}
	return out
}
