package templating

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/flosch/pongo2/v6"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const shortDateLayout = "02.01.2006"

var albanianMonths = [...]string{
	"janar", "shkurt", "mars", "prill", "maj", "qershor",
	"korrik", "gusht", "shtator", "tetor", "nëntor", "dhjetor",
}

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFilters installs the legal filters into pongo2's global filter
// table. pongo2 keeps filters process-wide, so this runs once.
func registerFilters() error {
	registerOnce.Do(func() {
		pongo2.SetAutoescape(false)
		filters := map[string]pongo2.FilterFunction{
			"legal_date":       filterLegalDate,
			"legal_amount":     filterLegalAmount,
			"ordinal_number":   filterOrdinalNumber,
			"legal_reference":  filterLegalReference,
			"capitalize_legal": filterCapitalizeLegal,
		}
		for name, fn := range filters {
			if pongo2.FilterExists(name) {
				continue
			}
			if err := pongo2.RegisterFilter(name, fn); err != nil {
				registerErr = fmt.Errorf("register filter %s: %w", name, err)
				return
			}
		}
	})
	return registerErr
}

func filterLegalDate(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	format := "long"
	if !param.IsNil() && param.String() != "" {
		format = param.String()
	}
	return pongo2.AsValue(LegalDate(in.Interface(), format)), nil
}

func filterLegalAmount(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	currency := "EUR"
	if !param.IsNil() && param.String() != "" {
		currency = param.String()
	}
	return pongo2.AsValue(LegalAmount(in.Interface(), currency)), nil
}

func filterOrdinalNumber(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(OrdinalNumber(in.Interface())), nil
}

func filterLegalReference(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	law := ""
	if !param.IsNil() {
		law = param.String()
	}
	if in.IsNil() || !in.IsTrue() {
		return pongo2.AsValue(""), nil
	}
	return pongo2.AsValue(LegalReference(in.String(), law)), nil
}

func filterCapitalizeLegal(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if in.IsNil() {
		return pongo2.AsValue(""), nil
	}
	return pongo2.AsValue(CapitalizeLegal(in.String())), nil
}

// LegalDate formats a date as "short" (02.01.2006), "long" (2 janar 2006) or
// "legal" (më 02.01.2006). Strings in RFC 3339 or YYYY-MM-DD form are parsed;
// anything else is returned unchanged.
func LegalDate(value any, format string) string {
	var t time.Time
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		if v.IsZero() {
			return ""
		}
		t = v
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		t = *v
	case string:
		if v == "" {
			return ""
		}
		parsed, ok := parseDate(v)
		if !ok {
			return v
		}
		t = parsed
	default:
		return fmt.Sprint(v)
	}

	switch format {
	case "long":
		return fmt.Sprintf("%d %s %d", t.Day(), albanianMonths[t.Month()-1], t.Year())
	case "legal":
		return "më " + t.Format(shortDateLayout)
	default:
		return t.Format(shortDateLayout)
	}
}

func parseDate(value string) (time.Time, bool) {
	if strings.Contains(value, "T") {
		if t, err := time.Parse(time.RFC3339, strings.Replace(value, "Z", "+00:00", 1)); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
			return t, true
		}
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", value)
	return t, err == nil
}

// LegalAmount renders an amount with thousands separators, two decimals and
// a currency suffix: 1234.5 -> "1,234.50 EUR". Values that are not numbers
// are printed as-is.
func LegalAmount(value any, currency string) string {
	var amount decimal.Decimal
	switch v := value.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		amount = v
	case float64:
		amount = decimal.NewFromFloat(v)
	case float32:
		amount = decimal.NewFromFloat32(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	case int64:
		amount = decimal.NewFromInt(v)
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return v
		}
		amount = parsed
	default:
		return fmt.Sprint(v)
	}
	return formatAmount(amount) + " " + currency
}

func formatAmount(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	grouped := intPart
	if n, err := strconv.ParseInt(intPart, 10, 64); err == nil {
		grouped = humanize.Comma(n)
	}
	out := grouped + "." + frac
	if amount.IsNegative() && fixed != "0.00" {
		out = "-" + out
	}
	return out
}

// OrdinalNumber: 1 -> "i parë", 2 -> "i dytë", 3 -> "i tretë", n -> "i n-të".
func OrdinalNumber(value any) string {
	var n int64
	switch v := value.(type) {
	case nil:
		return ""
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		n = int64(v)
	case string:
		if v == "" {
			return ""
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return v
		}
		n = parsed
	default:
		return fmt.Sprint(v)
	}
	switch n {
	case 0:
		return ""
	case 1:
		return "i parë"
	case 2:
		return "i dytë"
	case 3:
		return "i tretë"
	default:
		return fmt.Sprintf("i %d-të", n)
	}
}

func LegalReference(article, law string) string {
	if article == "" {
		return ""
	}
	if law == "" {
		return "neni " + article
	}
	return fmt.Sprintf("neni %s të %s", article, law)
}

// CapitalizeLegal upper-cases the first letter and lower-cases the rest.
func CapitalizeLegal(value string) string {
	if value == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(value)
	head := cases.Upper(language.Albanian).String(string(first))
	tail := cases.Lower(language.Albanian).String(value[size:])
	return head + tail
}

func caseReference(uid string, year string) string {
	if year == "" || year == "0" {
		return "Rasti nr. " + uid
	}
	return fmt.Sprintf("Rasti nr. %s/%s", uid, year)
}

func legalCitation(article, law, paragraph string) string {
	citation := fmt.Sprintf("neni %s të %s", article, law)
	if paragraph != "" && paragraph != "0" {
		citation += ", paragrafi " + paragraph
	}
	return citation
}

// helpers are the callables every render sees; their names are never
// reported as template variables.
func helpers(now time.Time) pongo2.Context {
	return pongo2.Context{
		"current_date": func(args ...*pongo2.Value) string {
			format := "legal"
			if len(args) > 0 && !args[0].IsNil() {
				format = args[0].String()
			}
			return LegalDate(now, format)
		},
		"case_reference": func(uid *pongo2.Value, rest ...*pongo2.Value) string {
			year := ""
			if len(rest) > 0 && !rest[0].IsNil() {
				year = rest[0].String()
			}
			return caseReference(uid.String(), year)
		},
		"legal_citation": func(article, law *pongo2.Value, rest ...*pongo2.Value) string {
			paragraph := ""
			if len(rest) > 0 && !rest[0].IsNil() {
				paragraph = rest[0].String()
			}
			return legalCitation(article.String(), law.String(), paragraph)
		},
		"today": time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
	}
}
