package contact

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the downstream datetime format, always UTC
const DateLayout = "2006-01-02 15:04:05"

const (
	maxStatusLen     = 50
	maxCategoriesLen = 2000
	maxProductsLen   = 4000
	maxTextLen       = 255
)

// aliases maps accepted payload keys to downstream field aliases
var aliases = map[string]string{
	"firstname":                "firstname",
	"lastname":                 "lastname",
	"email":                    "email",
	"phone":                    "phone",
	"last_order_id":            "last_order_id",
	"last_order_amount":        "last_order_amount",
	"historic_purch_amount":    "historic_purch_amoun",
	"historic_purch_amoun":     "historic_purch_amoun",
	"historic_purchase_amount": "historic_purch_amoun",
	"historic_purch_count":     "historic_purch_event",
	"historic_purch_event":     "historic_purch_event",
	"historic_purchase_count":  "historic_purch_event",
	"last_order_status":        "last_order_status",
	"status":                   "last_order_status",
	"order_status":             "last_order_status",
	"wc_status":                "last_order_status",
	"last_status":              "last_order_status",
	"last_purchase_date":       "last_purchase_date",
	"last_ord_prod_cat":        "last_ord_prod_cat",
	"last_order_categories":    "last_ord_prod_cat",
	"last_ord_products":        "last_ord_products",
	"last_order_products":      "last_ord_products",
}

var denied = map[string]bool{
	"last_order_currency": true,
	"last_order_json":     true,
}

// Remap keeps the whitelisted keys under their downstream alias and
// sanitizes each value by type. Unknown and denied keys are dropped, as are
// values that end up empty or invalid.
func Remap(fields map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range fields {
		if denied[k] {
			continue
		}
		alias, ok := aliases[k]
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr {
			v = html.UnescapeString(s)
		}

		var val any
		switch alias {
		case "last_order_amount", "historic_purch_amoun":
			d, ok := toDecimal(v)
			if !ok {
				continue
			}
			val = FormatAmount(d)
		case "historic_purch_event":
			n, ok := toInt(v)
			if !ok {
				continue
			}
			val = n
		case "last_purchase_date":
			t, ok := toTime(v)
			if !ok {
				continue
			}
			val = t.UTC().Format(DateLayout)
		case "last_order_status":
			s := NormalizeStatus(fmt.Sprint(v))
			if s == "" {
				continue
			}
			val = s
		case "last_ord_prod_cat":
			val = capRunes(strings.TrimSpace(fmt.Sprint(v)), maxCategoriesLen)
		case "last_ord_products":
			val = capRunes(productLines(v), maxProductsLen)
		case "email":
			val = strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
		default:
			val = capRunes(strings.TrimSpace(fmt.Sprint(v)), maxTextLen)
		}

		if s, isStr := val.(string); isStr && s == "" {
			continue
		}
		out[alias] = val
	}
	return out
}

// FormatAmount renders money as a fixed two decimal string
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// NormalizeStatus lower-cases, turns "_" into "-", strips the "wc-" prefix
// and folds pending-payment into pending
func NormalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.TrimPrefix(s, "wc-")
	if s == "pending-payment" {
		s = "pending"
	}
	return capRunes(s, maxStatusLen)
}

func productLines(v any) string {
	switch t := v.(type) {
	case []ProductLine:
		lines := make([]string, 0, len(t))
		for _, l := range t {
			name := strings.ReplaceAll(strings.TrimSpace(l.Name), "|", "/")
			url := strings.ReplaceAll(strings.TrimSpace(l.URL), "|", "/")
			img := strings.ReplaceAll(strings.TrimSpace(l.ImageURL), "|", "/")
			if name == "" && url == "" && img == "" {
				continue
			}
			lines = append(lines, strings.TrimSpace(name+" | "+url+" | "+img))
		}
		return strings.Join(lines, "\n")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case decimal.NullDecimal:
		return t.Decimal, t.Valid
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(math.Round(t)), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	if d, ok := toDecimal(v); ok {
		return int(d.Round(0).IntPart()), true
	}
	return 0, false
}

var dateLayouts = []string{DateLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case int64:
		return time.Unix(t, 0), t > 0
	case int:
		return time.Unix(int64(t), 0), t > 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return time.Unix(n, 0), true
		}
		for _, layout := range dateLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// capRunes cuts s to at most n runes without splitting a character
func capRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
