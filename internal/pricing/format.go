package pricing

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Display renders an amount with the storefront's own symbol, e.g. "€55.00" or "¥1050".
func Display(m Money) string {
	c, ok := LookupCurrency(m.Currency)
	if !ok {
		return m.String()
	}
	return c.Symbol + m.Round().StringFixed()
}

// FormatMoney renders a rounded amount with the currency symbol locale conventions use for
// tag, e.g. "€ 55.00". The digits are the same fixed-point string that is encoded for the
// gateway; only the symbol is localised.
func FormatMoney(m Money, tag language.Tag) string {
	unit, err := currency.ParseISO(string(m.Currency))
	if err != nil {
		return Display(m)
	}
	symbol := message.NewPrinter(tag).Sprint(currency.Symbol(unit))
	if symbol == "" {
		return Display(m)
	}
	return symbol + " " + m.Round().StringFixed()
}
