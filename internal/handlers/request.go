package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/vintage-storefront/api/internal/pricing"
)

const maxRequestBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func setNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

// moneyPayload is the wire form of pricing.Money. Amounts are fixed-point strings so clients
// never round-trip through floats.
type moneyPayload struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Display   string `json:"display"`
	Localized string `json:"localized,omitempty"`
}

func newMoneyPayload(m pricing.Money) moneyPayload {
	return moneyPayload{
		Amount:   m.StringFixed(),
		Currency: string(m.Currency),
		Display:  pricing.Display(m),
	}
}

// newLocalizedMoneyPayload adds the reader's locale rendering of m.
func newLocalizedMoneyPayload(m pricing.Money, tag language.Tag) moneyPayload {
	payload := newMoneyPayload(m)
	payload.Localized = pricing.FormatMoney(m, tag)
	return payload
}

var displayLanguages = language.NewMatcher([]language.Tag{
	language.English,
	language.Dutch,
	language.German,
	language.French,
	language.Spanish,
	language.Italian,
	language.Japanese,
})

// displayLanguage picks the closest supported display language from Accept-Language,
// defaulting to English.
func displayLanguage(r *http.Request) language.Tag {
	tag, _ := language.MatchStrings(displayLanguages, r.Header.Get("Accept-Language"))
	return tag
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
