package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ZoneID names a shipping zone.
type ZoneID string

const (
	ZoneDomestic     ZoneID = "domestic"
	ZoneEurope       ZoneID = "europe"
	ZoneNorthAmerica ZoneID = "north-america"
	ZoneAsiaPacific  ZoneID = "asia-pacific"
	ZoneRestOfWorld  ZoneID = "rest-of-world"
)

// Zone groups destination countries sharing one flat base-currency rate.
type Zone struct {
	ID        ZoneID
	Countries []string
	Rate      decimal.Decimal
	// FreeShippingThreshold zeroes shipping once the subtotal reaches it. Nil means none.
	FreeShippingThreshold *decimal.Decimal
}

// ZoneTable resolves countries to zones through an index built once at construction.
type ZoneTable struct {
	order []ZoneID
	zones map[ZoneID]Zone
	index map[string]ZoneID
}

// NewZoneTable indexes zones by country. Every country may belong to one zone only and
// the table must contain a rest-of-world zone to absorb unknown destinations.
func NewZoneTable(zones ...Zone) (*ZoneTable, error) {
	t := &ZoneTable{
		order: make([]ZoneID, 0, len(zones)),
		zones: make(map[ZoneID]Zone, len(zones)),
		index: make(map[string]ZoneID),
	}
	for _, zone := range zones {
		if zone.ID == "" {
			return nil, fmt.Errorf("pricing: zone id is required")
		}
		if _, dup := t.zones[zone.ID]; dup {
			return nil, fmt.Errorf("pricing: zone %q defined twice", zone.ID)
		}
		if zone.Rate.IsNegative() {
			return nil, fmt.Errorf("pricing: zone %q has a negative rate", zone.ID)
		}
		countries := make([]string, 0, len(zone.Countries))
		for _, raw := range zone.Countries {
			country := normaliseCountry(raw)
			if country == "" {
				continue
			}
			if owner, dup := t.index[country]; dup {
				return nil, fmt.Errorf("pricing: country %s listed in zones %q and %q", country, owner, zone.ID)
			}
			t.index[country] = zone.ID
			countries = append(countries, country)
		}
		zone.Countries = countries
		t.zones[zone.ID] = zone
		t.order = append(t.order, zone.ID)
	}
	if _, ok := t.zones[ZoneRestOfWorld]; !ok {
		return nil, fmt.Errorf("pricing: zone table requires %q", ZoneRestOfWorld)
	}
	return t, nil
}

// ZoneOption adjusts the default zone definitions before they are indexed.
type ZoneOption func(map[ZoneID]*Zone) error

// WithZoneRate overrides the flat rate of a zone.
func WithZoneRate(id ZoneID, rate decimal.Decimal) ZoneOption {
	return func(zones map[ZoneID]*Zone) error {
		zone, ok := zones[id]
		if !ok {
			return fmt.Errorf("pricing: unknown zone %q", id)
		}
		zone.Rate = rate
		return nil
	}
}

// WithFreeShippingThreshold sets the subtotal at which a zone ships free.
func WithFreeShippingThreshold(id ZoneID, threshold decimal.Decimal) ZoneOption {
	return func(zones map[ZoneID]*Zone) error {
		zone, ok := zones[id]
		if !ok {
			return fmt.Errorf("pricing: unknown zone %q", id)
		}
		zone.FreeShippingThreshold = &threshold
		return nil
	}
}

// DefaultZoneTable returns the storefront's zones, shipping from the Netherlands.
func DefaultZoneTable(opts ...ZoneOption) (*ZoneTable, error) {
	defs := defaultZones()
	byID := make(map[ZoneID]*Zone, len(defs))
	for i := range defs {
		byID[defs[i].ID] = &defs[i]
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(byID); err != nil {
			return nil, err
		}
	}
	return NewZoneTable(defs...)
}

func defaultZones() []Zone {
	return []Zone{
		{
			ID:        ZoneDomestic,
			Countries: []string{"NL"},
			Rate:      decimal.RequireFromString("5.00"),
		},
		{
			ID: ZoneEurope,
			Countries: []string{
				"AT", "BE", "BG", "CH", "CY", "CZ", "DE", "DK", "EE", "ES", "FI", "FR", "GB", "GR",
				"HR", "HU", "IE", "IS", "IT", "LI", "LT", "LU", "LV", "MT", "NO", "PL", "PT", "RO",
				"SE", "SI", "SK",
			},
			Rate: decimal.RequireFromString("10.00"),
		},
		{
			ID:        ZoneNorthAmerica,
			Countries: []string{"US", "CA", "MX"},
			Rate:      decimal.RequireFromString("15.00"),
		},
		{
			ID:        ZoneAsiaPacific,
			Countries: []string{"AU", "CN", "HK", "ID", "IN", "JP", "KR", "MY", "NZ", "PH", "SG", "TH", "TW", "VN"},
			Rate:      decimal.RequireFromString("20.00"),
		},
		{
			ID:   ZoneRestOfWorld,
			Rate: decimal.RequireFromString("25.00"),
		},
	}
}

// ResolveZone maps a country code to its zone. Unknown or empty codes resolve to
// rest-of-world.
func (t *ZoneTable) ResolveZone(country string) ZoneID {
	if id, ok := t.index[normaliseCountry(country)]; ok {
		return id
	}
	return ZoneRestOfWorld
}

// Rate returns the flat base-currency rate of a zone. Unknown zones use the
// rest-of-world rate.
func (t *ZoneTable) Rate(id ZoneID) Money {
	zone, ok := t.zones[id]
	if !ok {
		zone = t.zones[ZoneRestOfWorld]
	}
	return Money{Amount: zone.Rate, Currency: BaseCurrency}
}

// FreeShippingThreshold returns the zone's free-shipping subtotal, if one is configured.
func (t *ZoneTable) FreeShippingThreshold(id ZoneID) (Money, bool) {
	zone, ok := t.zones[id]
	if !ok || zone.FreeShippingThreshold == nil {
		return Money{}, false
	}
	return Money{Amount: *zone.FreeShippingThreshold, Currency: BaseCurrency}, true
}

// Zones lists the configured zones in definition order.
func (t *ZoneTable) Zones() []Zone {
	out := make([]Zone, 0, len(t.order))
	for _, id := range t.order {
		zone := t.zones[id]
		zone.Countries = append([]string(nil), zone.Countries...)
		out = append(out, zone)
	}
	return out
}

func normaliseCountry(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
