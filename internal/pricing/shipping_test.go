package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveZone(t *testing.T) {
	zones := mustDefaultZones(t)

	cases := map[string]ZoneID{
		"NL":   ZoneDomestic,
		" nl ": ZoneDomestic,
		"DE":   ZoneEurope,
		"gb":   ZoneEurope,
		"US":   ZoneNorthAmerica,
		"CA":   ZoneNorthAmerica,
		"JP":   ZoneAsiaPacific,
		"AU":   ZoneAsiaPacific,
		"BR":   ZoneRestOfWorld,
		"ZZ":   ZoneRestOfWorld,
		"":     ZoneRestOfWorld,
		"NLD":  ZoneRestOfWorld,
	}
	for country, want := range cases {
		assert.Equal(t, want, zones.ResolveZone(country), "country %q", country)
	}
}

func TestResolveZoneIsTotalOverConfiguredCountries(t *testing.T) {
	zones := mustDefaultZones(t)
	for _, zone := range zones.Zones() {
		for _, country := range zone.Countries {
			assert.Equal(t, zone.ID, zones.ResolveZone(country), "country %s", country)
		}
	}
}

func TestZoneRates(t *testing.T) {
	zones := mustDefaultZones(t)
	assert.True(t, zones.Rate(ZoneDomestic).Equal(NewMoney("5.00", EUR)))
	assert.True(t, zones.Rate(ZoneID("moon")).Equal(zones.Rate(ZoneRestOfWorld)))

	_, ok := zones.FreeShippingThreshold(ZoneDomestic)
	assert.False(t, ok)
}

func TestDefaultZoneTableOptions(t *testing.T) {
	zones := mustDefaultZones(t,
		WithZoneRate(ZoneNorthAmerica, dec("5.00")),
		WithFreeShippingThreshold(ZoneEurope, dec("150")),
	)
	assert.True(t, zones.Rate(ZoneNorthAmerica).Equal(NewMoney("5", EUR)))

	threshold, ok := zones.FreeShippingThreshold(ZoneEurope)
	require.True(t, ok)
	assert.True(t, threshold.Equal(NewMoney("150", EUR)))

	_, err := DefaultZoneTable(WithZoneRate(ZoneID("moon"), dec("1")))
	assert.Error(t, err)
}

func TestNewZoneTableValidation(t *testing.T) {
	_, err := NewZoneTable(Zone{ID: ZoneDomestic, Countries: []string{"NL"}, Rate: dec("5")})
	assert.Error(t, err, "missing rest-of-world")

	_, err = NewZoneTable(
		Zone{ID: ZoneDomestic, Countries: []string{"NL"}, Rate: dec("5")},
		Zone{ID: ZoneEurope, Countries: []string{"nl"}, Rate: dec("10")},
		Zone{ID: ZoneRestOfWorld, Rate: dec("25")},
	)
	assert.Error(t, err, "duplicate country")

	_, err = NewZoneTable(Zone{ID: ZoneRestOfWorld, Rate: dec("-1")})
	assert.Error(t, err, "negative rate")

	zones, err := NewZoneTable(Zone{ID: ZoneRestOfWorld, Rate: dec("7")})
	require.NoError(t, err)
	assert.Equal(t, ZoneRestOfWorld, zones.ResolveZone("NL"))
}
