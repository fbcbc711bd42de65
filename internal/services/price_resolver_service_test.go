package services

import (
	"testing"
	"time"

	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testLeg(mode, agency string, minutes int) models.Leg {
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	leg := models.Leg{
		ID:        "leg-1",
		Mode:      mode,
		From:      models.Location{Lat: 60.1699, Lon: 24.9384},
		To:        models.Location{Lat: 60.2055, Lon: 24.6559},
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
	}
	if agency != "" {
		leg.AgencyID = strPtr(agency)
	}
	return leg
}

func TestResolveNoTicketModes(t *testing.T) {
	resolver := NewPriceResolverService()

	for _, mode := range []string{models.ModeWalk, models.ModeWait, models.ModeTransfer, models.ModeBicycle} {
		t.Run(mode, func(t *testing.T) {
			leg := testLeg(mode, "", 10)
			specs, err := resolver.Resolve(&leg, []models.PriceSpec{
				{Agency: "HSL", Type: models.TypePerItinerary, Value: 65},
			})
			require.NoError(t, err)
			require.Len(t, specs, 1)
			assert.Equal(t, models.TypeNotApplicable, specs[0].Type)
		})
	}
}

func TestResolveMissingMode(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := models.Leg{}

	_, err := resolver.Resolve(&leg, nil)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeValidation))
}

func TestResolveFiltersByAgency(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := testLeg(models.ModeBus, "HSL", 20)

	specs, err := resolver.Resolve(&leg, []models.PriceSpec{
		{Agency: "HSL", Type: models.TypePerItinerary, Value: 65},
		{Agency: "Valopilkku", Type: models.TypePerMinute, Value: 15},
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "HSL", specs[0].Agency)
}

func TestResolveFiltersByBookableWindow(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := testLeg(models.ModeBus, "HSL", 20)

	specs, err := resolver.Resolve(&leg, []models.PriceSpec{
		{Agency: "HSL", Type: models.TypePerItinerary, Value: 65, BookableUntil: leg.StartTime.Add(-time.Hour)},
	})
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestResolveFiltersByArea(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := testLeg(models.ModeBus, "HSL", 20)

	farAway := geo.Polygon{
		{Lat: 40.0, Lon: 20.0}, {Lat: 40.0, Lon: 21.0},
		{Lat: 41.0, Lon: 21.0}, {Lat: 41.0, Lon: 20.0},
	}
	helsinki := geo.Polygon{
		{Lat: 59.9, Lon: 24.0}, {Lat: 59.9, Lon: 25.5},
		{Lat: 60.5, Lon: 25.5}, {Lat: 60.5, Lon: 24.0},
	}

	specs, err := resolver.Resolve(&leg, []models.PriceSpec{
		{Agency: "HSL", Type: models.TypePerItinerary, Value: 65, Area: farAway},
		{Agency: "HSL", Type: models.TypePerItinerary, Value: 70, Area: helsinki},
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, 70.0, specs[0].Value)
}

func TestInstantiatePerMinute(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := testLeg(models.ModeTaxi, "Valopilkku", 12)

	ticket := resolver.Instantiate(&leg, models.PriceSpec{
		Agency: "Valopilkku", Type: models.TypePerMinute, Value: 15,
	})
	assert.Equal(t, 180.0, ticket.Cost)
	assert.Equal(t, "Valopilkku", ticket.AgencyID)
}

func TestInstantiatePerMinuteRoundsUp(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := testLeg(models.ModeTaxi, "Valopilkku", 12)
	leg.EndTime = leg.EndTime.Add(30 * time.Second) // 12.5 minutes -> 13

	ticket := resolver.Instantiate(&leg, models.PriceSpec{
		Agency: "Valopilkku", Type: models.TypePerMinute, Value: 15, BaseValue: 10,
	})
	assert.Equal(t, 13*15.0+10, ticket.Cost)
}

func TestInstantiatePerKilometer(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := testLeg(models.ModeCar, "CityCarClub", 30)
	distance := 15500.0 // rounds up to 16 km
	leg.Distance = &distance

	ticket := resolver.Instantiate(&leg, models.PriceSpec{
		Agency: "CityCarClub", Type: models.TypePerKilometer, Value: 3, BaseValue: 20,
	})
	assert.Equal(t, 20+16*3.0, ticket.Cost)
}

func TestInstantiatePerItineraryAndNA(t *testing.T) {
	resolver := NewPriceResolverService()
	leg := testLeg(models.ModeBus, "HSL", 20)

	flat := resolver.Instantiate(&leg, models.PriceSpec{Agency: "HSL", Type: models.TypePerItinerary, Value: 65})
	assert.Equal(t, 65.0, flat.Cost)

	na := resolver.Instantiate(&leg, models.PriceSpec{Type: models.TypeNotApplicable})
	assert.Equal(t, 0.0, na.Cost)
}
