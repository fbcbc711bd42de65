package models

import (
	"time"

	"github.com/pippuri/whim-bot-sub000/pkg/geo"
)

// PriceSpecType classifies how a price spec is charged.
type PriceSpecType string

const (
	// TypePerItinerary is a flat fare covering the whole itinerary (U_PITI).
	TypePerItinerary PriceSpecType = "U_PITI"
	// TypePerMinute is a per-leg, duration-based fare (U_PMIN).
	TypePerMinute PriceSpecType = "U_PMIN"
	// TypePerKilometer is a per-leg, distance-based fare (U_PKM).
	TypePerKilometer PriceSpecType = "U_PKM"
	// TypeNotApplicable means no ticket is required for the leg (U_NA).
	TypeNotApplicable PriceSpecType = "U_NA"
)

// LegScoped reports whether a ticket of this type is tied to one specific
// leg. Leg-scoped tickets are never deduplicated across legs.
func (t PriceSpecType) LegScoped() bool {
	return t == TypePerMinute || t == TypePerKilometer
}

// PriceSpec is a ticket template offered by an agency within a service area
// and a validity window. Zero-valued window bounds mean unbounded.
type PriceSpec struct {
	Agency        string        `json:"agency"`
	Type          PriceSpecType `json:"type"`
	Value         float64       `json:"value"`
	BaseValue     float64       `json:"base_value"`
	Area          geo.Polygon   `json:"area,omitempty"`
	BookableUntil time.Time     `json:"bookable_until,omitempty"`
	PayableUntil  time.Time     `json:"payable_until,omitempty"`
}

// Ticket is a price spec instantiated against a concrete leg (or the whole
// itinerary for per-itinerary types).
type Ticket struct {
	Type      PriceSpecType `json:"type"`
	Cost      float64       `json:"cost"`
	AgencyID  string        `json:"agency_id,omitempty"`
	Value     float64       `json:"value"`
	BaseValue float64       `json:"base_value"`
}

// Equal is the deep value equality used for dedup and coverage checks.
func (t Ticket) Equal(other Ticket) bool {
	return t.Type == other.Type &&
		t.Cost == other.Cost &&
		t.AgencyID == other.AgencyID &&
		t.Value == other.Value &&
		t.BaseValue == other.BaseValue
}

// ItineraryQuote is the priced form of a candidate itinerary: the resolved
// fare plus the ticket combination that produced it.
type ItineraryQuote struct {
	Legs    []Leg         `json:"legs"`
	Fare    ItineraryFare `json:"fare"`
	Tickets []Ticket      `json:"tickets,omitempty"`
}
