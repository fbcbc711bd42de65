package models

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"

	"github.com/pippuri/whim-bot-sub000/pkg/geo"
)

// Travel modes a leg can carry. WAIT, TRANSFER and WALK never produce a
// booking or a ticket.
const (
	ModeWait     = "WAIT"
	ModeTransfer = "TRANSFER"
	ModeWalk     = "WALK"
	ModeBicycle  = "BICYCLE"
	ModeBus      = "BUS"
	ModeTram     = "TRAM"
	ModeSubway   = "SUBWAY"
	ModeRail     = "RAIL"
	ModeFerry    = "FERRY"
	ModeCar      = "CAR"
	ModeTaxi     = "TAXI"
	ModeAirplane = "AIRPLANE"
)

// nonBookableModes never carry a booking or a ticket.
var nonBookableModes = map[string]bool{
	ModeWait:     true,
	ModeTransfer: true,
	ModeWalk:     true,
}

// Location is a geo point persisted as a JSON column.
type Location geo.Point

// Value implements driver.Valuer.
func (l Location) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *Location) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Point converts back to the geometry type.
func (l Location) Point() geo.Point {
	return geo.Point(l)
}

// Leg is one mode-homogeneous segment of an itinerary. A leg is owned by
// exactly one itinerary; its BookingID is set iff its booking exists and
// belongs to this leg.
type Leg struct {
	ID          string    `json:"id" db:"id"`
	ItineraryID string    `json:"itinerary_id" db:"itinerary_id"`
	BookingID   *string   `json:"booking_id,omitempty" db:"booking_id"`
	State       string    `json:"state" db:"state"`
	Mode        string    `json:"mode" db:"mode"`
	AgencyID    *string   `json:"agency_id,omitempty" db:"agency_id"`
	From        Location  `json:"from" db:"from_point"`
	To          Location  `json:"to" db:"to_point"`
	StartTime   time.Time `json:"start_time" db:"start_time"`
	EndTime     time.Time `json:"end_time" db:"end_time"`
	Distance    *float64  `json:"distance,omitempty" db:"distance"`
	Fare        *Fare     `json:"fare,omitempty" db:"fare"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Bookable reports whether this leg requires a booking with a TSP.
func (l *Leg) Bookable() bool {
	return !nonBookableModes[l.Mode]
}

// DurationMinutes returns the leg duration in whole minutes, rounded up.
func (l *Leg) DurationMinutes() float64 {
	return math.Ceil(l.EndTime.Sub(l.StartTime).Minutes())
}

// DistanceMeters returns the stored distance, falling back to the
// great-circle distance between the endpoints.
func (l *Leg) DistanceMeters() float64 {
	if l.Distance != nil {
		return *l.Distance
	}
	return geo.DistanceMeters(l.From.Point(), l.To.Point())
}

// Agency returns the agency id or the empty string.
func (l *Leg) Agency() string {
	if l.AgencyID == nil {
		return ""
	}
	return *l.AgencyID
}

// LegInput is the caller-supplied shape of one itinerary leg.
type LegInput struct {
	Mode      string    `json:"mode" binding:"required"`
	AgencyID  *string   `json:"agency_id,omitempty"`
	From      Location  `json:"from"`
	To        Location  `json:"to"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
	Distance  *float64  `json:"distance,omitempty"`
}

// Validate checks the leg input before pricing starts.
func (in *LegInput) Validate() error {
	if in.Mode == "" {
		return NewValidationError("leg mode is required")
	}
	if !in.EndTime.After(in.StartTime) {
		return NewValidationError("leg end_time must be after start_time")
	}
	return nil
}

// ToLeg builds a START-state leg from the input. Identifiers are assigned by
// the itinerary lifecycle before persistence.
func (in *LegInput) ToLeg() Leg {
	return Leg{
		State:     StateStart,
		Mode:      in.Mode,
		AgencyID:  in.AgencyID,
		From:      in.From,
		To:        in.To,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Distance:  in.Distance,
	}
}
