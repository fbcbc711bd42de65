package models

import "time"

// EntityType identifies which transition table governs an entity.
type EntityType string

const (
	EntityTypeLeg       EntityType = "LEG"
	EntityTypeBooking   EntityType = "BOOKING"
	EntityTypeItinerary EntityType = "ITINERARY"
)

// Lifecycle states shared across legs, bookings and itineraries. Not every
// entity type can reach every state; the transition tables in the state
// machine service are authoritative.
const (
	StateStart               = "START"
	StatePlanned             = "PLANNED"
	StatePending             = "PENDING"
	StatePaid                = "PAID"
	StateReserved            = "RESERVED"
	StateConfirmed           = "CONFIRMED"
	StateActivated           = "ACTIVATED"
	StateFinished            = "FINISHED"
	StateCancelled           = "CANCELLED"
	StateCancelledWithErrors = "CANCELLED_WITH_ERRORS"
	StateRejected            = "REJECTED"
)

// StateTransition is one immutable audit record of an accepted state change.
type StateTransition struct {
	ID         string     `json:"id" db:"id"`
	EntityType EntityType `json:"entity_type" db:"entity_type"`
	ItemID     string     `json:"item_id" db:"item_id"`
	OldState   string     `json:"old_state" db:"old_state"`
	NewState   string     `json:"new_state" db:"new_state"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
