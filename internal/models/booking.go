package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Customer identifies the traveler a booking belongs to. The identity of the
// owner is immutable after creation.
type Customer struct {
	IdentityID string `json:"identity_id"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Value implements driver.Valuer.
func (c Customer) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Customer) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// BookingLeg is the leg snapshot a booking was made for, stored denormalized
// on the booking so ad-hoc bookings can exist without an itinerary.
type BookingLeg struct {
	Mode      string    `json:"mode"`
	AgencyID  string    `json:"agency_id"`
	From      Location  `json:"from"`
	To        Location  `json:"to"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Value implements driver.Valuer.
func (b BookingLeg) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner.
func (b *BookingLeg) Scan(src interface{}) error {
	return scanJSON(src, b)
}

// Booking is a concrete reservation with a transport service provider.
type Booking struct {
	ID         string     `json:"id" db:"id"`
	IdentityID string     `json:"identity_id" db:"identity_id"`
	State      string     `json:"state" db:"state"`
	Leg        BookingLeg `json:"leg" db:"leg"`
	Customer   Customer   `json:"customer" db:"customer"`
	Fare       Fare       `json:"fare" db:"fare"`
	TSPID      *string    `json:"tsp_id,omitempty" db:"tsp_id"`
	TicketType *string    `json:"ticket_type,omitempty" db:"ticket_type"`
	Terms      JSONMap    `json:"terms,omitempty" db:"terms"`
	Meta       JSONMap    `json:"meta,omitempty" db:"meta"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// StateIn reports whether the booking is in any of the given states.
func (b *Booking) StateIn(states ...string) bool {
	for _, s := range states {
		if b.State == s {
			return true
		}
	}
	return false
}

// CreateBookingRequest creates a booking, either standalone or for a leg.
type CreateBookingRequest struct {
	Leg        BookingLeg `json:"leg" binding:"required"`
	Customer   Customer   `json:"customer"`
	Fare       Fare       `json:"fare"`
	TicketType *string    `json:"ticket_type,omitempty"`
}

// Validate checks required booking fields. The caller's identity is supplied
// out of band (auth context); the embedded customer must either omit the
// identity or repeat the same one.
func (r *CreateBookingRequest) Validate(identityID string) error {
	if identityID == "" {
		return NewValidationError("identity is required")
	}
	if r.Customer.IdentityID != "" && r.Customer.IdentityID != identityID {
		return NewOwnershipError("customer identity does not match caller")
	}
	if r.Leg.Mode == "" {
		return NewValidationError("booking leg mode is required")
	}
	if r.Leg.AgencyID == "" {
		return NewValidationError("booking leg agency_id is required")
	}
	if !r.Leg.EndTime.After(r.Leg.StartTime) {
		return NewValidationError("booking leg end_time must be after start_time")
	}
	return nil
}
