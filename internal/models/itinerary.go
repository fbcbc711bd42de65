package models

import "time"

// Itinerary owns an ordered, non-empty list of legs and their aggregate fare.
type Itinerary struct {
	ID         string        `json:"id" db:"id"`
	IdentityID string        `json:"identity_id" db:"identity_id"`
	State      string        `json:"state" db:"state"`
	Fare       ItineraryFare `json:"fare" db:"fare"`
	StartTime  time.Time     `json:"start_time" db:"start_time"`
	EndTime    time.Time     `json:"end_time" db:"end_time"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`

	// Legs are loaded separately; ordering follows leg start time and the
	// identifiers assigned at creation.
	Legs []Leg `json:"legs" db:"-"`
}

// Purchasable reports whether a point price could be resolved.
func (i *Itinerary) Purchasable() bool {
	return i.Fare.Points != nil
}

// ContainsMode reports whether any leg uses the given mode.
func (i *Itinerary) ContainsMode(mode string) bool {
	for idx := range i.Legs {
		if i.Legs[idx].Mode == mode {
			return true
		}
	}
	return false
}

// CreateItineraryRequest is the caller-supplied itinerary shape.
type CreateItineraryRequest struct {
	Legs []LegInput `json:"legs" binding:"required"`
}

// Validate checks the itinerary input.
func (r *CreateItineraryRequest) Validate() error {
	if len(r.Legs) == 0 {
		return NewValidationError("itinerary requires at least one leg")
	}
	for i := range r.Legs {
		if err := r.Legs[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
