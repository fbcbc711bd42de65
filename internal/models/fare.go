package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Currency codes used in fares. Only POINT participates in balance
// arithmetic; any other currency is informational.
const (
	CurrencyPoint = "POINT"
	CurrencyEUR   = "EUR"
)

// Fare is the price attached to a leg or booking.
type Fare struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// IsPointFare reports whether this fare debits/credits the point balance.
func (f Fare) IsPointFare() bool {
	return f.Currency == CurrencyPoint
}

// Validate checks the fare can be charged.
func (f Fare) Validate() error {
	if f.Currency == "" {
		return NewValidationError("fare currency is required")
	}
	if f.Amount < 0 {
		return NewValidationError("fare amount cannot be negative")
	}
	return nil
}

// Value implements driver.Valuer so fares persist as JSON.
func (f Fare) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *Fare) Scan(src interface{}) error {
	return scanJSON(src, f)
}

// ItineraryFare aggregates the purchase price and emission cost of an
// itinerary. A nil Points means the itinerary is not purchasable; a nil CO2
// means emissions could not be computed for at least one leg.
type ItineraryFare struct {
	Points *float64 `json:"points"`
	CO2    *float64 `json:"co2"`
}

// Value implements driver.Valuer.
func (f ItineraryFare) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *ItineraryFare) Scan(src interface{}) error {
	return scanJSON(src, f)
}

func scanJSON(src, dest interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T as JSON", src)
	}
}

// Float64Ptr is a convenience for building optional fare values.
func Float64Ptr(v float64) *float64 {
	return &v
}
