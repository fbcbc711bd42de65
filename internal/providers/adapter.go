package providers

import (
	"context"
	"time"

	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/pkg/geo"
)

// Operations a transport service provider may support. Capability flags are
// data-driven from configuration; callers must check SupportsOperation before
// invoking the corresponding method.
const (
	OpReserve  = "reserve"
	OpCancel   = "cancel"
	OpRetrieve = "retrieve"
	OpQuery    = "query"
)

// ReservationRequest asks a TSP to reserve one leg for a customer.
type ReservationRequest struct {
	BookingID  string             `json:"booking_id"`
	Customer   models.Customer    `json:"customer"`
	Leg        models.BookingLeg  `json:"leg"`
	TicketType *string            `json:"ticket_type,omitempty"`
}

// ReservationResponse is the provider's view of a reservation. State is
// provider-driven: RESERVED, CONFIRMED or ACTIVATED depending on how far the
// TSP takes the booking on its side.
type ReservationResponse struct {
	TSPID string            `json:"tsp_id"`
	Leg   models.BookingLeg `json:"leg"`
	Terms models.JSONMap    `json:"terms,omitempty"`
	Meta  models.JSONMap    `json:"meta,omitempty"`
	State string            `json:"state"`
}

// CancelResponse reports the provider-side outcome of a cancellation.
type CancelResponse struct {
	TSPID string `json:"tsp_id"`
	State string `json:"state"`
}

// QueryCriteria searches a provider's available options without creating
// anything.
type QueryCriteria struct {
	Mode      string    `json:"mode"`
	From      geo.Point `json:"from"`
	To        geo.Point `json:"to"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// QueryOption is one bookable option. No state and no customer data is
// exposed on query results.
type QueryOption struct {
	TSPID string            `json:"tsp_id"`
	Leg   models.BookingLeg `json:"leg"`
	Terms models.JSONMap    `json:"terms,omitempty"`
	Meta  models.JSONMap    `json:"meta,omitempty"`
}

// Adapter is the uniform interface to one transport service provider.
type Adapter interface {
	AgencyID() string
	SupportsOperation(op string) bool
	Reserve(ctx context.Context, req ReservationRequest) (*ReservationResponse, error)
	Cancel(ctx context.Context, tspID string) (*CancelResponse, error)
	Retrieve(ctx context.Context, tspID string) (*ReservationResponse, error)
	Query(ctx context.Context, criteria QueryCriteria) ([]QueryOption, error)
}
