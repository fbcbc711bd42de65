package services

import (
	"math"

	"github.com/pippuri/whim-bot-sub000/internal/models"
)

// noTicketModes never require a ticket; their legs always resolve to a
// single synthetic U_NA spec with cost zero, skipping geometry checks.
var noTicketModes = map[string]bool{
	models.ModeWait:     true,
	models.ModeTransfer: true,
	models.ModeWalk:     true,
	models.ModeBicycle:  true,
}

// PriceResolverService produces the price specs applicable to one leg. Pure
// function of (leg, specs): no side effects, no I/O.
type PriceResolverService struct{}

// NewPriceResolverService creates the resolver
func NewPriceResolverService() *PriceResolverService {
	return &PriceResolverService{}
}

// Resolve returns the specs whose agency matches the leg's provider and
// whose service area contains both endpoints. A spec without an area is
// unrestricted. Legs in a no-ticket mode short-circuit to a synthetic U_NA.
func (s *PriceResolverService) Resolve(leg *models.Leg, specs []models.PriceSpec) ([]models.PriceSpec, error) {
	if leg.Mode == "" {
		return nil, models.NewValidationError("leg is missing mode")
	}

	if noTicketModes[leg.Mode] {
		return []models.PriceSpec{{Type: models.TypeNotApplicable}}, nil
	}

	var applicable []models.PriceSpec
	for _, spec := range specs {
		if spec.Agency != leg.Agency() {
			continue
		}
		if !spec.BookableUntil.IsZero() && leg.StartTime.After(spec.BookableUntil) {
			continue
		}
		if len(spec.Area) > 0 {
			if !spec.Area.Contains(leg.From.Point()) || !spec.Area.Contains(leg.To.Point()) {
				continue
			}
		}
		applicable = append(applicable, spec)
	}
	return applicable, nil
}

// Instantiate prices one spec against a concrete leg.
func (s *PriceResolverService) Instantiate(leg *models.Leg, spec models.PriceSpec) models.Ticket {
	ticket := models.Ticket{
		Type:      spec.Type,
		AgencyID:  spec.Agency,
		Value:     spec.Value,
		BaseValue: spec.BaseValue,
	}

	switch spec.Type {
	case models.TypePerMinute:
		ticket.Cost = leg.DurationMinutes()*spec.Value + spec.BaseValue
	case models.TypePerKilometer:
		ticket.Cost = spec.BaseValue + math.Ceil(leg.DistanceMeters()/1000)*spec.Value
	case models.TypePerItinerary:
		ticket.Cost = spec.Value
	case models.TypeNotApplicable:
		ticket.Cost = 0
	}
	return ticket
}

// LegTickets resolves and prices every option for one leg.
func (s *PriceResolverService) LegTickets(leg *models.Leg, specs []models.PriceSpec) ([]models.Ticket, error) {
	applicable, err := s.Resolve(leg, specs)
	if err != nil {
		return nil, err
	}

	tickets := make([]models.Ticket, 0, len(applicable))
	for _, spec := range applicable {
		tickets = append(tickets, s.Instantiate(leg, spec))
	}
	return tickets, nil
}
