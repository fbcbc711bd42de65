package services

import (
	"context"
	"math"
	"strings"

	"github.com/pippuri/whim-bot-sub000/internal/config"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/internal/providers"
	"github.com/sirupsen/logrus"
)

// co2FactorsGramsPerKm maps a travel mode to its emission factor. Modes
// absent from the table contribute zero; modes in co2NotComputable make the
// whole itinerary's CO2 unknown.
var co2FactorsGramsPerKm = map[string]float64{
	models.ModeWalk:    0,
	models.ModeBicycle: 0,
	models.ModeCar:     180.5,
	models.ModeTaxi:    180.5,
	models.ModeBus:     36.4,
	models.ModeTram:    4.1,
	models.ModeSubway:  3.5,
	models.ModeRail:    3.5,
	models.ModeFerry:   19.2,
}

var co2NotComputable = map[string]bool{
	models.ModeAirplane: true,
}

// TicketOptimizerService selects the minimum-cost ticket combination that
// covers every leg of an itinerary and satisfies the required-provider
// constraint, and computes the itinerary's CO2 cost.
type TicketOptimizerService struct {
	resolver *PriceResolverService
	registry *providers.Registry
	policy   string
	logger   *logrus.Logger
}

// NewTicketOptimizerService creates the optimizer. policy controls what
// happens when no covering combination satisfies every required provider.
func NewTicketOptimizerService(resolver *PriceResolverService, registry *providers.Registry, policy string, logger *logrus.Logger) *TicketOptimizerService {
	if policy == "" {
		policy = config.FallbackCheapest
	}
	return &TicketOptimizerService{
		resolver: resolver,
		registry: registry,
		policy:   policy,
		logger:   logger,
	}
}

// Quote prices one itinerary: resolves per-leg ticket options, selects the
// optimal covering combination, distributes per-leg fares so they sum to the
// itinerary total, and computes CO2. The returned legs carry their fares.
func (s *TicketOptimizerService) Quote(ctx context.Context, legs []models.Leg, specs []models.PriceSpec) (*models.ItineraryQuote, error) {
	if len(legs) == 0 {
		return nil, models.NewValidationError("itinerary requires at least one leg")
	}

	// Per-leg options, deduplicated into one candidate pool. Leg-scoped
	// tickets stay distinct per occurrence; itinerary-scoped ones collapse
	// by deep value equality.
	candidates, legOptions, err := s.buildCandidates(legs, specs)
	if err != nil {
		return nil, err
	}

	quote := &models.ItineraryQuote{Legs: legs}
	quote.Fare.CO2 = computeCO2(legs)

	selection := s.selectCombination(candidates, legOptions, requiredProviders(legs))
	if selection != nil && s.purchasable(ctx, legs) {
		s.applySelection(quote, candidates, selection)
	} else {
		// Unpurchasable: no fare and no per-leg fares.
		quote.Fare.Points = nil
	}
	return quote, nil
}

// buildCandidates resolves each leg's options and maps them into a shared
// candidate pool. legOptions[i] lists candidate indices usable by leg i.
func (s *TicketOptimizerService) buildCandidates(legs []models.Leg, specs []models.PriceSpec) ([]models.Ticket, [][]int, error) {
	var candidates []models.Ticket
	legOptions := make([][]int, len(legs))

	for i := range legs {
		tickets, err := s.resolver.LegTickets(&legs[i], specs)
		if err != nil {
			return nil, nil, err
		}

		options := make([]int, 0, len(tickets))
		for _, ticket := range tickets {
			idx := -1
			if !ticket.Type.LegScoped() {
				for c := range candidates {
					if !candidates[c].Type.LegScoped() && candidates[c].Equal(ticket) {
						idx = c
						break
					}
				}
			}
			if idx == -1 {
				candidates = append(candidates, ticket)
				idx = len(candidates) - 1
			}
			options = append(options, idx)
		}
		legOptions[i] = options
	}
	return candidates, legOptions, nil
}

// selection holds one covering combination as the candidate chosen per leg.
type selection struct {
	perLeg []int
	cost   float64
}

// selectCombination finds the minimum-cost covering combination with a
// pruned per-leg-choice search. The tie-break order matches the historical
// sorted enumeration: cheapest covering combination satisfying every
// required provider wins; when none satisfies all providers the policy
// decides between the cheapest covering combination overall and declaring
// the itinerary unpurchasable.
func (s *TicketOptimizerService) selectCombination(candidates []models.Ticket, legOptions [][]int, required []string) *selection {
	for _, options := range legOptions {
		if len(options) == 0 {
			return nil // uncoverable leg
		}
	}

	var bestAny, bestSatisfying *selection
	used := make([]int, len(candidates)) // reference counts while branching
	perLeg := make([]int, len(legOptions))

	var walk func(leg int, cost float64)
	walk = func(leg int, cost float64) {
		if bestSatisfying != nil && cost >= bestSatisfying.cost {
			return
		}
		if leg == len(legOptions) {
			chosen := &selection{perLeg: append([]int(nil), perLeg...), cost: cost}
			if bestAny == nil || cost < bestAny.cost {
				bestAny = chosen
			}
			if satisfiesProviders(candidates, chosen.perLeg, required) {
				if bestSatisfying == nil || cost < bestSatisfying.cost {
					bestSatisfying = chosen
				}
			}
			return
		}
		for _, c := range legOptions[leg] {
			added := 0.0
			if used[c] == 0 {
				added = candidates[c].Cost
			}
			used[c]++
			perLeg[leg] = c
			walk(leg+1, cost+added)
			used[c]--
		}
	}
	walk(0, 0)

	if bestSatisfying != nil {
		return bestSatisfying
	}
	if bestAny == nil {
		return nil
	}
	if s.policy == config.FallbackUnpurchasable {
		s.logger.WithField("required_providers", required).
			Warn("No ticket combination satisfies every required provider, marking unpurchasable")
		return nil
	}
	// Historical behavior: silently fall back to the cheapest covering
	// combination when no combination satisfies every required provider.
	return bestAny
}

// satisfiesProviders checks the required-provider constraint. The match is
// the historical substring containment against the combination's agency ids,
// not strict equality.
func satisfiesProviders(candidates []models.Ticket, perLeg []int, required []string) bool {
	seen := make(map[int]bool)
	var agencies []string
	for _, c := range perLeg {
		if !seen[c] {
			seen[c] = true
			if candidates[c].AgencyID != "" {
				agencies = append(agencies, candidates[c].AgencyID)
			}
		}
	}
	joined := strings.Join(agencies, ",")
	for _, provider := range required {
		if !strings.Contains(joined, provider) {
			return false
		}
	}
	return true
}

// applySelection distributes the chosen combination onto the quote: each
// leg's fare is its ticket's cost, with shared itinerary-scoped tickets
// charged to the first leg that uses them so the fares sum to the total.
func (s *TicketOptimizerService) applySelection(quote *models.ItineraryQuote, candidates []models.Ticket, sel *selection) {
	charged := make(map[int]bool)
	total := 0.0
	for i := range quote.Legs {
		c := sel.perLeg[i]
		amount := 0.0
		if !charged[c] {
			charged[c] = true
			amount = candidates[c].Cost
			quote.Tickets = append(quote.Tickets, candidates[c])
		}
		total += amount
		quote.Legs[i].Fare = &models.Fare{Amount: amount, Currency: models.CurrencyPoint}
	}
	quote.Fare.Points = models.Float64Ptr(total)
}

// purchasable applies the post-hoc veto: a leg with an agency outside the
// whitelist, or a ticket-requiring leg without an agency, makes the whole
// itinerary unpurchasable regardless of the combination found.
func (s *TicketOptimizerService) purchasable(ctx context.Context, legs []models.Leg) bool {
	for i := range legs {
		agency := legs[i].Agency()
		if agency == "" {
			if !noTicketModes[legs[i].Mode] {
				s.logger.WithField("mode", legs[i].Mode).Info("Ticket-requiring leg without agency, itinerary unpurchasable")
				return false
			}
			continue
		}
		if !s.registry.IsPurchasable(ctx, agency) {
			s.logger.WithField("agency", agency).Info("Agency not purchasable, itinerary unpurchasable")
			return false
		}
	}
	return true
}

// requiredProviders lists the distinct non-empty agency ids across the legs.
func requiredProviders(legs []models.Leg) []string {
	seen := make(map[string]bool)
	var required []string
	for i := range legs {
		agency := legs[i].Agency()
		if agency != "" && !seen[agency] {
			seen[agency] = true
			required = append(required, agency)
		}
	}
	return required
}

// computeCO2 sums per-leg emissions from the mode factor table, floored per
// leg. A mode with no factor contributes zero; a non-computable mode makes
// the whole itinerary's CO2 unknown.
func computeCO2(legs []models.Leg) *float64 {
	total := 0.0
	for i := range legs {
		leg := &legs[i]
		if co2NotComputable[leg.Mode] {
			return nil
		}
		factor, ok := co2FactorsGramsPerKm[leg.Mode]
		if !ok {
			continue
		}
		total += math.Floor(factor * leg.DistanceMeters() / 1000)
	}
	return models.Float64Ptr(total)
}

// FilterTaxiItineraries implements the batch-level taxi collapse: when
// multiple candidate itineraries contain a TAXI leg, only the cheapest one
// survives; itineraries without a taxi leg are kept unconditionally.
func (s *TicketOptimizerService) FilterTaxiItineraries(quotes []models.ItineraryQuote) []models.ItineraryQuote {
	cheapestTaxi := -1
	for i := range quotes {
		if !quoteContainsMode(&quotes[i], models.ModeTaxi) {
			continue
		}
		if cheapestTaxi == -1 || lessPoints(quotes[i].Fare.Points, quotes[cheapestTaxi].Fare.Points) {
			cheapestTaxi = i
		}
	}

	if cheapestTaxi == -1 {
		return quotes
	}

	filtered := make([]models.ItineraryQuote, 0, len(quotes))
	for i := range quotes {
		if !quoteContainsMode(&quotes[i], models.ModeTaxi) || i == cheapestTaxi {
			filtered = append(filtered, quotes[i])
		}
	}
	return filtered
}

func quoteContainsMode(quote *models.ItineraryQuote, mode string) bool {
	for i := range quote.Legs {
		if quote.Legs[i].Mode == mode {
			return true
		}
	}
	return false
}

// lessPoints orders optional fares; an unpurchasable (nil) fare never wins.
func lessPoints(a, b *float64) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return *a < *b
}
