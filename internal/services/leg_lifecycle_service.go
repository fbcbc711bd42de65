package services

import (
	"context"
	"time"

	"github.com/pippuri/whim-bot-sub000/internal/database"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/internal/providers"
	"github.com/pippuri/whim-bot-sub000/pkg/geo"
	"github.com/sirupsen/logrus"
)

// reuseProximityMeters is how close an existing booking's endpoints must be
// to the leg's endpoints for the booking to serve the leg.
const reuseProximityMeters = 500

// ActivateOptions tunes leg activation.
type ActivateOptions struct {
	// TryReuseBooking searches the identity's still-valid bookings for one
	// that can serve this leg before buying a new ticket.
	TryReuseBooking bool
}

// LegLifecycleService drives one leg through its lifecycle inside a
// caller-owned coordinator scope. Bookable legs own a booking; the service
// keeps leg and booking states consistent and compensates leg fares when a
// booking is reused.
type LegLifecycleService struct {
	stateMachine *StateMachineService
	bookings     *BookingLifecycleService
	resolver     *PriceResolverService
	registry     *providers.Registry
	reuseWindow  time.Duration
	logger       *logrus.Logger
}

// NewLegLifecycleService creates the leg lifecycle service. reuseWindow is
// how far past a leg's start a booking must stay valid to serve that leg.
func NewLegLifecycleService(stateMachine *StateMachineService, bookings *BookingLifecycleService, resolver *PriceResolverService, registry *providers.Registry, reuseWindow time.Duration, logger *logrus.Logger) *LegLifecycleService {
	return &LegLifecycleService{
		stateMachine: stateMachine,
		bookings:     bookings,
		resolver:     resolver,
		registry:     registry,
		reuseWindow:  reuseWindow,
		logger:       logger,
	}
}

// Pay moves the leg to PAID. When debit is true the leg's point fare is
// charged; itinerary-level callers that debited the aggregate fare pass
// debit=false. The leg's booking, when present, is paid in the same scope
// without a second debit. Paying a PAID leg is a no-op.
func (s *LegLifecycleService) Pay(ctx context.Context, txn *database.Coordinator, leg *models.Leg, debit bool) (*models.Leg, error) {
	if leg.State == models.StatePaid {
		return leg, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeLeg, leg.State, models.StatePaid) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeLeg, leg.State, models.StatePaid)
	}

	if debit && leg.Fare != nil && leg.Fare.IsPointFare() && leg.Fare.Amount > 0 {
		identityID := txn.IdentityID()
		if _, err := txn.Profiles().DecreaseBalance(identityID, leg.Fare.Amount); err != nil {
			return nil, err
		}
		if err := txn.DecreaseValue(leg.Fare.Amount); err != nil {
			return nil, err
		}
		txn.Meta("profiles", identityID)
	}

	if leg.BookingID != nil {
		booking, err := txn.Bookings().GetByID(*leg.BookingID)
		if err != nil {
			return nil, err
		}
		if _, err := s.bookings.Pay(ctx, txn, booking, false); err != nil {
			return nil, err
		}
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeLeg, leg.ID, leg.State, models.StatePaid)
	if err != nil {
		return nil, err
	}
	leg.State = state

	if err := txn.Legs().UpdateState(leg.ID, leg.State); err != nil {
		return nil, err
	}
	txn.Meta("legs", leg.ID)
	return leg, nil
}

// Activate moves a paid leg to ACTIVATED. For bookable legs a reservation is
// ensured first: an existing attached booking is reserved, or a still-valid
// booking of the same agency and mode is reused (refunding this leg's fare),
// or a fresh booking is bought. A provider rejection is tolerated: the leg
// still activates and the rejected booking stays attached for inspection.
func (s *LegLifecycleService) Activate(ctx context.Context, txn *database.Coordinator, leg *models.Leg, opts ActivateOptions) (*models.Leg, error) {
	if leg.State == models.StateActivated {
		return leg, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeLeg, leg.State, models.StateActivated) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeLeg, leg.State, models.StateActivated)
	}

	if leg.Bookable() {
		if err := s.ensureBooking(ctx, txn, leg, opts); err != nil {
			return nil, err
		}
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeLeg, leg.ID, leg.State, models.StateActivated)
	if err != nil {
		return nil, err
	}
	leg.State = state

	if err := txn.Legs().UpdateState(leg.ID, leg.State); err != nil {
		return nil, err
	}
	txn.Meta("legs", leg.ID)
	return leg, nil
}

// Reserve ensures a paid bookable leg has a provider reservation without
// activating the leg. Non-bookable legs are rejected.
func (s *LegLifecycleService) Reserve(ctx context.Context, txn *database.Coordinator, leg *models.Leg, opts ActivateOptions) (*models.Leg, error) {
	if !leg.Bookable() {
		return nil, models.NewValidationError("leg mode %s does not take a reservation", leg.Mode)
	}
	if leg.State != models.StatePaid && leg.State != models.StateActivated {
		return nil, models.NewInvalidTransitionError(models.EntityTypeLeg, leg.State, models.StateReserved)
	}
	if err := s.ensureBooking(ctx, txn, leg, opts); err != nil {
		return nil, err
	}
	return leg, nil
}

func (s *LegLifecycleService) ensureBooking(ctx context.Context, txn *database.Coordinator, leg *models.Leg, opts ActivateOptions) error {
	if leg.BookingID != nil {
		booking, err := txn.Bookings().GetByID(*leg.BookingID)
		if err != nil {
			return err
		}
		booking, err = s.bookings.Reserve(ctx, txn, booking)
		if err != nil {
			return err
		}
		if booking.State == models.StateRejected {
			s.logger.WithFields(logrus.Fields{
				"leg_id":     leg.ID,
				"booking_id": booking.ID,
			}).Warn("Provider rejected the leg's booking, activating leg without a reservation")
		}
		return nil
	}

	if opts.TryReuseBooking {
		reused, err := s.tryReuse(ctx, txn, leg)
		if err != nil {
			return err
		}
		if reused {
			return nil
		}
	}
	return s.buyBooking(ctx, txn, leg)
}

// tryReuse searches the identity's live bookings for one that already covers
// this leg. A match must share agency and mode, stay valid through the reuse
// window past the leg's start, match one of the leg's resolvable ticket types
// and sit within walking distance of the leg's endpoints. On reuse the leg's own fare is
// refunded since the reused ticket was already paid for.
func (s *LegLifecycleService) tryReuse(ctx context.Context, txn *database.Coordinator, leg *models.Leg) (bool, error) {
	agency := leg.Agency()
	if agency == "" {
		return false, nil
	}

	validUntil := leg.StartTime.Add(s.reuseWindow)
	candidates, err := txn.Bookings().FindReusable(txn.IdentityID(), agency, leg.Mode, validUntil)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}

	tickets, err := s.resolver.LegTickets(leg, s.registry.PriceSpecs())
	if err != nil {
		return false, err
	}

	for i := range candidates {
		candidate := &candidates[i]
		if !s.ticketTypeMatches(candidate, tickets) {
			continue
		}
		if geo.DistanceMeters(candidate.Leg.From.Point(), leg.From.Point()) > reuseProximityMeters ||
			geo.DistanceMeters(candidate.Leg.To.Point(), leg.To.Point()) > reuseProximityMeters {
			continue
		}

		if err := txn.Legs().SetBooking(leg.ID, candidate.ID); err != nil {
			return false, err
		}
		leg.BookingID = &candidate.ID
		txn.Meta("legs", leg.ID)

		if err := s.refundLegFare(txn, leg); err != nil {
			return false, err
		}

		s.logger.WithFields(logrus.Fields{
			"leg_id":     leg.ID,
			"booking_id": candidate.ID,
			"agency_id":  agency,
		}).Info("Reusing existing booking for leg")
		return true, nil
	}
	return false, nil
}

// ticketTypeMatches reports whether the booking's ticket type is one the leg
// could have been sold. A booking without a ticket type matches any leg of
// the same agency and mode.
func (s *LegLifecycleService) ticketTypeMatches(booking *models.Booking, tickets []models.Ticket) bool {
	if booking.TicketType == nil {
		return true
	}
	for _, ticket := range tickets {
		if string(ticket.Type) == *booking.TicketType {
			return true
		}
	}
	return false
}

// buyBooking creates, pays and reserves a fresh booking for the leg. The leg
// fare was already debited, so the booking is paid without a second debit.
func (s *LegLifecycleService) buyBooking(ctx context.Context, txn *database.Coordinator, leg *models.Leg) error {
	fare := models.Fare{Currency: models.CurrencyPoint}
	if leg.Fare != nil {
		fare = *leg.Fare
	}

	booking, err := s.bookings.Create(ctx, txn, &models.CreateBookingRequest{
		Leg: models.BookingLeg{
			Mode:      leg.Mode,
			AgencyID:  leg.Agency(),
			From:      leg.From,
			To:        leg.To,
			StartTime: leg.StartTime,
			EndTime:   leg.EndTime,
		},
		Fare: fare,
	}, txn.IdentityID())
	if err != nil {
		return err
	}

	if err := txn.Legs().SetBooking(leg.ID, booking.ID); err != nil {
		return err
	}
	leg.BookingID = &booking.ID
	txn.Meta("legs", leg.ID)

	if booking, err = s.bookings.Pay(ctx, txn, booking, false); err != nil {
		return err
	}
	booking, err = s.bookings.Reserve(ctx, txn, booking)
	if err != nil {
		return err
	}
	if booking.State == models.StateRejected {
		s.logger.WithFields(logrus.Fields{
			"leg_id":     leg.ID,
			"booking_id": booking.ID,
		}).Warn("Provider rejected fresh booking, activating leg without a reservation")
	}
	return nil
}

// Cancel cancels the leg and its booking. The leg lands on CANCELLED only
// when the booking (if any) cancelled cleanly; a provider-side failure
// degrades the leg to CANCELLED_WITH_ERRORS. When refundFare is true and the
// cancellation is clean, the leg's charged point fare is refunded.
// Cancelling an already cancelled leg is a no-op.
func (s *LegLifecycleService) Cancel(ctx context.Context, txn *database.Coordinator, leg *models.Leg, refundFare bool) (*models.Leg, error) {
	if leg.State == models.StateCancelled || leg.State == models.StateCancelledWithErrors {
		return leg, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeLeg, leg.State, models.StateCancelled) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeLeg, leg.State, models.StateCancelled)
	}

	wasCharged := leg.State == models.StatePaid || leg.State == models.StateActivated

	target := models.StateCancelled
	if leg.BookingID != nil {
		booking, err := txn.Bookings().GetByID(*leg.BookingID)
		if err != nil {
			return nil, err
		}
		// Booking fares under an itinerary were never debited separately,
		// so the booking cancel itself refunds nothing.
		booking, err = s.bookings.Cancel(ctx, txn, booking, false)
		if err != nil {
			return nil, err
		}
		if booking.State == models.StateCancelledWithErrors {
			target = models.StateCancelledWithErrors
		}
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeLeg, leg.ID, leg.State, target)
	if err != nil {
		return nil, err
	}
	leg.State = state

	if err := txn.Legs().UpdateState(leg.ID, leg.State); err != nil {
		return nil, err
	}
	txn.Meta("legs", leg.ID)

	if refundFare && wasCharged && leg.State == models.StateCancelled {
		if err := s.refundLegFare(txn, leg); err != nil {
			return nil, err
		}
	}
	return leg, nil
}

// Finish moves the leg to FINISHED and finishes its booking when the
// booking's state allows it. A booking that cannot finish (rejected, already
// cancelled) is left as is.
func (s *LegLifecycleService) Finish(ctx context.Context, txn *database.Coordinator, leg *models.Leg) (*models.Leg, error) {
	if leg.State == models.StateFinished {
		return leg, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeLeg, leg.State, models.StateFinished) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeLeg, leg.State, models.StateFinished)
	}

	if leg.BookingID != nil {
		booking, err := txn.Bookings().GetByID(*leg.BookingID)
		if err != nil {
			return nil, err
		}
		if s.stateMachine.IsValid(models.EntityTypeBooking, booking.State, models.StateFinished) {
			state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeBooking, booking.ID, booking.State, models.StateFinished)
			if err != nil {
				return nil, err
			}
			booking.State = state
			if err := txn.Bookings().Update(booking); err != nil {
				return nil, err
			}
			txn.Meta("bookings", booking.ID)
		} else {
			s.logger.WithFields(logrus.Fields{
				"leg_id":        leg.ID,
				"booking_id":    booking.ID,
				"booking_state": booking.State,
			}).Warn("Leg finished but its booking cannot finish from its current state")
		}
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeLeg, leg.ID, leg.State, models.StateFinished)
	if err != nil {
		return nil, err
	}
	leg.State = state

	if err := txn.Legs().UpdateState(leg.ID, leg.State); err != nil {
		return nil, err
	}
	txn.Meta("legs", leg.ID)
	return leg, nil
}

// refundLegFare returns the leg's charged point fare to the owner inside the
// current transaction.
func (s *LegLifecycleService) refundLegFare(txn *database.Coordinator, leg *models.Leg) error {
	if leg.Fare == nil || !leg.Fare.IsPointFare() || leg.Fare.Amount <= 0 {
		return nil
	}
	identityID := txn.IdentityID()
	if _, err := txn.Profiles().IncreaseBalance(identityID, leg.Fare.Amount); err != nil {
		return err
	}
	if err := txn.IncreaseValue(leg.Fare.Amount); err != nil {
		return err
	}
	txn.Meta("profiles", identityID)
	return nil
}
