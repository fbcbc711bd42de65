package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pippuri/whim-bot-sub000/internal/database"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/internal/providers"
	"github.com/sirupsen/logrus"
)

// BookingLifecycleService drives a booking through its lifecycle inside a
// caller-owned coordinator scope: create, pay, reserve with the provider,
// cancel with compensation, and reconcile from provider state. The service
// never commits; the caller decides the transaction boundary.
type BookingLifecycleService struct {
	stateMachine *StateMachineService
	registry     *providers.Registry
	logger       *logrus.Logger
}

// NewBookingLifecycleService creates the booking lifecycle service.
func NewBookingLifecycleService(stateMachine *StateMachineService, registry *providers.Registry, logger *logrus.Logger) *BookingLifecycleService {
	return &BookingLifecycleService{
		stateMachine: stateMachine,
		registry:     registry,
		logger:       logger,
	}
}

// Create validates the request and persists a new PENDING booking owned by
// the caller's identity.
func (s *BookingLifecycleService) Create(ctx context.Context, txn *database.Coordinator, req *models.CreateBookingRequest, identityID string) (*models.Booking, error) {
	if err := req.Validate(identityID); err != nil {
		return nil, err
	}
	if err := req.Fare.Validate(); err != nil {
		return nil, err
	}
	if !s.registry.Supports(req.Leg.AgencyID) {
		return nil, models.NewValidationError("agency %q is not supported", req.Leg.AgencyID)
	}

	booking := &models.Booking{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Leg:        req.Leg,
		Customer:   req.Customer,
		Fare:       req.Fare,
		TicketType: req.TicketType,
	}
	booking.Customer.IdentityID = identityID

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeBooking, booking.ID, models.StateStart, models.StatePending)
	if err != nil {
		return nil, err
	}
	booking.State = state

	if err := txn.Bookings().Create(booking); err != nil {
		return nil, err
	}
	txn.Meta("bookings", booking.ID)

	s.logger.WithFields(logrus.Fields{
		"booking_id":  booking.ID,
		"identity_id": identityID,
		"agency_id":   booking.Leg.AgencyID,
	}).Info("Booking created")
	return booking, nil
}

// Pay moves the booking to PAID. When debit is true the fare is charged
// against the owner's balance inside the same transaction; lifecycle callers
// that already debited an aggregate itinerary fare pass debit=false. Pay is
// idempotent: paying a PAID booking is a no-op.
func (s *BookingLifecycleService) Pay(ctx context.Context, txn *database.Coordinator, booking *models.Booking, debit bool) (*models.Booking, error) {
	if booking.State == models.StatePaid {
		return booking, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeBooking, booking.State, models.StatePaid) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeBooking, booking.State, models.StatePaid)
	}

	if debit && booking.Fare.IsPointFare() && booking.Fare.Amount > 0 {
		if _, err := txn.Profiles().DecreaseBalance(booking.IdentityID, booking.Fare.Amount); err != nil {
			return nil, err
		}
		if err := txn.DecreaseValue(booking.Fare.Amount); err != nil {
			return nil, err
		}
		txn.Meta("profiles", booking.IdentityID)
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeBooking, booking.ID, booking.State, models.StatePaid)
	if err != nil {
		return nil, err
	}
	booking.State = state

	if err := txn.Bookings().Update(booking); err != nil {
		return nil, err
	}
	txn.Meta("bookings", booking.ID)
	return booking, nil
}

// Reserve asks the provider to reserve the paid booking. A provider failure
// is compensated, not propagated: the booking moves to REJECTED, any charged
// point fare is refunded in the same transaction and the REJECTED booking is
// returned with a nil error. Callers inspect the state. Reserving an already
// reserved, confirmed or activated booking is a no-op.
func (s *BookingLifecycleService) Reserve(ctx context.Context, txn *database.Coordinator, booking *models.Booking) (*models.Booking, error) {
	if booking.StateIn(models.StateReserved, models.StateConfirmed, models.StateActivated) {
		return booking, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeBooking, booking.State, models.StateReserved) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeBooking, booking.State, models.StateReserved)
	}

	adapter, err := s.registry.Adapter(booking.Leg.AgencyID)
	if err != nil {
		return nil, err
	}

	var response *providers.ReservationResponse
	if !adapter.SupportsOperation(providers.OpReserve) {
		err = models.NewProviderError(nil, "agency %q does not support reservations", booking.Leg.AgencyID)
	} else {
		response, err = adapter.Reserve(ctx, providers.ReservationRequest{
			BookingID:  booking.ID,
			Customer:   booking.Customer,
			Leg:        booking.Leg,
			TicketType: booking.TicketType,
		})
	}
	if err != nil {
		return s.reject(ctx, txn, booking, err)
	}

	booking.TSPID = &response.TSPID
	booking.Leg = response.Leg
	booking.Terms = response.Terms
	booking.Meta = mergeMeta(booking.Meta, response.Meta)

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeBooking, booking.ID, booking.State, response.State)
	if err != nil {
		return nil, err
	}
	booking.State = state

	if err := txn.Bookings().Update(booking); err != nil {
		return nil, err
	}
	txn.Meta("bookings", booking.ID)

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"agency_id":  booking.Leg.AgencyID,
		"tsp_id":     response.TSPID,
		"state":      booking.State,
	}).Info("Booking reserved with provider")
	return booking, nil
}

// reject is the compensating path for a failed reservation: the booking is
// rejected and a fare already charged is refunded atomically with it.
func (s *BookingLifecycleService) reject(ctx context.Context, txn *database.Coordinator, booking *models.Booking, cause error) (*models.Booking, error) {
	s.logger.WithError(cause).WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"agency_id":  booking.Leg.AgencyID,
	}).Warn("Provider reservation failed, rejecting booking")

	wasPaid := booking.State == models.StatePaid

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeBooking, booking.ID, booking.State, models.StateRejected)
	if err != nil {
		return nil, err
	}
	booking.State = state

	if err := txn.Bookings().Update(booking); err != nil {
		return nil, err
	}
	txn.Meta("bookings", booking.ID)

	if wasPaid {
		if err := s.refund(txn, booking); err != nil {
			return nil, err
		}
	}
	return booking, nil
}

// Cancel cancels the booking. When the provider supports cancellation and a
// remote reservation exists, the provider is called and its reported state is
// adopted; a provider that cannot cancel has nothing to release, so the
// booking cancels cleanly. A provider-side failure leaves the booking
// CANCELLED_WITH_ERRORS and forfeits the refund; only a clean CANCELLED
// refunds the charged fare (and only when refund is true, per the owner's
// plan). Cancelling a CANCELLED booking is a no-op.
func (s *BookingLifecycleService) Cancel(ctx context.Context, txn *database.Coordinator, booking *models.Booking, refund bool) (*models.Booking, error) {
	if booking.StateIn(models.StateCancelled, models.StateCancelledWithErrors) {
		return booking, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeBooking, booking.State, models.StateCancelled) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeBooking, booking.State, models.StateCancelled)
	}

	wasCharged := booking.StateIn(models.StatePaid, models.StateReserved, models.StateConfirmed, models.StateActivated)

	target := models.StateCancelled
	if booking.TSPID != nil {
		adapter, aerr := s.registry.Adapter(booking.Leg.AgencyID)
		switch {
		case aerr != nil:
			s.logger.WithError(aerr).WithFields(logrus.Fields{
				"booking_id": booking.ID,
				"agency_id":  booking.Leg.AgencyID,
			}).Warn("Provider cancellation failed")
			target = models.StateCancelledWithErrors
		case adapter.SupportsOperation(providers.OpCancel):
			response, err := adapter.Cancel(ctx, *booking.TSPID)
			switch {
			case err != nil:
				s.logger.WithError(err).WithFields(logrus.Fields{
					"booking_id": booking.ID,
					"agency_id":  booking.Leg.AgencyID,
				}).Warn("Provider cancellation failed")
				target = models.StateCancelledWithErrors
			case response != nil && response.State != "":
				if s.stateMachine.IsValid(models.EntityTypeBooking, booking.State, response.State) {
					target = response.State
				} else {
					s.logger.WithFields(logrus.Fields{
						"booking_id":     booking.ID,
						"local_state":    booking.State,
						"provider_state": response.State,
					}).Warn("Ignoring illegal provider state on cancel")
				}
			}
		}
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeBooking, booking.ID, booking.State, target)
	if err != nil {
		return nil, err
	}
	booking.State = state

	if err := txn.Bookings().Update(booking); err != nil {
		return nil, err
	}
	txn.Meta("bookings", booking.ID)

	if refund && wasCharged && booking.State == models.StateCancelled {
		if err := s.refund(txn, booking); err != nil {
			return nil, err
		}
	}
	return booking, nil
}

// Refresh re-fetches the booking from the provider and adopts the provider's
// state when the transition is legal. An illegal provider state is logged
// and ignored rather than corrupting the local lifecycle.
func (s *BookingLifecycleService) Refresh(ctx context.Context, txn *database.Coordinator, booking *models.Booking) (*models.Booking, error) {
	if booking.TSPID == nil {
		return booking, nil
	}

	adapter, err := s.registry.Adapter(booking.Leg.AgencyID)
	if err != nil {
		return nil, err
	}
	if !adapter.SupportsOperation(providers.OpRetrieve) {
		return booking, nil
	}

	response, err := adapter.Retrieve(ctx, *booking.TSPID)
	if err != nil {
		return nil, models.NewProviderError(err, "failed to retrieve booking %s from %s", booking.ID, booking.Leg.AgencyID)
	}

	booking.Leg = response.Leg
	booking.Terms = response.Terms
	booking.Meta = mergeMeta(booking.Meta, response.Meta)

	if response.State != booking.State {
		if s.stateMachine.IsValid(models.EntityTypeBooking, booking.State, response.State) {
			state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeBooking, booking.ID, booking.State, response.State)
			if err != nil {
				return nil, err
			}
			booking.State = state
		} else {
			s.logger.WithFields(logrus.Fields{
				"booking_id":     booking.ID,
				"local_state":    booking.State,
				"provider_state": response.State,
			}).Warn("Ignoring illegal provider state on refresh")
		}
	}

	if err := txn.Bookings().Update(booking); err != nil {
		return nil, err
	}
	txn.Meta("bookings", booking.ID)
	return booking, nil
}

// refund returns a charged point fare to the owner's balance inside the
// current transaction and records the event on the coordinator's net value.
func (s *BookingLifecycleService) refund(txn *database.Coordinator, booking *models.Booking) error {
	if !booking.Fare.IsPointFare() || booking.Fare.Amount <= 0 {
		return nil
	}
	if _, err := txn.Profiles().IncreaseBalance(booking.IdentityID, booking.Fare.Amount); err != nil {
		return fmt.Errorf("failed to refund booking %s: %w", booking.ID, err)
	}
	if err := txn.IncreaseValue(booking.Fare.Amount); err != nil {
		return err
	}
	txn.Meta("profiles", booking.IdentityID)
	return nil
}

func mergeMeta(base, extra models.JSONMap) models.JSONMap {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = models.JSONMap{}
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
