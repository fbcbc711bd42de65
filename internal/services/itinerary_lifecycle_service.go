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

// ItineraryLifecycleService orchestrates the multi-leg sagas: quoting,
// purchase, activation, cancellation and completion of whole itineraries.
// Each operation opens its own coordinator scope; operations that touch
// providers per leg fan the legs out into independent scopes so one leg's
// provider call never holds the others' transactions open.
type ItineraryLifecycleService struct {
	factory      *database.CoordinatorFactory
	stateMachine *StateMachineService
	optimizer    *TicketOptimizerService
	legs         *LegLifecycleService
	registry     *providers.Registry
	itineraries  *database.ItineraryRepository
	legStore     *database.LegRepository
	logger       *logrus.Logger
}

// NewItineraryLifecycleService creates the itinerary orchestrator. The two
// repositories serve the read paths; all writes go through coordinators.
func NewItineraryLifecycleService(factory *database.CoordinatorFactory, stateMachine *StateMachineService, optimizer *TicketOptimizerService, legs *LegLifecycleService, registry *providers.Registry, itineraries *database.ItineraryRepository, legStore *database.LegRepository, logger *logrus.Logger) *ItineraryLifecycleService {
	return &ItineraryLifecycleService{
		factory:      factory,
		stateMachine: stateMachine,
		optimizer:    optimizer,
		legs:         legs,
		registry:     registry,
		itineraries:  itineraries,
		legStore:     legStore,
		logger:       logger,
	}
}

// Quote prices a batch of candidate itineraries without persisting anything.
// Taxi-bearing candidates collapse to the single cheapest one.
func (s *ItineraryLifecycleService) Quote(ctx context.Context, batch []models.CreateItineraryRequest) ([]models.ItineraryQuote, error) {
	specs := s.registry.PriceSpecs()
	quotes := make([]models.ItineraryQuote, 0, len(batch))
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return nil, err
		}
		legs := make([]models.Leg, 0, len(batch[i].Legs))
		for j := range batch[i].Legs {
			legs = append(legs, batch[i].Legs[j].ToLeg())
		}
		quote, err := s.optimizer.Quote(ctx, legs, specs)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *quote)
	}
	return s.optimizer.FilterTaxiItineraries(quotes), nil
}

// Create prices and persists a new PLANNED itinerary with its legs. An
// unpurchasable plan is rejected before anything is written.
func (s *ItineraryLifecycleService) Create(ctx context.Context, identityID string, req *models.CreateItineraryRequest) (*models.Itinerary, error) {
	if identityID == "" {
		return nil, models.NewValidationError("identity is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	legs := make([]models.Leg, 0, len(req.Legs))
	for i := range req.Legs {
		legs = append(legs, req.Legs[i].ToLeg())
	}

	quote, err := s.optimizer.Quote(ctx, legs, s.registry.PriceSpecs())
	if err != nil {
		return nil, err
	}
	if quote.Fare.Points == nil {
		return nil, models.NewValidationError("itinerary is not purchasable")
	}

	itinerary := &models.Itinerary{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Fare:       quote.Fare,
		StartTime:  quote.Legs[0].StartTime,
		EndTime:    quote.Legs[len(quote.Legs)-1].EndTime,
	}

	txn, err := s.factory.Begin(ctx, identityID, "")
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeItinerary, itinerary.ID, models.StateStart, models.StatePlanned)
	if err != nil {
		return nil, err
	}
	itinerary.State = state

	if err := txn.Itineraries().Create(itinerary); err != nil {
		return nil, err
	}
	txn.Meta("itineraries", itinerary.ID)

	for i := range quote.Legs {
		leg := quote.Legs[i]
		leg.ID = uuid.New().String()
		leg.ItineraryID = itinerary.ID

		legState, err := s.stateMachine.ChangeState(ctx, models.EntityTypeLeg, leg.ID, models.StateStart, models.StatePlanned)
		if err != nil {
			return nil, err
		}
		leg.State = legState

		if err := txn.Legs().Create(&leg); err != nil {
			return nil, err
		}
		txn.Meta("legs", leg.ID)
		itinerary.Legs = append(itinerary.Legs, leg)
	}

	if err := txn.Commit(ctx, ""); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"itinerary_id": itinerary.ID,
		"identity_id":  identityID,
		"legs":         len(itinerary.Legs),
		"fare_points":  *itinerary.Fare.Points,
	}).Info("Itinerary created")
	return itinerary, nil
}

// Pay purchases the itinerary: the aggregate point fare is debited exactly
// once and the itinerary with all its legs moves to PAID, then leg bookings
// are created and reserved with the providers. A provider rejecting one leg
// is tolerated; the purchase only fails when every bookable leg fails.
// Paying a PAID itinerary is a no-op.
func (s *ItineraryLifecycleService) Pay(ctx context.Context, identityID, itineraryID string) (*models.Itinerary, error) {
	txn, err := s.factory.Begin(ctx, identityID, "")
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	itinerary, err := s.loadOwned(txn, identityID, itineraryID)
	if err != nil {
		return nil, err
	}
	if itinerary.State == models.StatePaid {
		return itinerary, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeItinerary, itinerary.State, models.StatePaid) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeItinerary, itinerary.State, models.StatePaid)
	}
	if itinerary.Fare.Points == nil {
		return nil, models.NewValidationError("itinerary is not purchasable")
	}

	// One debit for the whole itinerary; the per-leg fares sum to it.
	if *itinerary.Fare.Points > 0 {
		if _, err := txn.Profiles().DecreaseBalance(identityID, *itinerary.Fare.Points); err != nil {
			return nil, err
		}
		if err := txn.DecreaseValue(*itinerary.Fare.Points); err != nil {
			return nil, err
		}
		txn.Meta("profiles", identityID)
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeItinerary, itinerary.ID, itinerary.State, models.StatePaid)
	if err != nil {
		return nil, err
	}
	itinerary.State = state
	if err := txn.Itineraries().UpdateState(itinerary.ID, itinerary.State); err != nil {
		return nil, err
	}
	txn.Meta("itineraries", itinerary.ID)

	for i := range itinerary.Legs {
		if _, err := s.legs.Pay(ctx, txn, &itinerary.Legs[i], false); err != nil {
			return nil, err
		}
	}

	if err := txn.Commit(ctx, fmt.Sprintf("Payment for itinerary %s", itinerary.ID)); err != nil {
		return nil, err
	}

	// Reservations happen after the payment committed, each leg in its own
	// scope: a provider failure rejects that booking and refunds its leg
	// fare without disturbing the purchase.
	if err := s.reserveLegs(ctx, identityID, itinerary); err != nil {
		return nil, err
	}
	return itinerary, nil
}

// reserveLegs creates and reserves a booking for every bookable paid leg,
// fanning out into independent coordinator scopes. All legs are attempted;
// the error reports how many failed only when every bookable leg failed.
func (s *ItineraryLifecycleService) reserveLegs(ctx context.Context, identityID string, itinerary *models.Itinerary) error {
	var bookable []*models.Leg
	for i := range itinerary.Legs {
		if itinerary.Legs[i].Bookable() {
			bookable = append(bookable, &itinerary.Legs[i])
		}
	}
	if len(bookable) == 0 {
		return nil
	}

	tasks := make([]func() error, len(bookable))
	for i, leg := range bookable {
		tasks[i] = func() error {
			message := fmt.Sprintf("Refund for leg %s of itinerary %s", leg.ID, itinerary.ID)
			return s.inScope(ctx, identityID, message, func(txn *database.Coordinator) error {
				_, err := s.legs.Reserve(ctx, txn, leg, ActivateOptions{TryReuseBooking: true})
				return err
			})
		}
	}

	errs := RunAll(tasks)
	failed := CountErrors(errs)
	if failed > 0 {
		s.logger.WithError(FirstError(errs)).WithFields(logrus.Fields{
			"itinerary_id": itinerary.ID,
			"failed":       failed,
			"total":        len(bookable),
		}).Warn("Some leg reservations failed")
	}
	if failed == len(bookable) {
		return models.NewProviderError(FirstError(errs), "%d of %d leg bookings failed", failed, len(bookable))
	}
	return nil
}

// ReserveLeg reserves one leg of the caller's itinerary on demand.
func (s *ItineraryLifecycleService) ReserveLeg(ctx context.Context, identityID, itineraryID, legID string) (*models.Leg, error) {
	var reserved *models.Leg
	message := fmt.Sprintf("Refund for leg %s of itinerary %s", legID, itineraryID)
	err := s.inScope(ctx, identityID, message, func(txn *database.Coordinator) error {
		itinerary, err := s.loadOwned(txn, identityID, itineraryID)
		if err != nil {
			return err
		}
		for i := range itinerary.Legs {
			if itinerary.Legs[i].ID == legID {
				reserved, err = s.legs.Reserve(ctx, txn, &itinerary.Legs[i], ActivateOptions{TryReuseBooking: true})
				return err
			}
		}
		return models.NewNotFoundError("leg %s not found in itinerary %s", legID, itineraryID)
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// Activate starts the paid itinerary. Every leg is activated in its own
// scope; provider rejections degrade individual legs but the itinerary still
// activates unless every leg failed outright.
func (s *ItineraryLifecycleService) Activate(ctx context.Context, identityID, itineraryID string) (*models.Itinerary, error) {
	return s.fanOutTransition(ctx, identityID, itineraryID, models.StateActivated,
		func(txn *database.Coordinator, leg *models.Leg) error {
			_, err := s.legs.Activate(ctx, txn, leg, ActivateOptions{TryReuseBooking: true})
			return err
		})
}

// Finish completes the itinerary, finishing every leg and its booking where
// their states allow it.
func (s *ItineraryLifecycleService) Finish(ctx context.Context, identityID, itineraryID string) (*models.Itinerary, error) {
	return s.fanOutTransition(ctx, identityID, itineraryID, models.StateFinished,
		func(txn *database.Coordinator, leg *models.Leg) error {
			_, err := s.legs.Finish(ctx, txn, leg)
			return err
		})
}

// Cancel cancels the itinerary and all its legs. Legs cancel in independent
// scopes so every provider gets its cancellation attempt. Only a fully clean
// cancellation lands on CANCELLED and refunds the aggregate fare; any leg
// that failed to cancel degrades the itinerary to CANCELLED_WITH_ERRORS with
// no refund. Cancelling a cancelled itinerary is a no-op.
func (s *ItineraryLifecycleService) Cancel(ctx context.Context, identityID, itineraryID string) (*models.Itinerary, error) {
	txn, err := s.factory.Begin(ctx, identityID, "")
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	itinerary, err := s.loadOwned(txn, identityID, itineraryID)
	if err != nil {
		return nil, err
	}
	if itinerary.State == models.StateCancelled || itinerary.State == models.StateCancelledWithErrors {
		return itinerary, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeItinerary, itinerary.State, models.StateCancelled) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeItinerary, itinerary.State, models.StateCancelled)
	}

	wasCharged := itinerary.State == models.StatePaid || itinerary.State == models.StateActivated

	clean := true
	tasks := make([]func() error, len(itinerary.Legs))
	for i := range itinerary.Legs {
		leg := &itinerary.Legs[i]
		tasks[i] = func() error {
			if leg.State == models.StateCancelled || leg.State == models.StateCancelledWithErrors {
				return nil
			}
			return s.inScope(ctx, identityID, "", func(legTxn *database.Coordinator) error {
				_, err := s.legs.Cancel(ctx, legTxn, leg, false)
				return err
			})
		}
	}
	for i, err := range RunAll(tasks) {
		if err != nil {
			s.logger.WithError(err).WithField("leg_id", itinerary.Legs[i].ID).Warn("Leg cancellation failed")
			clean = false
		} else if itinerary.Legs[i].State == models.StateCancelledWithErrors {
			clean = false
		}
	}

	target := models.StateCancelled
	if !clean {
		target = models.StateCancelledWithErrors
	}
	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeItinerary, itinerary.ID, itinerary.State, target)
	if err != nil {
		return nil, err
	}
	itinerary.State = state
	if err := txn.Itineraries().UpdateState(itinerary.ID, itinerary.State); err != nil {
		return nil, err
	}
	txn.Meta("itineraries", itinerary.ID)

	message := ""
	if clean && wasCharged && itinerary.Fare.Points != nil && *itinerary.Fare.Points > 0 {
		if _, err := txn.Profiles().IncreaseBalance(identityID, *itinerary.Fare.Points); err != nil {
			return nil, err
		}
		if err := txn.IncreaseValue(*itinerary.Fare.Points); err != nil {
			return nil, err
		}
		txn.Meta("profiles", identityID)
		message = fmt.Sprintf("Refund for cancelled itinerary %s", itinerary.ID)
	}

	if err := txn.Commit(ctx, message); err != nil {
		return nil, err
	}
	return itinerary, nil
}

// Get returns the caller's itinerary with its legs.
func (s *ItineraryLifecycleService) Get(ctx context.Context, identityID, itineraryID string) (*models.Itinerary, error) {
	itinerary, err := s.itineraries.GetByID(itineraryID)
	if err != nil {
		return nil, err
	}
	if itinerary.IdentityID != identityID {
		return nil, models.NewOwnershipError("itinerary %s does not belong to the caller", itineraryID)
	}
	legs, err := s.legStore.GetByItinerary(itineraryID)
	if err != nil {
		return nil, err
	}
	itinerary.Legs = legs
	return itinerary, nil
}

// List returns the caller's itineraries without legs.
func (s *ItineraryLifecycleService) List(ctx context.Context, identityID string) ([]models.Itinerary, error) {
	return s.itineraries.ListByIdentity(identityID)
}

// fanOutTransition runs the per-leg action for every non-terminal leg in its
// own scope, then moves the itinerary to target in an outer scope. All legs
// are attempted; the transition only fails when every eligible leg failed.
func (s *ItineraryLifecycleService) fanOutTransition(ctx context.Context, identityID, itineraryID, target string, action func(*database.Coordinator, *models.Leg) error) (*models.Itinerary, error) {
	txn, err := s.factory.Begin(ctx, identityID, "")
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	itinerary, err := s.loadOwned(txn, identityID, itineraryID)
	if err != nil {
		return nil, err
	}
	if itinerary.State == target {
		return itinerary, nil
	}
	if !s.stateMachine.IsValid(models.EntityTypeItinerary, itinerary.State, target) {
		return nil, models.NewInvalidTransitionError(models.EntityTypeItinerary, itinerary.State, target)
	}

	var eligible []*models.Leg
	for i := range itinerary.Legs {
		if s.stateMachine.IsValid(models.EntityTypeLeg, itinerary.Legs[i].State, target) {
			eligible = append(eligible, &itinerary.Legs[i])
		}
	}

	if len(eligible) > 0 {
		tasks := make([]func() error, len(eligible))
		for i, leg := range eligible {
			tasks[i] = func() error {
				message := fmt.Sprintf("Refund for leg %s of itinerary %s", leg.ID, itinerary.ID)
				return s.inScope(ctx, identityID, message, func(legTxn *database.Coordinator) error {
					return action(legTxn, leg)
				})
			}
		}
		errs := RunAll(tasks)
		failed := CountErrors(errs)
		if failed > 0 {
			s.logger.WithError(FirstError(errs)).WithFields(logrus.Fields{
				"itinerary_id": itinerary.ID,
				"target":       target,
				"failed":       failed,
				"total":        len(eligible),
			}).Warn("Some leg transitions failed")
		}
		if failed == len(eligible) {
			return nil, models.NewProviderError(FirstError(errs), "all %d legs failed to reach %s", failed, target)
		}
	}

	state, err := s.stateMachine.ChangeState(ctx, models.EntityTypeItinerary, itinerary.ID, itinerary.State, target)
	if err != nil {
		return nil, err
	}
	itinerary.State = state
	if err := txn.Itineraries().UpdateState(itinerary.ID, itinerary.State); err != nil {
		return nil, err
	}
	txn.Meta("itineraries", itinerary.ID)

	if err := txn.Commit(ctx, ""); err != nil {
		return nil, err
	}
	return itinerary, nil
}

// inScope runs fn inside a fresh coordinator and commits on success. The
// message lands in the ledger only when the scope actually moved points, so
// compensating refunds always leave a trace and pure state changes never do.
func (s *ItineraryLifecycleService) inScope(ctx context.Context, identityID, message string, fn func(*database.Coordinator) error) error {
	txn, err := s.factory.Begin(ctx, identityID, "")
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if err := fn(txn); err != nil {
		return err
	}
	if txn.Value() == 0 {
		message = ""
	}
	return txn.Commit(ctx, message)
}

// loadOwned fetches the itinerary and its legs inside the transaction and
// enforces ownership.
func (s *ItineraryLifecycleService) loadOwned(txn *database.Coordinator, identityID, itineraryID string) (*models.Itinerary, error) {
	itinerary, err := txn.Itineraries().GetByID(itineraryID)
	if err != nil {
		return nil, err
	}
	if itinerary.IdentityID != identityID {
		return nil, models.NewOwnershipError("itinerary %s does not belong to the caller", itineraryID)
	}
	legs, err := txn.Legs().GetByItinerary(itineraryID)
	if err != nil {
		return nil, err
	}
	itinerary.Legs = legs
	return itinerary, nil
}
