package services

import (
	"context"
	"sort"

	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// TransitionStore appends immutable state-change audit records.
type TransitionStore interface {
	Append(record *models.StateTransition) error
}

// TransitionPublisher streams accepted transitions to interested consumers.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, record models.StateTransition) error
}

// Transition tables. A state maps to the set of states it may move to; a
// state with an empty set is terminal. Legs, bookings and itineraries share
// one validator so the transition logic exists exactly once.
var legTransitions = map[string][]string{
	models.StateStart:               {models.StatePlanned},
	models.StatePlanned:             {models.StatePaid, models.StateCancelled},
	models.StatePaid:                {models.StateActivated, models.StateFinished, models.StateCancelled, models.StateCancelledWithErrors},
	models.StateActivated:           {models.StateFinished, models.StateCancelled, models.StateCancelledWithErrors},
	models.StateFinished:            {},
	models.StateCancelled:           {},
	models.StateCancelledWithErrors: {},
}

var bookingTransitions = map[string][]string{
	models.StateStart:               {models.StatePending},
	models.StatePending:             {models.StatePaid, models.StateCancelled, models.StateRejected},
	models.StatePaid:                {models.StateReserved, models.StateConfirmed, models.StateActivated, models.StateCancelled, models.StateRejected},
	models.StateReserved:            {models.StateConfirmed, models.StateActivated, models.StateFinished, models.StateCancelled, models.StateCancelledWithErrors},
	models.StateConfirmed:           {models.StateActivated, models.StateFinished, models.StateCancelled, models.StateCancelledWithErrors},
	models.StateActivated:           {models.StateFinished, models.StateCancelled, models.StateCancelledWithErrors},
	models.StateFinished:            {},
	models.StateCancelled:           {},
	models.StateCancelledWithErrors: {},
	models.StateRejected:            {},
}

var itineraryTransitions = map[string][]string{
	models.StateStart:               {models.StatePlanned},
	models.StatePlanned:             {models.StatePaid, models.StateCancelled},
	models.StatePaid:                {models.StateActivated, models.StateFinished, models.StateCancelled, models.StateCancelledWithErrors},
	models.StateActivated:           {models.StateFinished, models.StateCancelled, models.StateCancelledWithErrors},
	models.StateFinished:            {},
	models.StateCancelled:           {},
	models.StateCancelledWithErrors: {},
}

// StateMachineService validates lifecycle transitions for all three entity
// types and appends an audit record for every accepted change. The audit
// write is best-effort: a failed append or publish is logged and never fails
// the transition itself.
type StateMachineService struct {
	store     TransitionStore
	publisher TransitionPublisher
	logger    *logrus.Logger
	tables    map[models.EntityType]map[string][]string
}

// NewStateMachineService creates the shared state machine. Store and
// publisher may be nil; auditing then degrades to log output only.
func NewStateMachineService(store TransitionStore, publisher TransitionPublisher, logger *logrus.Logger) *StateMachineService {
	return &StateMachineService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		tables: map[models.EntityType]map[string][]string{
			models.EntityTypeLeg:       legTransitions,
			models.EntityTypeBooking:   bookingTransitions,
			models.EntityTypeItinerary: itineraryTransitions,
		},
	}
}

// IsValid reports whether oldState may move to newState for the entity type.
// Unknown entity types, unknown states and terminal states all report false.
func (s *StateMachineService) IsValid(entityType models.EntityType, oldState, newState string) bool {
	table, ok := s.tables[entityType]
	if !ok {
		return false
	}
	allowed, ok := table[oldState]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == newState {
			return true
		}
	}
	return false
}

// ChangeState validates the transition, appends the audit record and returns
// the accepted new state. An illegal transition fails without any side
// effect; callers must not persist the entity when an error is returned.
func (s *StateMachineService) ChangeState(ctx context.Context, entityType models.EntityType, itemID, oldState, newState string) (string, error) {
	if _, ok := s.tables[entityType]; !ok {
		return "", models.NewValidationError("unknown entity type %q", entityType)
	}
	if !s.IsValid(entityType, oldState, newState) {
		return "", models.NewInvalidTransitionError(entityType, oldState, newState)
	}

	record := models.StateTransition{
		EntityType: entityType,
		ItemID:     itemID,
		OldState:   oldState,
		NewState:   newState,
	}
	s.audit(ctx, record)

	return newState, nil
}

// AllStates returns every known state for the entity type, sorted. Input
// validators use this to constrain filter values.
func (s *StateMachineService) AllStates(entityType models.EntityType) ([]string, error) {
	table, ok := s.tables[entityType]
	if !ok {
		return nil, models.NewValidationError("unknown entity type %q", entityType)
	}

	seen := make(map[string]bool)
	for state, targets := range table {
		seen[state] = true
		for _, target := range targets {
			seen[target] = true
		}
	}

	states := make([]string, 0, len(seen))
	for state := range seen {
		states = append(states, state)
	}
	sort.Strings(states)
	return states, nil
}

func (s *StateMachineService) audit(ctx context.Context, record models.StateTransition) {
	fields := logrus.Fields{
		"entity_type": record.EntityType,
		"item_id":     record.ItemID,
		"old_state":   record.OldState,
		"new_state":   record.NewState,
	}
	s.logger.WithFields(fields).Info("State transition accepted")

	if s.store != nil {
		if err := s.store.Append(&record); err != nil {
			s.logger.WithError(err).WithFields(fields).Error("Failed to append state transition audit record")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishTransition(ctx, record); err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("Failed to publish state transition event")
		}
	}
}
