package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// LegRepository handles leg persistence
type LegRepository struct {
	q      Queryer
	logger *logrus.Logger
}

// NewLegRepository creates a new leg repository
func NewLegRepository(db Queryer, logger *logrus.Logger) *LegRepository {
	return &LegRepository{q: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *LegRepository) WithTx(tx *sqlx.Tx) *LegRepository {
	return &LegRepository{q: tx, logger: r.logger}
}

const legColumns = `id, itinerary_id, booking_id, state, mode, agency_id,
	from_point, to_point, start_time, end_time, distance, fare, created_at, updated_at`

// Create inserts one leg row
func (r *LegRepository) Create(leg *models.Leg) error {
	now := time.Now()
	leg.CreatedAt = now
	leg.UpdatedAt = now

	query := `
		INSERT INTO legs (` + legColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.q.Exec(query,
		leg.ID, leg.ItineraryID, leg.BookingID, leg.State, leg.Mode, leg.AgencyID,
		leg.From, leg.To, leg.StartTime, leg.EndTime, leg.Distance, leg.Fare,
		leg.CreatedAt, leg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create leg: %w", err)
	}
	return nil
}

// GetByID returns one leg
func (r *LegRepository) GetByID(id string) (*models.Leg, error) {
	var leg models.Leg
	query := `SELECT ` + legColumns + ` FROM legs WHERE id = $1`

	if err := r.q.Get(&leg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("leg %s not found", id)
		}
		return nil, fmt.Errorf("failed to get leg: %w", err)
	}
	return &leg, nil
}

// GetByItinerary returns an itinerary's legs in travel order. Leg ids are
// assigned before persistence, so ordering is stable across reloads.
func (r *LegRepository) GetByItinerary(itineraryID string) ([]models.Leg, error) {
	var legs []models.Leg
	query := `SELECT ` + legColumns + ` FROM legs WHERE itinerary_id = $1 ORDER BY start_time, id`

	if err := r.q.Select(&legs, query, itineraryID); err != nil {
		return nil, fmt.Errorf("failed to list legs: %w", err)
	}
	return legs, nil
}

// UpdateState persists a new lifecycle state
func (r *LegRepository) UpdateState(id, state string) error {
	result, err := r.q.Exec(
		`UPDATE legs SET state = $2, updated_at = $3 WHERE id = $1`,
		id, state, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update leg state: %w", err)
	}
	return requireRow(result, "leg", id)
}

// SetBooking attaches a booking to the leg
func (r *LegRepository) SetBooking(id, bookingID string) error {
	result, err := r.q.Exec(
		`UPDATE legs SET booking_id = $2, updated_at = $3 WHERE id = $1`,
		id, bookingID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to attach booking to leg: %w", err)
	}
	return requireRow(result, "leg", id)
}
