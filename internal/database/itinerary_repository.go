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

// ItineraryRepository handles itinerary persistence
type ItineraryRepository struct {
	q      Queryer
	logger *logrus.Logger
}

// NewItineraryRepository creates a new itinerary repository
func NewItineraryRepository(db Queryer, logger *logrus.Logger) *ItineraryRepository {
	return &ItineraryRepository{q: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *ItineraryRepository) WithTx(tx *sqlx.Tx) *ItineraryRepository {
	return &ItineraryRepository{q: tx, logger: r.logger}
}

// Create inserts a new itinerary row
func (r *ItineraryRepository) Create(itinerary *models.Itinerary) error {
	now := time.Now()
	itinerary.CreatedAt = now
	itinerary.UpdatedAt = now

	query := `
		INSERT INTO itineraries (id, identity_id, state, fare, start_time, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.q.Exec(query,
		itinerary.ID, itinerary.IdentityID, itinerary.State, itinerary.Fare,
		itinerary.StartTime, itinerary.EndTime, itinerary.CreatedAt, itinerary.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create itinerary: %w", err)
	}
	return nil
}

// GetByID returns one itinerary without its legs
func (r *ItineraryRepository) GetByID(id string) (*models.Itinerary, error) {
	var itinerary models.Itinerary
	query := `
		SELECT id, identity_id, state, fare, start_time, end_time, created_at, updated_at
		FROM itineraries WHERE id = $1`

	if err := r.q.Get(&itinerary, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("itinerary %s not found", id)
		}
		return nil, fmt.Errorf("failed to get itinerary: %w", err)
	}
	return &itinerary, nil
}

// UpdateState persists a new lifecycle state
func (r *ItineraryRepository) UpdateState(id, state string) error {
	result, err := r.q.Exec(
		`UPDATE itineraries SET state = $2, updated_at = $3 WHERE id = $1`,
		id, state, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update itinerary state: %w", err)
	}
	return requireRow(result, "itinerary", id)
}

// ListByIdentity returns the caller's itineraries, newest first
func (r *ItineraryRepository) ListByIdentity(identityID string) ([]models.Itinerary, error) {
	var itineraries []models.Itinerary
	query := `
		SELECT id, identity_id, state, fare, start_time, end_time, created_at, updated_at
		FROM itineraries WHERE identity_id = $1 ORDER BY start_time DESC`

	if err := r.q.Select(&itineraries, query, identityID); err != nil {
		return nil, fmt.Errorf("failed to list itineraries: %w", err)
	}
	return itineraries, nil
}

// requireRow converts a zero-row update into a not-found error
func requireRow(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return models.NewNotFoundError("%s %s not found", entity, id)
	}
	return nil
}
