package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingRepository handles booking persistence
type BookingRepository struct {
	q      Queryer
	logger *logrus.Logger
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db Queryer, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{q: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *BookingRepository) WithTx(tx *sqlx.Tx) *BookingRepository {
	return &BookingRepository{q: tx, logger: r.logger}
}

const bookingColumns = `id, identity_id, state, leg, customer, fare, tsp_id,
	ticket_type, terms, meta, created_at, updated_at`

// Create inserts one booking row
func (r *BookingRepository) Create(booking *models.Booking) error {
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.q.Exec(query,
		booking.ID, booking.IdentityID, booking.State, booking.Leg, booking.Customer,
		booking.Fare, booking.TSPID, booking.TicketType, booking.Terms, booking.Meta,
		booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetByID returns one booking
func (r *BookingRepository) GetByID(id string) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	if err := r.q.Get(&booking, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("booking %s not found", id)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// Update persists mutable booking fields (state and provider-reported data)
func (r *BookingRepository) Update(booking *models.Booking) error {
	booking.UpdatedAt = time.Now()

	query := `
		UPDATE bookings
		SET state = $2, fare = $3, tsp_id = $4, ticket_type = $5, terms = $6,
			meta = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.q.Exec(query,
		booking.ID, booking.State, booking.Fare, booking.TSPID, booking.TicketType,
		booking.Terms, booking.Meta, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return requireRow(result, "booking", booking.ID)
}

// FindReusable returns the owner's live bookings for an agency and mode whose
// validity window reaches at least validUntil. Used by the leg lifecycle's
// booking-reuse search.
func (r *BookingRepository) FindReusable(identityID, agencyID, mode string, validUntil time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE identity_id = $1
			AND state = ANY($2)
			AND leg->>'agency_id' = $3
			AND leg->>'mode' = $4
			AND (leg->>'end_time')::timestamptz >= $5
		ORDER BY created_at DESC`

	states := pq.Array([]string{models.StateReserved, models.StateConfirmed, models.StateActivated})
	if err := r.q.Select(&bookings, query, identityID, states, agencyID, mode, validUntil); err != nil {
		return nil, fmt.Errorf("failed to search reusable bookings: %w", err)
	}
	return bookings, nil
}

// ListByIdentity returns the caller's bookings, newest first
func (r *BookingRepository) ListByIdentity(identityID string) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE identity_id = $1 ORDER BY created_at DESC`

	if err := r.q.Select(&bookings, query, identityID); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}
