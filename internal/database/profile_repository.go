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

// ProfileRepository handles the traveler profile and its point balance. The
// balance is only ever mutated through IncreaseBalance/DecreaseBalance, which
// reject non-positive amounts and never let the persisted balance go
// negative.
type ProfileRepository struct {
	q      Queryer
	logger *logrus.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db Queryer, logger *logrus.Logger) *ProfileRepository {
	return &ProfileRepository{q: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *ProfileRepository) WithTx(tx *sqlx.Tx) *ProfileRepository {
	return &ProfileRepository{q: tx, logger: r.logger}
}

// Retrieve returns one profile
func (r *ProfileRepository) Retrieve(identityID string) (*models.Profile, error) {
	var profile models.Profile
	query := `SELECT identity_id, balance, plan, created_at, updated_at FROM profiles WHERE identity_id = $1`

	if err := r.q.Get(&profile, query, identityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("profile %s not found", identityID)
		}
		return nil, fmt.Errorf("failed to retrieve profile: %w", err)
	}
	return &profile, nil
}

// IncreaseBalance credits points and returns the resulting balance
func (r *ProfileRepository) IncreaseBalance(identityID string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, models.NewValidationError("balance credit must be positive, got %v", amount)
	}

	var balance float64
	query := `
		UPDATE profiles SET balance = balance + $2, updated_at = $3
		WHERE identity_id = $1
		RETURNING balance`

	err := r.q.Get(&balance, query, identityID, amount, time.Now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.NewNotFoundError("profile %s not found", identityID)
		}
		return 0, fmt.Errorf("failed to increase balance: %w", err)
	}
	return balance, nil
}

// DecreaseBalance debits points and returns the resulting balance. The debit
// is guarded in SQL so a concurrent debit can never drive the balance below
// zero regardless of isolation level.
func (r *ProfileRepository) DecreaseBalance(identityID string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, models.NewValidationError("balance debit must be positive, got %v", amount)
	}

	var balance float64
	query := `
		UPDATE profiles SET balance = balance - $2, updated_at = $3
		WHERE identity_id = $1 AND balance >= $2
		RETURNING balance`

	err := r.q.Get(&balance, query, identityID, amount, time.Now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing profile from an insufficient balance.
			if _, lookupErr := r.Retrieve(identityID); lookupErr != nil {
				return 0, lookupErr
			}
			return 0, models.NewValidationError("insufficient balance for debit of %v points", amount)
		}
		return 0, fmt.Errorf("failed to decrease balance: %w", err)
	}
	return balance, nil
}

// UpdatePlan changes the traveler's subscription plan
func (r *ProfileRepository) UpdatePlan(identityID, plan string) error {
	result, err := r.q.Exec(
		`UPDATE profiles SET plan = $2, updated_at = $3 WHERE identity_id = $1`,
		identityID, plan, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return requireRow(result, "profile", identityID)
}
