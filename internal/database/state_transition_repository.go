package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// StateTransitionRepository writes the append-only state transition audit
// trail. Audit writes run outside the caller's transaction on purpose: an
// audit failure must never invalidate an accepted transition.
type StateTransitionRepository struct {
	q      Queryer
	logger *logrus.Logger
}

// NewStateTransitionRepository creates a new state transition repository
func NewStateTransitionRepository(db Queryer, logger *logrus.Logger) *StateTransitionRepository {
	return &StateTransitionRepository{q: db, logger: logger}
}

// Append inserts one audit record
func (r *StateTransitionRepository) Append(record *models.StateTransition) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO state_transitions (id, entity_type, item_id, old_state, new_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.q.Exec(query,
		record.ID, record.EntityType, record.ItemID, record.OldState, record.NewState, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append state transition: %w", err)
	}
	return nil
}

// ListByItem returns an entity's transition history, oldest first
func (r *StateTransitionRepository) ListByItem(entityType models.EntityType, itemID string) ([]models.StateTransition, error) {
	var records []models.StateTransition
	query := `
		SELECT id, entity_type, item_id, old_state, new_state, created_at
		FROM state_transitions WHERE entity_type = $1 AND item_id = $2 ORDER BY created_at`

	if err := r.q.Select(&records, query, entityType, itemID); err != nil {
		return nil, fmt.Errorf("failed to list state transitions: %w", err)
	}
	return records, nil
}
