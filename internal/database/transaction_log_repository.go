package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// TransactionLogRepository writes the append-only point ledger. Entries are
// inserted inside the transaction they describe, never updated or deleted.
type TransactionLogRepository struct {
	q      Queryer
	logger *logrus.Logger
}

// NewTransactionLogRepository creates a new transaction log repository
func NewTransactionLogRepository(db Queryer, logger *logrus.Logger) *TransactionLogRepository {
	return &TransactionLogRepository{q: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *TransactionLogRepository) WithTx(tx *sqlx.Tx) *TransactionLogRepository {
	return &TransactionLogRepository{q: tx, logger: r.logger}
}

// Append inserts one ledger entry
func (r *TransactionLogRepository) Append(entry *models.TransactionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO transaction_log (id, identity_id, message, value, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.q.Exec(query,
		entry.ID, entry.IdentityID, entry.Message, entry.Value, entry.Meta, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction log: %w", err)
	}
	return nil
}

// ListByIdentity returns the caller's ledger entries, newest first
func (r *TransactionLogRepository) ListByIdentity(identityID string) ([]models.TransactionLog, error) {
	var entries []models.TransactionLog
	query := `
		SELECT id, identity_id, message, value, meta, created_at
		FROM transaction_log WHERE identity_id = $1 ORDER BY created_at DESC`

	if err := r.q.Select(&entries, query, identityID); err != nil {
		return nil, fmt.Errorf("failed to list transaction log: %w", err)
	}
	return entries, nil
}
