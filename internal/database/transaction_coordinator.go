package database

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// Isolation levels accepted by Begin. READ COMMITTED is the default;
// anything outside this set fails fast.
const (
	IsolationReadCommitted  = "READ COMMITTED"
	IsolationRepeatableRead = "REPEATABLE READ"
	IsolationSerializable   = "SERIALIZABLE"
)

// CoordinatorFactory builds transaction coordinators over one connection
// pool. Lifecycle services receive the factory so itinerary fan-out can open
// independent scopes per leg.
type CoordinatorFactory struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewCoordinatorFactory creates a coordinator factory
func NewCoordinatorFactory(db *sqlx.DB, logger *logrus.Logger) *CoordinatorFactory {
	return &CoordinatorFactory{db: db, logger: logger}
}

// Begin opens a relational transaction at the requested isolation level and
// returns the coordinator scoping it. An empty level means READ COMMITTED.
func (f *CoordinatorFactory) Begin(ctx context.Context, identityID, level string) (*Coordinator, error) {
	isolation, err := parseIsolation(level)
	if err != nil {
		return nil, err
	}

	tx, err := f.db.BeginTxx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return nil, models.NewInternalError(err, "failed to begin transaction")
	}

	return &Coordinator{
		tx:         tx,
		logger:     f.logger,
		identityID: identityID,
		touched:    make(map[string]map[string]bool),
	}, nil
}

func parseIsolation(level string) (sql.IsolationLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "", IsolationReadCommitted:
		return sql.LevelReadCommitted, nil
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case IsolationSerializable:
		return sql.LevelSerializable, nil
	default:
		return 0, models.NewValidationError("unknown isolation level %q", level)
	}
}

// Coordinator scopes one saga's relational work: every repository handle it
// hands out runs in the same transaction, it accumulates the net point delta
// and the set of touched entities, and Commit writes the ledger entry in the
// same transaction so the ledger and the state change are atomic together.
//
// External provider calls are NOT covered by this scope. They cannot be
// rolled back; callers compensate them explicitly.
type Coordinator struct {
	tx         *sqlx.Tx
	logger     *logrus.Logger
	identityID string
	value      float64
	touched    map[string]map[string]bool
	finished   bool
}

// IdentityID returns the identity this scope acts on behalf of.
func (c *Coordinator) IdentityID() string {
	return c.identityID
}

// Tx exposes the underlying transaction for repositories outside the typed
// accessors below.
func (c *Coordinator) Tx() *sqlx.Tx {
	return c.tx
}

// Itineraries returns an itinerary repository bound to this transaction.
func (c *Coordinator) Itineraries() *ItineraryRepository {
	return &ItineraryRepository{q: c.tx, logger: c.logger}
}

// Legs returns a leg repository bound to this transaction.
func (c *Coordinator) Legs() *LegRepository {
	return &LegRepository{q: c.tx, logger: c.logger}
}

// Bookings returns a booking repository bound to this transaction.
func (c *Coordinator) Bookings() *BookingRepository {
	return &BookingRepository{q: c.tx, logger: c.logger}
}

// Profiles returns a profile repository bound to this transaction.
func (c *Coordinator) Profiles() *ProfileRepository {
	return &ProfileRepository{q: c.tx, logger: c.logger}
}

// Meta records that this transaction touched an entity. Set semantics:
// recording the same id twice has no extra effect.
func (c *Coordinator) Meta(tableName, id string) {
	if c.touched[tableName] == nil {
		c.touched[tableName] = make(map[string]bool)
	}
	c.touched[tableName][id] = true
}

// IncreaseValue adds a credit to the net point delta of this transaction.
func (c *Coordinator) IncreaseValue(amount float64) error {
	if amount <= 0 {
		return models.NewValidationError("value increase must be positive, got %v", amount)
	}
	c.value += amount
	return nil
}

// DecreaseValue adds a debit to the net point delta of this transaction.
func (c *Coordinator) DecreaseValue(amount float64) error {
	if amount <= 0 {
		return models.NewValidationError("value decrease must be positive, got %v", amount)
	}
	c.value -= amount
	return nil
}

// Value returns the accumulated net point delta.
func (c *Coordinator) Value() float64 {
	return c.value
}

// Commit finalizes the transaction. With a message, a ledger entry carrying
// the net point delta and the touched-entity set is inserted first, in the
// same transaction. An empty message commits silently; read-only and
// non-financial transactions leave no ledger trace.
func (c *Coordinator) Commit(ctx context.Context, message string) error {
	if c.finished {
		return models.NewInternalError(nil, "transaction already finished")
	}

	if message != "" {
		entry := &models.TransactionLog{
			ID:         uuid.NewString(),
			IdentityID: c.identityID,
			Message:    message,
			Value:      c.value,
			Meta:       models.JSONMap{"touched": c.touchedMeta()},
		}
		ledger := &TransactionLogRepository{q: c.tx, logger: c.logger}
		if err := ledger.Append(entry); err != nil {
			c.rollbackQuietly()
			return models.NewInternalError(err, "failed to write ledger entry")
		}

		c.logger.WithFields(logrus.Fields{
			"identity_id": c.identityID,
			"message":     message,
			"value":       c.value,
		}).Info("Committing transaction with ledger entry")
	}

	if err := c.tx.Commit(); err != nil {
		return models.NewInternalError(err, "failed to commit transaction")
	}
	c.finished = true
	return nil
}

// Rollback aborts the transaction. No ledger entry is written. Safe to call
// after Commit, so callers can defer it unconditionally.
func (c *Coordinator) Rollback() error {
	if c.finished {
		return nil
	}
	c.finished = true
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return models.NewInternalError(err, "failed to roll back transaction")
	}
	return nil
}

func (c *Coordinator) rollbackQuietly() {
	c.finished = true
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		c.logger.WithError(err).Error("Rollback after ledger failure also failed")
	}
}

// touchedMeta renders the touched-entity set with stable ordering.
func (c *Coordinator) touchedMeta() map[string][]string {
	meta := make(map[string][]string, len(c.touched))
	for table, ids := range c.touched {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		meta[table] = list
	}
	return meta
}
