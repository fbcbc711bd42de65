package database

import (
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupProfileTest(t *testing.T) (*ProfileRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewProfileRepository(sqlxDB, testLogger())

	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

func TestRetrieveProfile(t *testing.T) {
	repo, mock, cleanup := setupProfileTest(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT identity_id, balance, plan").
		WithArgs("identity-1").
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "balance", "plan", "created_at", "updated_at"}).
			AddRow("identity-1", 500.0, "whim-medium", now, now))

	profile, err := repo.Retrieve("identity-1")
	require.NoError(t, err)
	assert.Equal(t, "identity-1", profile.IdentityID)
	assert.Equal(t, 500.0, profile.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieveProfileNotFound(t *testing.T) {
	repo, mock, cleanup := setupProfileTest(t)
	defer cleanup()

	mock.ExpectQuery("SELECT identity_id, balance, plan").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "balance", "plan", "created_at", "updated_at"}))

	_, err := repo.Retrieve("missing")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeNotFound))
}

func TestIncreaseBalance(t *testing.T) {
	repo, mock, cleanup := setupProfileTest(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE profiles SET balance = balance \\+").
		WithArgs("identity-1", 65.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(565.0))

	balance, err := repo.IncreaseBalance("identity-1", 65)
	require.NoError(t, err)
	assert.Equal(t, 565.0, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncreaseBalanceRejectsNonPositive(t *testing.T) {
	repo, _, cleanup := setupProfileTest(t)
	defer cleanup()

	_, err := repo.IncreaseBalance("identity-1", 0)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeValidation))

	_, err = repo.IncreaseBalance("identity-1", -10)
	require.Error(t, err)
}

func TestDecreaseBalance(t *testing.T) {
	repo, mock, cleanup := setupProfileTest(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE profiles SET balance = balance -").
		WithArgs("identity-1", 245.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(255.0))

	balance, err := repo.DecreaseBalance("identity-1", 245)
	require.NoError(t, err)
	assert.Equal(t, 255.0, balance)
}

func TestDecreaseBalanceInsufficient(t *testing.T) {
	repo, mock, cleanup := setupProfileTest(t)
	defer cleanup()

	// The guarded update matches no row, then the lookup finds the profile:
	// the failure is an insufficient balance, not a missing profile.
	mock.ExpectQuery("UPDATE profiles SET balance = balance -").
		WithArgs("identity-1", 1000.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	now := time.Now()
	mock.ExpectQuery("SELECT identity_id, balance, plan").
		WithArgs("identity-1").
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "balance", "plan", "created_at", "updated_at"}).
			AddRow("identity-1", 500.0, "whim-medium", now, now))

	_, err := repo.DecreaseBalance("identity-1", 1000)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeValidation))
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestDecreaseBalanceProfileMissing(t *testing.T) {
	repo, mock, cleanup := setupProfileTest(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE profiles SET balance = balance -").
		WithArgs("missing", 10.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectQuery("SELECT identity_id, balance, plan").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "balance", "plan", "created_at", "updated_at"}))

	_, err := repo.DecreaseBalance("missing", 10)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeNotFound))
}
