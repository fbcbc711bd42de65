package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pippuri/whim-bot-sub000/internal/config"
	"github.com/pippuri/whim-bot-sub000/internal/database"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legTestSetup(t *testing.T, adapter *fakeAdapter) (*LegLifecycleService, *database.Coordinator, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	logger := testLogger()
	factory := database.NewCoordinatorFactory(sqlxDB, logger)

	registry := specRegistry()
	registry.Register(adapter, config.ProviderConfig{
		AgencyID:    adapter.agencyID,
		Purchasable: true,
		PriceSpecs:  []config.PriceSpecConfig{{Type: string(models.TypePerMinute), Value: 15}},
	})

	stateMachine := NewStateMachineService(nil, nil, logger)
	bookings := NewBookingLifecycleService(stateMachine, registry, logger)
	service := NewLegLifecycleService(stateMachine, bookings, NewPriceResolverService(), registry, time.Hour, logger)

	mock.ExpectBegin()
	txn, err := factory.Begin(context.Background(), "identity-1", "")
	require.NoError(t, err)

	cleanup := func() {
		txn.Rollback()
		db.Close()
	}
	return service, txn, mock, cleanup
}

func paidTaxiLeg() *models.Leg {
	agency := "Valopilkku"
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return &models.Leg{
		ID:          "leg-1",
		ItineraryID: "it-1",
		State:       models.StatePaid,
		Mode:        models.ModeTaxi,
		AgencyID:    &agency,
		From:        models.Location{Lat: 60.1699, Lon: 24.9384},
		To:          models.Location{Lat: 60.2055, Lon: 24.6559},
		StartTime:   start,
		EndTime:     start.Add(12 * time.Minute),
		Fare:        &models.Fare{Amount: 180, Currency: models.CurrencyPoint},
	}
}

func bookingRows(id, state string) *sqlmock.Rows {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	legJSON := `{"mode":"TAXI","agency_id":"Valopilkku",` +
		`"from":{"lat":60.1699,"lon":24.9384},"to":{"lat":60.2055,"lon":24.6559},` +
		`"start_time":"2026-08-30T10:00:00Z","end_time":"2026-08-30T12:00:00Z"}`
	return sqlmock.
		NewRows([]string{"id", "identity_id", "state", "leg", "customer", "fare", "tsp_id", "ticket_type", "terms", "meta", "created_at", "updated_at"}).
		AddRow(id, "identity-1", state, []byte(legJSON), []byte(`{"identity_id":"identity-1"}`),
			[]byte(`{"amount":180,"currency":"POINT"}`), "tsp-9", nil, nil, nil, now, now)
}

func TestActivateReusesExistingBooking(t *testing.T) {
	service, txn, mock, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM bookings").
		WithArgs("identity-1", sqlmock.AnyArg(), "Valopilkku", models.ModeTaxi, sqlmock.AnyArg()).
		WillReturnRows(bookingRows("booking-9", models.StateReserved))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE profiles SET balance = balance \\+").
		WithArgs("identity-1", 180.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(500.0))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	leg, err := service.Activate(context.Background(), txn, paidTaxiLeg(), ActivateOptions{TryReuseBooking: true})
	require.NoError(t, err)

	assert.Equal(t, models.StateActivated, leg.State)
	require.NotNil(t, leg.BookingID)
	assert.Equal(t, "booking-9", *leg.BookingID)
	assert.Equal(t, 180.0, txn.Value(), "the leg fare comes back when an existing ticket covers it")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReuseValidityCutoffTracksLegStart(t *testing.T) {
	service, txn, mock, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	leg := paidTaxiLeg()
	// The cutoff is keyed to the leg's departure, not the wall clock: a
	// ticket must stay valid through the reuse window past the leg's start
	// even when the leg is activated well in advance.
	cutoff := leg.StartTime.Add(time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM bookings").
		WithArgs("identity-1", sqlmock.AnyArg(), "Valopilkku", models.ModeTaxi, cutoff).
		WillReturnRows(bookingRows("booking-9", models.StateReserved))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE profiles SET balance = balance \\+").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(500.0))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := service.Activate(context.Background(), txn, leg, ActivateOptions{TryReuseBooking: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateBuysBookingWhenNoneReusable(t *testing.T) {
	service, txn, mock, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	// Pay runs without a debit and Reserve succeeds, so two booking updates
	// follow the insert.
	mock.ExpectExec("INSERT INTO bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	leg, err := service.Activate(context.Background(), txn, paidTaxiLeg(), ActivateOptions{TryReuseBooking: false})
	require.NoError(t, err)

	assert.Equal(t, models.StateActivated, leg.State)
	require.NotNil(t, leg.BookingID)
	assert.Zero(t, txn.Value(), "the fresh booking rides on the already-debited leg fare")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateNonBookableLeg(t *testing.T) {
	service, txn, mock, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	leg := paidTaxiLeg()
	leg.Mode = models.ModeWalk
	leg.AgencyID = nil
	leg.Fare = &models.Fare{Amount: 0, Currency: models.CurrencyPoint}

	leg, err := service.Activate(context.Background(), txn, leg, ActivateOptions{TryReuseBooking: true})
	require.NoError(t, err)
	assert.Equal(t, models.StateActivated, leg.State)
	assert.Nil(t, leg.BookingID)
	assert.NoError(t, mock.ExpectationsWereMet(), "walking takes no reservation")
}

func TestReserveRejectsNonBookableLeg(t *testing.T) {
	service, txn, _, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	leg := paidTaxiLeg()
	leg.Mode = models.ModeWalk

	_, err := service.Reserve(context.Background(), txn, leg, ActivateOptions{})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeValidation))
}

func TestCancelCleanLegRefundsFare(t *testing.T) {
	service, txn, mock, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE profiles SET balance = balance \\+").
		WithArgs("identity-1", 180.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(500.0))

	leg, err := service.Cancel(context.Background(), txn, paidTaxiLeg(), true)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, leg.State)
	assert.Equal(t, 180.0, txn.Value())
}

func TestCancelDirtyBookingDegradesLeg(t *testing.T) {
	adapter := &fakeAdapter{agencyID: "Valopilkku", cancelErr: errors.New("gateway down")}
	service, txn, mock, cleanup := legTestSetup(t, adapter)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs("booking-9").
		WillReturnRows(bookingRows("booking-9", models.StateReserved))
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	leg := paidTaxiLeg()
	bookingID := "booking-9"
	leg.BookingID = &bookingID

	leg, err := service.Cancel(context.Background(), txn, leg, true)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelledWithErrors, leg.State)
	assert.Zero(t, txn.Value(), "a dirty cancellation forfeits the refund")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishLegFinishesBooking(t *testing.T) {
	service, txn, mock, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs("booking-9").
		WillReturnRows(bookingRows("booking-9", models.StateActivated))
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	leg := paidTaxiLeg()
	leg.State = models.StateActivated
	bookingID := "booking-9"
	leg.BookingID = &bookingID

	leg, err := service.Finish(context.Background(), txn, leg)
	require.NoError(t, err)
	assert.Equal(t, models.StateFinished, leg.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayLegPaysAttachedBooking(t *testing.T) {
	service, txn, mock, cleanup := legTestSetup(t, &fakeAdapter{agencyID: "Valopilkku"})
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs("booking-9").
		WillReturnRows(bookingRows("booking-9", models.StatePending))
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE legs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	leg := paidTaxiLeg()
	leg.State = models.StatePlanned
	bookingID := "booking-9"
	leg.BookingID = &bookingID

	leg, err := service.Pay(context.Background(), txn, leg, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaid, leg.State)
	assert.Zero(t, txn.Value(), "the itinerary-level debit already covered this leg")
}
