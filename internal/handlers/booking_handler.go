package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pippuri/whim-bot-sub000/internal/database"
	"github.com/pippuri/whim-bot-sub000/internal/middleware"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/internal/services"
	"github.com/sirupsen/logrus"
)

// BookingHandler handles standalone booking operations. Bookings created
// here are ad-hoc: they carry their own fare and debit the caller's balance
// directly instead of riding on an itinerary's aggregate fare.
type BookingHandler struct {
	factory     *database.CoordinatorFactory
	bookings    *services.BookingLifecycleService
	bookingRepo *database.BookingRepository
	logger      *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(factory *database.CoordinatorFactory, bookings *services.BookingLifecycleService, bookingRepo *database.BookingRepository, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		factory:     factory,
		bookings:    bookings,
		bookingRepo: bookingRepo,
		logger:      logger,
	}
}

// Create creates a new ad-hoc booking
// @Summary Create a booking
// @Tags Bookings
// @Router /api/v1/bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	booking, err := h.inScope(c, identity.IdentityID, func(txn *database.Coordinator) (*models.Booking, error) {
		return h.bookings.Create(c.Request.Context(), txn, &req, identity.IdentityID)
	}, "")
	if err != nil {
		h.logger.WithError(err).Error("Failed to create booking")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// Get returns one of the caller's bookings
func (h *BookingHandler) Get(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	booking, err := h.ownedBooking(c.Param("id"), identity.IdentityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// List returns the caller's bookings
func (h *BookingHandler) List(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookings, err := h.bookingRepo.ListByIdentity(identity.IdentityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// Pay charges the booking fare against the caller's balance
func (h *BookingHandler) Pay(c *gin.Context) {
	h.lifecycle(c, func(txn *database.Coordinator, booking *models.Booking) (*models.Booking, error) {
		return h.bookings.Pay(c.Request.Context(), txn, booking, true)
	}, "Payment for booking")
}

// Reserve reserves the paid booking with its provider
func (h *BookingHandler) Reserve(c *gin.Context) {
	h.lifecycle(c, func(txn *database.Coordinator, booking *models.Booking) (*models.Booking, error) {
		return h.bookings.Reserve(c.Request.Context(), txn, booking)
	}, "")
}

// Cancel cancels the booking, refunding on a clean provider cancellation
func (h *BookingHandler) Cancel(c *gin.Context) {
	h.lifecycle(c, func(txn *database.Coordinator, booking *models.Booking) (*models.Booking, error) {
		return h.bookings.Cancel(c.Request.Context(), txn, booking, true)
	}, "Refund for cancelled booking")
}

// Refresh reconciles the booking from the provider's current state
func (h *BookingHandler) Refresh(c *gin.Context) {
	h.lifecycle(c, func(txn *database.Coordinator, booking *models.Booking) (*models.Booking, error) {
		return h.bookings.Refresh(c.Request.Context(), txn, booking)
	}, "")
}

// lifecycle loads the caller's booking, runs op in a coordinator scope and
// commits. ledgerPrefix, when set, records the operation in the ledger iff
// the scope moved points.
func (h *BookingHandler) lifecycle(c *gin.Context, op func(*database.Coordinator, *models.Booking) (*models.Booking, error), ledgerPrefix string) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookingID := c.Param("id")
	booking, err := h.inScope(c, identity.IdentityID, func(txn *database.Coordinator) (*models.Booking, error) {
		booking, err := txn.Bookings().GetByID(bookingID)
		if err != nil {
			return nil, err
		}
		if booking.IdentityID != identity.IdentityID {
			return nil, models.NewOwnershipError("booking %s does not belong to the caller", bookingID)
		}
		return op(txn, booking)
	}, ledgerPrefix)
	if err != nil {
		h.logger.WithError(err).WithField("booking_id", bookingID).Warn("Booking operation failed")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *BookingHandler) inScope(c *gin.Context, identityID string, fn func(*database.Coordinator) (*models.Booking, error), ledgerPrefix string) (*models.Booking, error) {
	txn, err := h.factory.Begin(c.Request.Context(), identityID, "")
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	booking, err := fn(txn)
	if err != nil {
		return nil, err
	}

	message := ""
	if ledgerPrefix != "" && txn.Value() != 0 {
		message = ledgerPrefix + " " + booking.ID
	}
	if err := txn.Commit(c.Request.Context(), message); err != nil {
		return nil, err
	}
	return booking, nil
}

func (h *BookingHandler) ownedBooking(bookingID, identityID string) (*models.Booking, error) {
	booking, err := h.bookingRepo.GetByID(bookingID)
	if err != nil {
		return nil, err
	}
	if booking.IdentityID != identityID {
		return nil, models.NewOwnershipError("booking %s does not belong to the caller", bookingID)
	}
	return booking, nil
}
