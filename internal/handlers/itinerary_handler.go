package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pippuri/whim-bot-sub000/internal/middleware"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/internal/services"
	"github.com/sirupsen/logrus"
)

// ItineraryHandler handles itinerary planning and lifecycle operations
type ItineraryHandler struct {
	itineraries *services.ItineraryLifecycleService
	logger      *logrus.Logger
}

// NewItineraryHandler creates a new ItineraryHandler
func NewItineraryHandler(itineraries *services.ItineraryLifecycleService, logger *logrus.Logger) *ItineraryHandler {
	return &ItineraryHandler{itineraries: itineraries, logger: logger}
}

// QuoteRequest prices a batch of candidate itineraries.
type QuoteRequest struct {
	Itineraries []models.CreateItineraryRequest `json:"itineraries" binding:"required"`
}

// Quote prices candidate itineraries without persisting anything
// @Summary Price candidate itineraries
// @Tags Itineraries
// @Router /api/v1/itineraries/quote [post]
func (h *ItineraryHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	quotes, err := h.itineraries.Quote(c.Request.Context(), req.Itineraries)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"itineraries": quotes})
}

// Create persists a new planned itinerary for the caller
// @Summary Create an itinerary
// @Tags Itineraries
// @Router /api/v1/itineraries [post]
func (h *ItineraryHandler) Create(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreateItineraryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	itinerary, err := h.itineraries.Create(c.Request.Context(), identity.IdentityID, &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create itinerary")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, itinerary)
}

// Get returns one of the caller's itineraries with its legs
func (h *ItineraryHandler) Get(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	itinerary, err := h.itineraries.Get(c.Request.Context(), identity.IdentityID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, itinerary)
}

// List returns the caller's itineraries
func (h *ItineraryHandler) List(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	itineraries, err := h.itineraries.List(c.Request.Context(), identity.IdentityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"itineraries": itineraries})
}

// Pay purchases the itinerary
// @Summary Pay for an itinerary
// @Tags Itineraries
// @Router /api/v1/itineraries/{id}/pay [post]
func (h *ItineraryHandler) Pay(c *gin.Context) {
	h.transition(c, h.itineraries.Pay)
}

// Activate starts the paid itinerary
func (h *ItineraryHandler) Activate(c *gin.Context) {
	h.transition(c, h.itineraries.Activate)
}

// Finish completes the itinerary
func (h *ItineraryHandler) Finish(c *gin.Context) {
	h.transition(c, h.itineraries.Finish)
}

// Cancel cancels the itinerary and all its legs
func (h *ItineraryHandler) Cancel(c *gin.Context) {
	h.transition(c, h.itineraries.Cancel)
}

// ReserveLeg reserves one leg of the itinerary on demand
func (h *ItineraryHandler) ReserveLeg(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	leg, err := h.itineraries.ReserveLeg(c.Request.Context(), identity.IdentityID, c.Param("id"), c.Param("legId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, leg)
}

type itineraryTransition func(ctx context.Context, identityID, itineraryID string) (*models.Itinerary, error)

func (h *ItineraryHandler) transition(c *gin.Context, op itineraryTransition) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	itinerary, err := op(c.Request.Context(), identity.IdentityID, c.Param("id"))
	if err != nil {
		h.logger.WithError(err).WithField("itinerary_id", c.Param("id")).Warn("Itinerary transition failed")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, itinerary)
}
