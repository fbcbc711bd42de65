package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pippuri/whim-bot-sub000/internal/database"
	"github.com/pippuri/whim-bot-sub000/internal/middleware"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/pippuri/whim-bot-sub000/internal/services"
	"github.com/sirupsen/logrus"
)

// ProfileHandler handles profile balance and ledger operations
type ProfileHandler struct {
	factory      *database.CoordinatorFactory
	profileRepo  *database.ProfileRepository
	ledgerRepo   *database.TransactionLogRepository
	stateMachine *services.StateMachineService
	logger       *logrus.Logger
}

// NewProfileHandler creates a new ProfileHandler
func NewProfileHandler(factory *database.CoordinatorFactory, profileRepo *database.ProfileRepository, ledgerRepo *database.TransactionLogRepository, stateMachine *services.StateMachineService, logger *logrus.Logger) *ProfileHandler {
	return &ProfileHandler{
		factory:      factory,
		profileRepo:  profileRepo,
		ledgerRepo:   ledgerRepo,
		stateMachine: stateMachine,
		logger:       logger,
	}
}

// Get returns the caller's profile with its point balance
func (h *ProfileHandler) Get(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	profile, err := h.profileRepo.Retrieve(identity.IdentityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// TopUpRequest adds points to the caller's balance.
type TopUpRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// TopUp credits the caller's balance and records the credit in the ledger
func (h *ProfileHandler) TopUp(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	txn, err := h.factory.Begin(c.Request.Context(), identity.IdentityID, "")
	if err != nil {
		respondError(c, err)
		return
	}
	defer txn.Rollback()

	balance, err := txn.Profiles().IncreaseBalance(identity.IdentityID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := txn.IncreaseValue(req.Amount); err != nil {
		respondError(c, err)
		return
	}
	txn.Meta("profiles", identity.IdentityID)

	if err := txn.Commit(c.Request.Context(), fmt.Sprintf("Balance top-up for %s", identity.IdentityID)); err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"identity_id": identity.IdentityID,
		"amount":      req.Amount,
	}).Info("Balance topped up")
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// Transactions returns the caller's ledger entries, newest first
func (h *ProfileHandler) Transactions(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	entries, err := h.ledgerRepo.ListByIdentity(identity.IdentityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}

// States lists every known lifecycle state for an entity type
func (h *ProfileHandler) States(c *gin.Context) {
	states, err := h.stateMachine.AllStates(models.EntityType(c.Param("entityType")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": states})
}
