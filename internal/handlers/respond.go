package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pippuri/whim-bot-sub000/internal/models"
)

// respondError maps a service error onto its HTTP shape. Domain errors carry
// their own status and code; anything untyped is a 500.
func respondError(c *gin.Context, err error) {
	var de *models.DomainError
	if errors.As(err, &de) {
		c.JSON(de.HTTPStatus(), gin.H{
			"error":   string(de.Code),
			"message": de.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   string(models.ErrCodeInternal),
		"message": "internal server error",
	})
}
