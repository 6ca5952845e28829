package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
)

// respondErr maps domain errors onto HTTP responses. Anything unrecognised
// is logged and reported without detail.
func respondErr(c *gin.Context, err error) {
	var ve *attendance.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "problems": ve.Problems})
	case errors.Is(err, attendance.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrEventClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "Class has been closed for attendance"})
	case errors.Is(err, attendance.ErrNoEvent):
		c.JSON(http.StatusNotFound, gin.H{"error": noEventMessage(current(c))})
	case errors.Is(err, attendance.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect username or password"})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
	}
}
