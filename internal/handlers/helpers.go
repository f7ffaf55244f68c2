package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// TimestampFormat is the layout of the timestamp field in API responses
const TimestampFormat = "2006-01-02 15:04:05"

// WriteDetail writes an error in the {"detail": ...} shape API clients expect.
func WriteDetail(c *gin.Context, statusCode int, detail string) {
	c.JSON(statusCode, gin.H{"detail": detail})
}

// WriteError writes a standard error JSON response.
func WriteError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"status":  "error",
		"message": message,
	})
}

// Timestamp formats t for response bodies.
func Timestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}
