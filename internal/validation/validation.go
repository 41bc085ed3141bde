// Package validation provides input validation middleware for the ATM API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (64KB). ATM requests are
// tiny JSON bodies; anything bigger is garbage or abuse.
const MaxRequestSize = 64 << 10

// cardIDRegex validates card identifiers: short, alphanumeric with dashes.
var cardIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// CardIDMiddleware rejects malformed card ids before they reach a handler.
func CardIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cardID := c.Param("cardId"); cardID != "" && !IsValidCardID(cardID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": "invalid card id",
			})
			return
		}
		c.Next()
	}
}

// IsValidCardID checks that a card id is well-formed.
func IsValidCardID(cardID string) bool {
	return cardIDRegex.MatchString(cardID)
}

// SanitizeLocation normalizes a client-supplied ATM location label. Empty or
// oversized values collapse to UNKNOWN, which the travel rule ignores.
func SanitizeLocation(loc string) string {
	loc = strings.TrimSpace(strings.ReplaceAll(loc, "\x00", ""))
	if loc == "" || len(loc) > 100 {
		return "UNKNOWN"
	}
	return loc
}
