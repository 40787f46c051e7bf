package correlation

import (
	"github.com/gin-gonic/gin"
)

// ginKey is the gin.Context key the middleware stores the id under.
const ginKey = "correlation_id"

// Middleware reads the correlation id from header (Header when empty), mints a
// new one when it is missing or malformed, and makes it available to handlers
// through both gin.Context and the request context. The id is echoed back in
// the response header.
func Middleware(header string) gin.HandlerFunc {
	if header == "" {
		header = Header
	}
	return func(c *gin.Context) {
		id, ok := Normalize(c.GetHeader(header))
		if !ok {
			id = New()
		}
		c.Set(ginKey, id)
		c.Request = c.Request.WithContext(WithID(c.Request.Context(), id))
		c.Header(header, id)
		c.Next()
	}
}

// FromGin returns the id stored by Middleware.
func FromGin(c *gin.Context) string {
	return c.GetString(ginKey)
}
