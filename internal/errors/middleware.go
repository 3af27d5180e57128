package errors

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Err writes err as a JSON response using the status code carried by *Error.
func Err(c *gin.Context, err error) {
	if err == nil {
		return
	}
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(err, "internal error")
	}
	code := e.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	if code >= http.StatusInternalServerError {
		log.Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.AbortWithStatusJSON(code, gin.H{"error": e.Error(), "kind": e.Kind})
}

// RecoveryMiddleware turns panics into 500 responses instead of killing the server.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// ErrorHandlerMiddleware renders the last error attached with c.Error.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Err(c, c.Errors.Last().Err)
	}
}
