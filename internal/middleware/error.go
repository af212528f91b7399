package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/logging"
)

// Abort stops the chain and renders err as the JSON error body
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := apperr.Response(err)
	c.AbortWithStatusJSON(status, body)
}

// ErrorHandler recovers panics and renders errors that handlers attached
// with c.Error but did not write themselves
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.Ctx(c.Request.Context()).Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Msg("recovered from panic")
				status, body := apperr.Response(nil)
				c.AbortWithStatusJSON(status, body)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		status, body := apperr.Response(c.Errors.Last().Err)
		c.JSON(status, body)
	}
}
