package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an HTTP-facing error raised by middleware and handlers outside the service layer.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error.
func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

var (
	ErrBadRequest     = New(http.StatusBadRequest, "Bad request", nil)
	ErrUnauthorized   = New(http.StatusUnauthorized, "Unauthorized", nil)
	ErrForbidden      = New(http.StatusForbidden, "Forbidden", nil)
	ErrNotFound       = New(http.StatusNotFound, "Not found", nil)
	ErrTooManyRequest = New(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", nil)
	ErrInternalServer = New(http.StatusInternalServerError, "Internal server error", nil)
)

var (
	ErrMissingToken = New(http.StatusUnauthorized, "Token is required", nil)
	ErrInvalidToken = New(http.StatusUnauthorized, "Invalid or expired token", nil)
	ErrRoleDenied   = New(http.StatusForbidden, "Access denied for role", nil)
)

// Abort records err on the gin context and stops the handler chain.
// ErrorMiddleware renders it.
func Abort(c *gin.Context, err *Error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorMiddleware renders the last error recorded on the context when no response was written.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		var appErr *Error
		if !stderrors.As(err, &appErr) {
			appErr = ErrInternalServer.Wrap(err)
		}
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
	}
}
