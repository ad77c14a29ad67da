package services

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a ServiceError independently of its HTTP status.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation_error"
	KindNotFound       ErrorKind = "not_found"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindForbidden      ErrorKind = "forbidden"
	KindExternal       ErrorKind = "external_service_error"
	KindDomainConflict ErrorKind = "domain_conflict"
	KindConflict       ErrorKind = "conflict"
	KindInternal       ErrorKind = "internal"
)

// ServiceError represents a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string
	Fields     map[string]string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func validationError(message string, fields map[string]string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusBadRequest, Kind: KindValidation, Message: message, Fields: fields}
}

func fieldError(field, message string) *ServiceError {
	return validationError("Validation failed", map[string]string{field: message})
}

func notFoundError(what string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusNotFound, Kind: KindNotFound, Message: what + " not found"}
}

func forbiddenError(message string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusForbidden, Kind: KindForbidden, Message: message}
}

func unauthorizedError(message string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusUnauthorized, Kind: KindUnauthorized, Message: message}
}

// domainConflict is a business rule violation such as insufficient stock.
func domainConflict(format string, args ...any) *ServiceError {
	return &ServiceError{StatusCode: http.StatusBadRequest, Kind: KindDomainConflict, Message: fmt.Sprintf(format, args...)}
}

func conflictError(message string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusConflict, Kind: KindConflict, Message: message}
}

func externalError(status int, message string) *ServiceError {
	return &ServiceError{StatusCode: status, Kind: KindExternal, Message: message}
}

func internalError(message string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusInternalServerError, Kind: KindInternal, Message: message}
}
