package errors

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Sentinel causes wrapped by AppError so callers can branch with errors.Is.
var (
	ErrConflict              = errors.New("owner already has a pending ticket")
	ErrInvalidState          = errors.New("ticket is not pending")
	ErrConflictingSettlement = errors.New("ticket already completed with another settlement reference")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrNoMatch               = errors.New("no pending ticket matches event")
	ErrAmbiguousMatch        = errors.New("more than one pending ticket matches event")
	ErrUpstreamTimeout       = errors.New("upstream call timed out")
	ErrUnauthorized          = errors.New("unauthorized")
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        "E100",
		Message:     msg,
		UserMessage: fmt.Sprintf("Datos inválidos. %s", msg),
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Problema temporal, inténtalo más tarde",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        "E300",
		Message:     fmt.Sprintf("External API error: %s", apiName),
		UserMessage: "Servicio no disponible temporalmente",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

// NewUpstreamTimeoutError reports that a rail call exceeded its deadline. The caller may retry.
func NewUpstreamTimeoutError(apiName string) *AppError {
	return &AppError{
		Code:        "E301",
		Message:     fmt.Sprintf("Upstream timeout: %s", apiName),
		UserMessage: "El proveedor de pago no respondió a tiempo, inténtalo de nuevo",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       ErrUpstreamTimeout,
	}
}

// NewConflictError rejects a second pending ticket for the same owner.
func NewConflictError(ownerID int64) *AppError {
	return &AppError{
		Code:        "E401",
		Message:     fmt.Sprintf("Pending ticket already exists for owner %d", ownerID),
		UserMessage: "Ya tienes una solicitud de pago pendiente",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       ErrConflict,
	}
}

// NewInvalidStateError reports a transition attempted on a ticket that is no longer pending.
// cause is ErrInvalidState or ErrConflictingSettlement.
func NewInvalidStateError(ticketID int64, cause error) *AppError {
	if cause == nil {
		cause = ErrInvalidState
	}

	return &AppError{
		Code:        "E402",
		Message:     fmt.Sprintf("Invalid state for ticket %d: %s", ticketID, cause.Error()),
		UserMessage: "La solicitud de pago ya no está pendiente",
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       cause,
	}
}

// NewNoMatchError is returned when an inbound event matches zero or several pending tickets.
// cause is ErrNoMatch or ErrAmbiguousMatch.
func NewNoMatchError(cause error) *AppError {
	if cause == nil {
		cause = ErrNoMatch
	}

	return &AppError{
		Code:      "E403",
		Message:   cause.Error(),
		Severity:  SeverityLow,
		Retryable: false,
		cause:     cause,
	}
}

// NewNotFoundError wraps ErrTicketNotFound.
func NewNotFoundError(ticketID int64) *AppError {
	return &AppError{
		Code:        "E404",
		Message:     fmt.Sprintf("Ticket %d not found", ticketID),
		UserMessage: "Solicitud de pago no encontrada",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       ErrTicketNotFound,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        "E500",
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Demasiadas solicitudes. Inténtalo en %d segundos", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

// NewUnauthorizedError rejects a caller that failed rail or admin authentication.
func NewUnauthorizedError(boundary string) *AppError {
	return &AppError{
		Code:      "E600",
		Message:   fmt.Sprintf("Unauthorized: %s", boundary),
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     ErrUnauthorized,
	}
}

// CodeOf returns the AppError code carried by err, or an empty string.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}
	return ""
}
