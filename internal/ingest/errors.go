package ingest

import (
	"context"
	"errors"
	"fmt"

	"canon/pkg/platform/sentinel"
)

// ErrorCategory defines the normalized connector failure taxonomy.
type ErrorCategory string

const (
	// ErrorTimeout indicates the connector took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the connector returned invalid/malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the upstream source is unavailable
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorContractMismatch indicates the upstream API changed shape
	ErrorContractMismatch ErrorCategory = "contract_mismatch"

	// ErrorNotFound indicates the query matched nothing upstream
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorCircuitOpen indicates the connector was skipped by its breaker
	ErrorCircuitOpen ErrorCategory = "circuit_open"

	// ErrorInternal indicates an unexpected internal error
	ErrorInternal ErrorCategory = "internal"
)

// ConnectorError wraps connector failures with normalized categorization.
type ConnectorError struct {
	Category    ErrorCategory
	ConnectorID string
	Message     string
	Underlying  error
	Retryable   bool
}

// Error implements the error interface
func (e *ConnectorError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("connector %s [%s]: %s: %v", e.ConnectorID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("connector %s [%s]: %s", e.ConnectorID, e.Category, e.Message)
}

// Unwrap supports error unwrapping
func (e *ConnectorError) Unwrap() error {
	return e.Underlying
}

// NewConnectorError creates a new normalized connector error.
func NewConnectorError(category ErrorCategory, connectorID, message string, underlying error) *ConnectorError {
	retryable := category == ErrorTimeout ||
		category == ErrorProviderOutage ||
		category == ErrorRateLimited

	return &ConnectorError{
		Category:    category,
		ConnectorID: connectorID,
		Message:     message,
		Underlying:  underlying,
		Retryable:   retryable,
	}
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ErrorInternal
}

// normalize turns whatever a connector returned into a ConnectorError.
func normalize(connectorID string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewConnectorError(ErrorTimeout, connectorID, "fetch timed out", err)
	case errors.Is(err, context.Canceled):
		return NewConnectorError(ErrorInternal, connectorID, "fetch canceled", err)
	case errors.Is(err, sentinel.ErrUnavailable):
		return NewConnectorError(ErrorProviderOutage, connectorID, "source unavailable", err)
	case errors.Is(err, sentinel.ErrNotFound):
		return NewConnectorError(ErrorNotFound, connectorID, "no results", err)
	}
	return NewConnectorError(ErrorInternal, connectorID, "fetch failed", err)
}

// Sentinel errors for common cases
var (
	ErrConnectorNotFound = errors.New("connector not found")
	ErrNoConnectors      = errors.New("no connectors selected for query")
)
