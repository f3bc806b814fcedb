package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents an infrastructure error (redis, database, websocket)
type NetworkError struct {
	Op        string // Operation that failed (e.g., "xreadgroup", "xadd", "persist")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// OrderError is a business rejection. It is reported to the client as an
// ORDER_ERROR result carrying Code, and the ingest entry is acknowledged.
type OrderError struct {
	Code    int
	Message string
}

func (e *OrderError) Error() string {
	return e.Message
}

func (e *OrderError) IsRetriable() bool {
	return false
}

// InvalidOrder wraps ErrInvalidOrder with the offending detail.
func InvalidOrder(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOrder, fmt.Sprintf(format, args...))
}

// AsOrderError extracts the OrderError from a (possibly wrapped) error.
func AsOrderError(err error) (*OrderError, bool) {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

var (
	ErrInsufficientBalance = &OrderError{Code: 403, Message: "balance too low"}
	ErrSlippageExceeded    = &OrderError{Code: 422, Message: "slippage too high"}
	ErrPriceUnavailable    = &OrderError{Code: 400, Message: "price unavailable"}
	ErrPositionNotFound    = &OrderError{Code: 404, Message: "order not found"}
	ErrInvalidOrder        = &OrderError{Code: 400, Message: "invalid order"}
)

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidSymbol is returned when an asset is not configured or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrDuplicatePosition is returned when a position id is already open
	ErrDuplicatePosition = errors.New("position already open")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
