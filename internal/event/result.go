package event

import (
	"cfd_engine/internal/domain"
	"encoding/json"
	"fmt"
)

// ResultType identifies a result event.
type ResultType string

const (
	ResultOrderPlaced ResultType = "ORDER_PLACED"
	ResultOrderClosed ResultType = "ORDER_CLOSED"
	ResultOrderError  ResultType = "ORDER_ERROR"
)

// Result is one message appended to the result stream.
type Result interface {
	GetResultType() ResultType
	GetOrderID() string
}

// OrderPlaced announces a newly opened position.
type OrderPlaced struct {
	Event ResultType `json:"event"`
	domain.Position
}

func NewOrderPlaced(p domain.Position) *OrderPlaced {
	return &OrderPlaced{Event: ResultOrderPlaced, Position: p}
}

func (r *OrderPlaced) GetResultType() ResultType { return ResultOrderPlaced }
func (r *OrderPlaced) GetOrderID() string        { return r.ID }

// OrderClosed announces a cancelled or liquidated position.
type OrderClosed struct {
	Event ResultType `json:"event"`
	domain.ClosedPosition
}

func NewOrderClosed(c domain.ClosedPosition) *OrderClosed {
	return &OrderClosed{Event: ResultOrderClosed, ClosedPosition: c}
}

func (r *OrderClosed) GetResultType() ResultType { return ResultOrderClosed }
func (r *OrderClosed) GetOrderID() string        { return r.ID }

// OrderError reports a rejected request.
type OrderError struct {
	Event      ResultType `json:"event"`
	OrderID    string     `json:"orderId"`
	UserID     string     `json:"userId"`
	StatusCode int        `json:"statusCode"`
	Message    string     `json:"message"`
}

func NewOrderError(orderID, userID string, code int, msg string) *OrderError {
	return &OrderError{Event: ResultOrderError, OrderID: orderID, UserID: userID, StatusCode: code, Message: msg}
}

func (r *OrderError) GetResultType() ResultType { return ResultOrderError }
func (r *OrderError) GetOrderID() string        { return r.OrderID }

// EncodeResult renders a result as the JSON stored in the result stream.
func EncodeResult(r Result) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult parses a result stream entry.
func DecodeResult(raw []byte) (Result, error) {
	var head struct {
		Event ResultType `json:"event"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var r Result
	switch head.Event {
	case ResultOrderPlaced:
		r = &OrderPlaced{}
	case ResultOrderClosed:
		r = &OrderClosed{}
	case ResultOrderError:
		r = &OrderError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Event)
	}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Event, err)
	}
	return r, nil
}
