// Package event defines the messages that flow through the ingest and
// result streams and their JSON envelope.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"cfd_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Type identifies an ingest event.
type Type string

const (
	TypePlaceOrder  Type = "PLACE_ORDER"
	TypeCancelOrder Type = "CANCEL_ORDER"
	TypePriceUpdate Type = "PRICE_UPDATE"
)

var (
	// ErrMalformed is returned when an entry is not a decodable envelope.
	ErrMalformed = errors.New("malformed event")

	// ErrUnknownType is returned when the envelope names an unsupported event.
	ErrUnknownType = errors.New("unknown event type")
)

// Event is one decoded ingest entry. The set of implementations is closed.
type Event interface {
	GetType() Type
	GetStreamID() string
	ingest()
}

// BaseEvent carries the stream entry id the event was read from.
type BaseEvent struct {
	StreamID string `json:"-"`
}

func (b BaseEvent) GetStreamID() string { return b.StreamID }
func (BaseEvent) ingest()               {}

// PlaceOrderEvent asks to open a position.
// Price, when set, is the reference price the client observed, scaled like the quote.
type PlaceOrderEvent struct {
	BaseEvent
	ID       string              `json:"id"`
	Asset    string              `json:"asset"`
	UserID   string              `json:"userId"`
	Type     domain.PositionType `json:"type"`
	Margin   int64               `json:"margin"`
	Leverage int64               `json:"leverage"`
	Slippage decimal.Decimal     `json:"slippage"` // percent, 0.5 = half a percent
	Price    int64               `json:"price,omitempty"`
}

func (e *PlaceOrderEvent) GetType() Type { return TypePlaceOrder }

// CancelOrderEvent asks to close an open position at market.
type CancelOrderEvent struct {
	BaseEvent
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
}

func (e *CancelOrderEvent) GetType() Type { return TypeCancelOrder }

// QuotePayload is one asset's entry in a PRICE_UPDATE.
type QuotePayload struct {
	Bid     int64 `json:"bid"`
	Ask     int64 `json:"ask"`
	Decimal int32 `json:"decimal"`
}

// PriceUpdateEvent carries fresh quotes keyed by asset.
type PriceUpdateEvent struct {
	BaseEvent
	Quotes map[string]QuotePayload
}

func (e *PriceUpdateEvent) GetType() Type { return TypePriceUpdate }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode parses the JSON envelope stored in an ingest entry.
func Decode(streamID string, raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	base := BaseEvent{StreamID: streamID}
	switch Type(env.Event) {
	case TypePlaceOrder:
		ev := &PlaceOrderEvent{}
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
		}
		ev.BaseEvent = base
		return ev, nil

	case TypeCancelOrder:
		ev := &CancelOrderEvent{}
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
		}
		ev.BaseEvent = base
		return ev, nil

	case TypePriceUpdate:
		quotes := make(map[string]QuotePayload)
		if err := json.Unmarshal(env.Data, &quotes); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
		}
		return &PriceUpdateEvent{BaseEvent: base, Quotes: quotes}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Event)
	}
}

// Encode wraps an ingest event in its envelope. Producers (the price poller,
// tests) use it to write entries the engine can decode.
func Encode(ev Event) ([]byte, error) {
	var data any = ev
	if pu, ok := ev.(*PriceUpdateEvent); ok {
		data = pu.Quotes
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: string(ev.GetType()), Data: body})
}

// orderIdentity is the part of an order payload needed to address a rejection.
type orderIdentity struct {
	ID      string `json:"id"`
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
}

// RejectMalformed builds the 400 ORDER_ERROR for an order entry that failed
// to decode but still names its order and its user. ok is false for any other
// entry; those have nobody to answer to and are dropped.
func RejectMalformed(raw []byte, cause error) (rej *OrderError, ok bool) {
	if !errors.Is(cause, ErrMalformed) {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return nil, false
	}
	var id orderIdentity
	if err := json.Unmarshal(env.Data, &id); err != nil {
		return nil, false
	}

	orderID := id.ID
	switch Type(env.Event) {
	case TypePlaceOrder:
	case TypeCancelOrder:
		orderID = id.OrderID
	default:
		return nil, false
	}
	if orderID == "" || id.UserID == "" {
		return nil, false
	}

	msg := domain.InvalidOrder("%v", cause).Error()
	return NewOrderError(orderID, id.UserID, domain.ErrInvalidOrder.Code, msg), true
}
