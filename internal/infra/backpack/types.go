package backpack

import "time"

const (
	DefaultWSURL = "wss://ws.backpack.exchange"
	quoteAsset   = "USDC"

	baseDelay    = 1 * time.Second
	maxDelay     = 60 * time.Second
	readTimeout  = 60 * time.Second
	dialTimeout  = 10 * time.Second
	bookTickerCh = "bookTicker"
)

// subscribeRequest Structure
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// streamMessage wraps every push: {"stream":"bookTicker.SOL_USDC","data":{...}}
type streamMessage struct {
	Stream string     `json:"stream"`
	Data   bookTicker `json:"data"`
}

type bookTicker struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"` // microseconds
	Symbol    string `json:"s"` // SOL_USDC
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
}
