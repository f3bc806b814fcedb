package domain

// Quote is the latest top of book for one asset.
// Bid and Ask are integers scaled by 10^DecimalScale.
type Quote struct {
	Asset        string `json:"asset"`
	Bid          int64  `json:"bid"`
	Ask          int64  `json:"ask"`
	DecimalScale int32  `json:"decimal"`
}

// Valid reports whether both sides carry a usable price.
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.DecimalScale >= 0
}
