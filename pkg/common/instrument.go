package common

// Instrument carries the static trading attributes of a single listed code.
// LotSize is the minimum tradable unit, 100 shares on this market.
type Instrument struct {
	Symbol  string `json:"symbol"`
	LotSize int64  `json:"lot_size"`
}

// RoundLot rounds a signed share quantity down towards zero to a whole
// number of lots.
func (i Instrument) RoundLot(quantity int64) int64 {
	if i.LotSize <= 0 {
		return quantity
	}
	return quantity / i.LotSize * i.LotSize
}
