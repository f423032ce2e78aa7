package common

import (
	"time"

	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// EquitySnapshot is one row of the append-only settlement series. External
// reporting consumes the sequence as the performance/risk time series.
type EquitySnapshot struct {
	Date          time.Time   `json:"date"`
	Equity        fixed.Point `json:"equity"`
	Benchmark     fixed.Point `json:"benchmark"`
	PositionValue fixed.Point `json:"position_value"`
	Cash          fixed.Point `json:"cash"`
}
