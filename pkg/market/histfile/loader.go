package histfile

import (
	"sort"
	"time"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// BinaryBar is the record layout of one daily bar. Timestamps are Unix
// nanoseconds in UTC.
type BinaryBar struct {
	TimeStamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Amount    float64
}

func (rec BinaryBar) toBar(symbol string) common.Bar {
	return common.Bar{
		Symbol:    symbol,
		TimeStamp: time.Unix(0, rec.TimeStamp).UTC(),
		Period:    24 * time.Hour,
		Open:      fixed.FromFloat64(rec.Open),
		High:      fixed.FromFloat64(rec.High),
		Low:       fixed.FromFloat64(rec.Low),
		Close:     fixed.FromFloat64(rec.Close),
		Volume:    rec.Volume,
		Amount:    fixed.FromFloat64(rec.Amount),
	}
}

// Load reads the daily bars of one symbol between from and to into dst. The
// start index is found by binary search on the record timestamps.
func Load(r *Reader, dst *market.Static, symbol string, from, to time.Time) error {
	n := r.Len()
	fromNano := from.UnixNano()
	toNano := to.UnixNano()

	var searchErr error
	start := sort.Search(n, func(i int) bool {
		rec, err := r.At(i)
		if err != nil {
			searchErr = err
			return true
		}
		return rec.TimeStamp >= fromNano
	})
	if searchErr != nil {
		return searchErr
	}

	for i := start; i < n; i++ {
		rec, err := r.At(i)
		if err != nil {
			return err
		}
		if rec.TimeStamp > toNano {
			break
		}
		dst.AddDailyBar(rec.toBar(symbol))
	}
	return nil
}
