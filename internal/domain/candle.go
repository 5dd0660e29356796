package domain

import "time"

// Candle represents a single closed candlestick interval.
// Immutable once appended to a window.
type Candle struct {
	Timestamp time.Time // Start time of the interval
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Body returns the absolute size of the candle body.
func (c Candle) Body() float64 {
	body := c.Close - c.Open
	if body < 0 {
		return -body
	}
	return body
}

// Range returns the high-low spread of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// TradeTick represents a single executed trade from the feed.
// Immutable once appended to a window.
type TradeTick struct {
	Timestamp    time.Time
	Price        float64
	Quantity     float64
	IsBuyerMaker bool // true when the buyer was the maker (aggressive sell)
}
