package domain

import "time"

// Position represents an open or closed trade with its sizing and context.
// Created by the controller on execution; the controller is the only mutator
// until the position is closed, persisted and dropped from the open table.
type Position struct {
	ID         int64
	Symbol     string
	Side       OrderSide
	EntryPrice float64
	ExitPrice  float64 // 0 while open
	Quantity   float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
	EntryTime  time.Time
	ExitTime   time.Time // zero value while open
	Status     PositionStatus
	PNL        float64
	PNLPct     float64
	Reason     CloseReason

	// Decision context captured at entry.
	Confidence    float64
	SignalQuality float64
	Features      *FeatureVector
	Phase         Phase
	ModelVersion  string
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// IsWin reports whether the closed position ended profitable.
func (p *Position) IsWin() bool {
	return p.PNL > 0
}
