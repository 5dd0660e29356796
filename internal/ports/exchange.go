package ports

import (
	"context"
	"time"

	"selfLearningBot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	Price         float64 // limit price, 0 for market orders
	AvgPrice      float64 // average filled price, 0 if unknown
	Quantity      float64
	Status        string
	Timestamp     time.Time
	Paper         bool // true when the fill was simulated
}

// ExchangeClient defines the interface for interacting with an exchange gateway.
// Live implementations sign requests (timestamp + HMAC-SHA256 over the canonical
// query string); a paper implementation simulates immediate fills offline.
type ExchangeClient interface {
	// GetBalance retrieves the free balance for an asset (e.g. "USDT").
	GetBalance(ctx context.Context, asset string) (float64, error)

	// GetPrice retrieves the latest price for a symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// CreateOrder places an order. Price is ignored for market orders.
	CreateOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, orderType domain.OrderType, price float64) (*OrderResponse, error)

	// CancelOrder cancels an open order by its exchange ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error
}
