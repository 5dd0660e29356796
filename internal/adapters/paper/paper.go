// Package paper implements an in-memory exchange client that simulates fills
// at the last observed price. It backs dry runs where orders never touch the
// exchange while the rest of the controller runs unchanged.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/ports"
)

// Config holds the simulated account parameters.
type Config struct {
	InitialBalance float64 // quote-asset balance, e.g. USDT
	Logger         ports.Logger
}

// Client implements ports.ExchangeClient with immediate simulated fills.
// Prices come from the market data feed via ObservePrice; orders fill at the
// last observed price for their symbol.
type Client struct {
	logger ports.Logger

	mu      sync.Mutex
	balance float64
	prices  map[string]float64
	nextID  int64
}

// New creates a paper trading client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper client")
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive")
	}
	return &Client{
		logger:  cfg.Logger,
		balance: cfg.InitialBalance,
		prices:  make(map[string]float64),
	}, nil
}

// ObservePrice records the latest traded price for a symbol. The controller
// feeds this from the trade stream so simulated fills track the market.
func (c *Client) ObservePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

// GetBalance returns the simulated free balance. The asset argument is
// accepted for interface parity; the paper account holds a single quote
// balance.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

// SettleTrade applies a realized result to the simulated balance.
func (c *Client) SettleTrade(pnl float64) {
	c.mu.Lock()
	c.balance += pnl
	c.mu.Unlock()
}

// GetPrice returns the last observed price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, ok := c.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no price observed yet for %s", ports.ErrNotFound, symbol)
	}
	return price, nil
}

// CreateOrder fills immediately at the last observed price. Limit orders fill
// at their limit price to keep simulated exits deterministic.
func (c *Client) CreateOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, orderType domain.OrderType, price float64) (*ports.OrderResponse, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ports.ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fillPrice := price
	if orderType == domain.OrderTypeMarket {
		last, ok := c.prices[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: no price observed yet for %s", ports.ErrOrderPlacementFailed, symbol)
		}
		fillPrice = last
	}
	if fillPrice <= 0 {
		return nil, fmt.Errorf("%w: no valid fill price for %s", ports.ErrOrderPlacementFailed, symbol)
	}

	c.nextID++
	resp := &ports.OrderResponse{
		OrderID:       c.nextID,
		ClientOrderID: uuid.New().String(),
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		Price:         price,
		AvgPrice:      fillPrice,
		Quantity:      quantity,
		Status:        "FILLED",
		Timestamp:     time.Now().UTC(),
		Paper:         true,
	}

	c.logger.Info(ctx, "paper order filled", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"price":    fillPrice,
		"orderID":  resp.OrderID,
	})
	return resp, nil
}

// CancelOrder is a no-op: paper orders fill instantly, so there is never an
// open order to cancel.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

// Ping always succeeds.
func (c *Client) Ping(ctx context.Context) error {
	return nil
}
