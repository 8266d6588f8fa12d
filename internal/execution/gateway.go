// internal/execution/gateway.go
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a swap relative to the monitored token.
type Direction string

const (
	// Buy spends quote currency for tokens.
	Buy Direction = "BUY"
	// Sell spends tokens for quote currency.
	Sell Direction = "SELL"
)

// QuoteRequest asks for an amountOut estimate.
type QuoteRequest struct {
	AssetID   string
	Direction Direction
	AmountIn  decimal.Decimal
}

// SwapRequest executes a swap that must return at least MinAmountOut before Deadline.
type SwapRequest struct {
	AssetID      string
	Direction    Direction
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	Deadline     time.Time
}

// SwapResult is the settled outcome of a swap.
type SwapResult struct {
	AmountOut       decimal.Decimal
	FeePaid         decimal.Decimal
	ExecutionTimeMs int64
}

// Gateway is the boundary for trade execution. Quote failures wrap
// domain.ErrSourceUnavailable; swap failures are *domain.ExecutionError.
type Gateway interface {
	Quote(ctx context.Context, req QuoteRequest) (decimal.Decimal, error)
	Swap(ctx context.Context, req SwapRequest) (SwapResult, error)
}
