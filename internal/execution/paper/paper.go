// internal/execution/paper/paper.go
package paper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/execution"
)

// PriceFeed exposes the latest sampled snapshot of an asset.
type PriceFeed interface {
	LastSnapshot(assetID string) (domain.MarketSnapshot, bool)
}

// Config tunes the simulated venue.
type Config struct {
	FeeBps  int64         // venue fee in basis points
	Latency time.Duration // simulated settlement delay
}

// Gateway fills swaps at the last sampled spot price. It never touches a chain
// and is meant for dry runs.
type Gateway struct {
	feed   PriceFeed
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

var bpsDenominator = decimal.NewFromInt(10_000)

// NewGateway creates a paper gateway.
func NewGateway(feed PriceFeed, cfg Config, logger *zap.Logger) *Gateway {
	return &Gateway{
		feed:   feed,
		cfg:    cfg,
		logger: logger.Named("paper_gateway"),
		now:    time.Now,
	}
}

// Quote estimates the output of a swap at the current spot price, net of fees.
func (g *Gateway) Quote(_ context.Context, req execution.QuoteRequest) (decimal.Decimal, error) {
	price, _, err := g.spot(req.AssetID)
	if err != nil {
		return decimal.Zero, err
	}
	gross, err := grossOut(req.Direction, req.AmountIn, price)
	if err != nil {
		return decimal.Zero, err
	}
	return gross.Sub(g.fee(gross)), nil
}

// Swap simulates a fill, enforcing minAmountOut, available liquidity and the deadline.
func (g *Gateway) Swap(ctx context.Context, req execution.SwapRequest) (execution.SwapResult, error) {
	start := g.now()

	if g.cfg.Latency > 0 {
		select {
		case <-time.After(g.cfg.Latency):
		case <-ctx.Done():
			return execution.SwapResult{}, domain.NewExecutionError(domain.Timeout, ctx.Err())
		}
	}
	if !req.Deadline.IsZero() && g.now().After(req.Deadline) {
		return execution.SwapResult{}, domain.NewExecutionError(domain.Timeout, errors.New("deadline passed"))
	}

	price, snap, err := g.spot(req.AssetID)
	if err != nil {
		return execution.SwapResult{}, domain.NewExecutionError(domain.Rejected, err)
	}
	gross, err := grossOut(req.Direction, req.AmountIn, price)
	if err != nil {
		return execution.SwapResult{}, domain.NewExecutionError(domain.Rejected, err)
	}
	if req.Direction == execution.Sell && snap.Liquidity.IsPositive() && gross.GreaterThan(snap.Liquidity) {
		return execution.SwapResult{}, domain.NewExecutionError(domain.InsufficientLiquidity,
			fmt.Errorf("need %s, pool holds %s", gross, snap.Liquidity))
	}

	fee := g.fee(gross)
	out := gross.Sub(fee)
	if out.LessThan(req.MinAmountOut) {
		return execution.SwapResult{}, domain.NewExecutionError(domain.SlippageExceeded,
			fmt.Errorf("out %s below min %s", out, req.MinAmountOut))
	}

	g.logger.Debug("Paper swap filled",
		zap.String("asset", domain.ShortID(req.AssetID)),
		zap.String("direction", string(req.Direction)),
		zap.String("amount_in", req.AmountIn.String()),
		zap.String("amount_out", out.String()),
		zap.String("price", price.String()))

	return execution.SwapResult{
		AmountOut:       out,
		FeePaid:         fee,
		ExecutionTimeMs: g.now().Sub(start).Milliseconds(),
	}, nil
}

func (g *Gateway) spot(assetID string) (decimal.Decimal, domain.MarketSnapshot, error) {
	snap, ok := g.feed.LastSnapshot(assetID)
	if !ok || !snap.Price.Valid || !snap.Price.Decimal.IsPositive() {
		return decimal.Zero, snap, fmt.Errorf("%w: no spot price for %s", domain.ErrSourceUnavailable, assetID)
	}
	return snap.Price.Decimal, snap, nil
}

func (g *Gateway) fee(gross decimal.Decimal) decimal.Decimal {
	if g.cfg.FeeBps <= 0 {
		return decimal.Zero
	}
	return gross.Mul(decimal.NewFromInt(g.cfg.FeeBps)).Div(bpsDenominator)
}

func grossOut(dir execution.Direction, amountIn, price decimal.Decimal) (decimal.Decimal, error) {
	if !amountIn.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount in must be positive, got %s", amountIn)
	}
	switch dir {
	case execution.Buy:
		return amountIn.Div(price), nil
	case execution.Sell:
		return amountIn.Mul(price), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown direction %q", dir)
	}
}
