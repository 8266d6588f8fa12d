// =============================
// File: internal/marketdata/pumpfun/rpc.go
// =============================
package pumpfun

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

var ErrNoRPCNodes = errors.New("no RPC nodes available")

// AccountFetcher reads raw accounts. *rpc.Client satisfies it.
type AccountFetcher interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// Pool fails over between RPC nodes. The node that last answered is tried first.
type Pool struct {
	mu      sync.Mutex
	nodes   []AccountFetcher
	urls    []string
	current int
	logger  *zap.Logger
}

// NewPool creates a client per url.
func NewPool(urls []string, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}
	nodes := make([]AccountFetcher, len(urls))
	for i, url := range urls {
		nodes[i] = rpc.New(url)
	}
	return newPool(nodes, urls, logger), nil
}

func newPool(nodes []AccountFetcher, urls []string, logger *zap.Logger) *Pool {
	return &Pool{
		nodes:  nodes,
		urls:   urls,
		logger: logger.Named("rpc_pool"),
	}
}

// GetAccountInfoWithOpts tries each node once. rpc.ErrNotFound is returned without failover.
func (p *Pool) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	p.mu.Lock()
	start := p.current
	p.mu.Unlock()

	var lastErr error
	for i := 0; i < len(p.nodes); i++ {
		idx := (start + i) % len(p.nodes)
		out, err := p.nodes[idx].GetAccountInfoWithOpts(ctx, account, opts)
		if err == nil || errors.Is(err, rpc.ErrNotFound) {
			p.mu.Lock()
			p.current = idx
			p.mu.Unlock()
			return out, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		p.logger.Warn("RPC node failed, switching",
			zap.String("url", p.urls[idx]),
			zap.Error(err))
	}
	return nil, fmt.Errorf("all %d RPC nodes failed: %w", len(p.nodes), lastErr)
}
