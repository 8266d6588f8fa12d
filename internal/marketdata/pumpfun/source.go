// =============================
// File: internal/marketdata/pumpfun/source.go
// =============================
package pumpfun

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// MetaplexProgramID owns token metadata accounts.
var MetaplexProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

const (
	mintAccountLen = 82
	// key + update authority + mint
	metadataNameOffset = 1 + 32 + 32
)

// Config selects the pump.fun deployment to read.
type Config struct {
	ProgramID         solana.PublicKey
	InitialRealTokens uint64
	Commitment        rpc.CommitmentType
}

// Source samples pump.fun bonding curves. Valuation happens here so the rest of the
// engine only sees market snapshots.
type Source struct {
	fetcher AccountFetcher
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewSource creates a bonding curve source reading through fetcher.
func NewSource(fetcher AccountFetcher, cfg Config, logger *zap.Logger) *Source {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	return &Source{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.Named("pumpfun_source"),
		now:     time.Now,
	}
}

// Sample reads the curve of asset and values it. Transient read failures are
// reported as domain.ErrDataUnavailable.
func (s *Source) Sample(ctx context.Context, asset domain.MonitoredAsset) (domain.MarketSnapshot, error) {
	mint, err := solana.PublicKeyFromBase58(asset.ID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("invalid mint %q: %w", asset.ID, err)
	}
	curveAddr, err := DeriveBondingCurve(mint, s.cfg.ProgramID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	data, owner, err := s.account(ctx, curveAddr)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	if !owner.Equals(s.cfg.ProgramID) {
		return domain.MarketSnapshot{}, fmt.Errorf("bonding curve %s has unexpected owner %s", curveAddr, owner)
	}
	curve, err := DecodeBondingCurve(data)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	decimals := asset.Metadata.Decimals
	if decimals == 0 {
		decimals = defaultTokenDecimals
	}
	val, err := curve.Value(decimals, s.cfg.InitialRealTokens)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: %s: %v", domain.ErrDataUnavailable, domain.ShortID(asset.ID), err)
	}

	s.logger.Debug("Bonding curve sampled",
		zap.String("asset", domain.ShortID(asset.ID)),
		zap.Stringer("market_cap", val.MarketCap),
		zap.Float64("progress", val.Progress),
		zap.Bool("complete", curve.Complete))

	return domain.MarketSnapshot{
		AssetID:              asset.ID,
		Timestamp:            s.now(),
		MarketCap:            val.MarketCap,
		Liquidity:            val.Liquidity,
		BondingCurveProgress: val.Progress,
		Price:                decimal.NullDecimal{Decimal: val.Price, Valid: true},
	}, nil
}

// Metadata reads decimals and supply from the mint and, when present, name and
// symbol from the Metaplex metadata account.
func (s *Source) Metadata(ctx context.Context, id string) (domain.AssetMetadata, error) {
	mint, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		return domain.AssetMetadata{}, fmt.Errorf("invalid mint %q: %w", id, err)
	}
	data, _, err := s.account(ctx, mint)
	if err != nil {
		return domain.AssetMetadata{}, err
	}
	if len(data) < mintAccountLen {
		return domain.AssetMetadata{}, fmt.Errorf("invalid mint account data length: %d", len(data))
	}

	decimals := data[44]
	meta := domain.AssetMetadata{
		Decimals:    decimals,
		TotalSupply: decimal.NewFromUint64(binary.LittleEndian.Uint64(data[36:44])).Shift(-int32(decimals)),
	}

	name, symbol, err := s.metaplex(ctx, mint)
	if err != nil {
		s.logger.Debug("Token metadata unavailable",
			zap.String("asset", domain.ShortID(id)),
			zap.Error(err))
	}
	meta.Name, meta.Symbol = name, symbol
	return meta, nil
}

func (s *Source) metaplex(ctx context.Context, mint solana.PublicKey) (string, string, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), MetaplexProgramID.Bytes(), mint.Bytes()},
		MetaplexProgramID,
	)
	if err != nil {
		return "", "", err
	}
	data, _, err := s.account(ctx, addr)
	if err != nil {
		return "", "", err
	}
	name, rest, err := borshString(data[min(len(data), metadataNameOffset):])
	if err != nil {
		return "", "", fmt.Errorf("decode name: %w", err)
	}
	symbol, _, err := borshString(rest)
	if err != nil {
		return "", "", fmt.Errorf("decode symbol: %w", err)
	}
	return name, symbol, nil
}

func borshString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, errors.New("short buffer")
	}
	n := int(binary.LittleEndian.Uint32(data[:4]))
	if len(data) < 4+n {
		return "", nil, fmt.Errorf("string length %d exceeds buffer", n)
	}
	return strings.TrimRight(string(data[4:4+n]), "\x00 "), data[4+n:], nil
}

func (s *Source) account(ctx context.Context, addr solana.PublicKey) ([]byte, solana.PublicKey, error) {
	out, err := s.fetcher.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{Commitment: s.cfg.Commitment})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, solana.PublicKey{}, ctxErr
		}
		return nil, solana.PublicKey{}, fmt.Errorf("%w: account %s: %v", domain.ErrDataUnavailable, addr, err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, solana.PublicKey{}, fmt.Errorf("%w: account %s not found", domain.ErrDataUnavailable, addr)
	}
	return out.Value.Data.GetBinary(), out.Value.Owner, nil
}
