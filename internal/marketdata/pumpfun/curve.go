// =============================
// File: internal/marketdata/pumpfun/curve.go
// =============================
package pumpfun

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	bondingCurveSeed = "bonding-curve"
	// discriminator + five u64 reserves/supply fields + complete flag
	bondingCurveLen = 8 + 5*8 + 1

	lamportsPerSOL       = 1_000_000_000
	defaultTokenDecimals = 6
)

// BondingCurveDiscriminator is the Anchor account discriminator of BondingCurve.
var BondingCurveDiscriminator = anchorDiscriminator("BondingCurve")

func anchorDiscriminator(account string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + account))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// BondingCurve is the decoded on-chain state of a pump.fun curve.
type BondingCurve struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// DeriveBondingCurve returns the curve PDA for mint under programID.
func DeriveBondingCurve(mint, programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(bondingCurveSeed), mint.Bytes()},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive bonding curve: %w", err)
	}
	return addr, nil
}

// DecodeBondingCurve parses raw account data.
func DecodeBondingCurve(data []byte) (*BondingCurve, error) {
	if len(data) < bondingCurveLen {
		return nil, fmt.Errorf("invalid bonding curve data: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], BondingCurveDiscriminator[:]) {
		return nil, fmt.Errorf("invalid bonding curve discriminator %x", data[:8])
	}
	le := binary.LittleEndian
	return &BondingCurve{
		VirtualTokenReserves: le.Uint64(data[8:16]),
		VirtualSolReserves:   le.Uint64(data[16:24]),
		RealTokenReserves:    le.Uint64(data[24:32]),
		RealSolReserves:      le.Uint64(data[32:40]),
		TokenTotalSupply:     le.Uint64(data[40:48]),
		Complete:             data[48] != 0,
	}, nil
}

// Encode serialises the curve in account layout.
func (c *BondingCurve) Encode() []byte {
	data := make([]byte, bondingCurveLen)
	copy(data, BondingCurveDiscriminator[:])
	le := binary.LittleEndian
	le.PutUint64(data[8:16], c.VirtualTokenReserves)
	le.PutUint64(data[16:24], c.VirtualSolReserves)
	le.PutUint64(data[24:32], c.RealTokenReserves)
	le.PutUint64(data[32:40], c.RealSolReserves)
	le.PutUint64(data[40:48], c.TokenTotalSupply)
	if c.Complete {
		data[48] = 1
	}
	return data
}

// Valuation is the SOL denominated view of a curve.
type Valuation struct {
	Price     decimal.Decimal // SOL per whole token
	MarketCap decimal.Decimal // SOL
	Liquidity decimal.Decimal // real SOL reserves
	Progress  float64         // share of the initial real token reserve sold
}

// Value derives price, market cap, liquidity and progress. initialRealTokens is the real
// token reserve of a fresh curve in base units.
func (c *BondingCurve) Value(decimals uint8, initialRealTokens uint64) (Valuation, error) {
	if c.VirtualTokenReserves == 0 || c.VirtualSolReserves == 0 {
		return Valuation{}, fmt.Errorf("bonding curve has zero virtual reserves")
	}
	tokenUnit := decimal.New(1, int32(decimals))
	sol := decimal.NewFromInt(lamportsPerSOL)

	virtualSol := decimal.NewFromUint64(c.VirtualSolReserves).Div(sol)
	virtualTokens := decimal.NewFromUint64(c.VirtualTokenReserves).Div(tokenUnit)
	price := virtualSol.Div(virtualTokens)
	supply := decimal.NewFromUint64(c.TokenTotalSupply).Div(tokenUnit)

	v := Valuation{
		Price:     price,
		MarketCap: price.Mul(supply),
		Liquidity: decimal.NewFromUint64(c.RealSolReserves).Div(sol),
	}
	switch {
	case c.Complete:
		v.Progress = 1
	case initialRealTokens > 0 && c.RealTokenReserves <= initialRealTokens:
		v.Progress = 1 - float64(c.RealTokenReserves)/float64(initialRealTokens)
	}
	return v, nil
}
