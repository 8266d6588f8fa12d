package pumpfun

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

var testProgram = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

type fakeFetcher struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*rpc.Account
	err      error
	calls    int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{accounts: make(map[solana.PublicKey]*rpc.Account)}
}

func (f *fakeFetcher) put(addr, owner solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = &rpc.Account{Owner: owner, Data: rpc.DataBytesOrJSONFromBytes(data)}
}

func (f *fakeFetcher) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	acc, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acc}, nil
}

func testCurve() *BondingCurve {
	return &BondingCurve{
		VirtualTokenReserves: 1_000_000_000_000_000, // 1e9 tokens at 6 decimals
		VirtualSolReserves:   30 * lamportsPerSOL,
		RealTokenReserves:    600_000_000_000_000,
		RealSolReserves:      5 * lamportsPerSOL,
		TokenTotalSupply:     1_000_000_000_000_000,
	}
}

func newTestSource(t *testing.T, f AccountFetcher) *Source {
	s := NewSource(f, Config{ProgramID: testProgram, InitialRealTokens: 800_000_000_000_000}, zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestDecodeBondingCurve_RoundTrip(t *testing.T) {
	c := testCurve()
	c.Complete = true
	got, err := DecodeBondingCurve(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestDecodeBondingCurve_Rejects(t *testing.T) {
	_, err := DecodeBondingCurve(make([]byte, 10))
	assert.Error(t, err)

	data := testCurve().Encode()
	data[0] ^= 0xff
	_, err = DecodeBondingCurve(data)
	assert.ErrorContains(t, err, "discriminator")
}

func TestBondingCurve_Value(t *testing.T) {
	v, err := testCurve().Value(6, 800_000_000_000_000)
	require.NoError(t, err)

	assert.True(t, v.Price.Equal(decimal.RequireFromString("0.00000003")), v.Price.String())
	assert.True(t, v.MarketCap.Equal(decimal.NewFromInt(30)), v.MarketCap.String())
	assert.True(t, v.Liquidity.Equal(decimal.NewFromInt(5)))
	assert.InDelta(t, 0.25, v.Progress, 1e-12)

	c := testCurve()
	c.Complete = true
	v, err = c.Value(6, 800_000_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Progress)

	_, err = (&BondingCurve{}).Value(6, 1)
	assert.Error(t, err)
}

func TestSource_Sample(t *testing.T) {
	f := newFakeFetcher()
	mint := solana.NewWallet().PublicKey()
	curveAddr, err := DeriveBondingCurve(mint, testProgram)
	require.NoError(t, err)
	f.put(curveAddr, testProgram, testCurve().Encode())

	s := newTestSource(t, f)
	snap, err := s.Sample(context.Background(), domain.MonitoredAsset{ID: mint.String()})
	require.NoError(t, err)

	assert.Equal(t, mint.String(), snap.AssetID)
	assert.Equal(t, s.now(), snap.Timestamp)
	assert.True(t, snap.MarketCap.Equal(decimal.NewFromInt(30)))
	assert.True(t, snap.Price.Valid)
	assert.InDelta(t, 0.25, snap.BondingCurveProgress, 1e-12)
}

func TestSource_Sample_Errors(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	curveAddr, err := DeriveBondingCurve(mint, testProgram)
	require.NoError(t, err)

	t.Run("missing curve is transient", func(t *testing.T) {
		s := newTestSource(t, newFakeFetcher())
		_, err := s.Sample(context.Background(), domain.MonitoredAsset{ID: mint.String()})
		assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	})

	t.Run("rpc failure is transient", func(t *testing.T) {
		f := newFakeFetcher()
		f.err = errors.New("connection reset")
		_, err := newTestSource(t, f).Sample(context.Background(), domain.MonitoredAsset{ID: mint.String()})
		assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	})

	t.Run("wrong owner is permanent", func(t *testing.T) {
		f := newFakeFetcher()
		f.put(curveAddr, solana.SystemProgramID, testCurve().Encode())
		_, err := newTestSource(t, f).Sample(context.Background(), domain.MonitoredAsset{ID: mint.String()})
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrDataUnavailable)
	})

	t.Run("invalid mint", func(t *testing.T) {
		_, err := newTestSource(t, newFakeFetcher()).Sample(context.Background(), domain.MonitoredAsset{ID: "not-a-key"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrDataUnavailable)
	})
}

func borsh(s string, width int) []byte {
	buf := make([]byte, 4+width)
	binary.LittleEndian.PutUint32(buf, uint32(width))
	copy(buf[4:], s)
	return buf
}

func TestSource_Metadata(t *testing.T) {
	f := newFakeFetcher()
	mint := solana.NewWallet().PublicKey()

	mintData := make([]byte, mintAccountLen)
	binary.LittleEndian.PutUint64(mintData[36:44], 1_000_000_000_000_000)
	mintData[44] = 6
	f.put(mint, solana.TokenProgramID, mintData)

	s := newTestSource(t, f)
	meta, err := s.Metadata(context.Background(), mint.String())
	require.NoError(t, err)
	assert.Equal(t, uint8(6), meta.Decimals)
	assert.True(t, meta.TotalSupply.Equal(decimal.NewFromInt(1_000_000_000)))
	assert.Empty(t, meta.Name, "metadata account is optional")

	metaAddr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), MetaplexProgramID.Bytes(), mint.Bytes()},
		MetaplexProgramID,
	)
	require.NoError(t, err)
	data := make([]byte, metadataNameOffset)
	data = append(data, borsh("Pepe", 32)...)
	data = append(data, borsh("PEPE", 10)...)
	f.put(metaAddr, MetaplexProgramID, data)

	meta, err = s.Metadata(context.Background(), mint.String())
	require.NoError(t, err)
	assert.Equal(t, "Pepe", meta.Name)
	assert.Equal(t, "PEPE", meta.Symbol)
}

func TestPool_FailsOver(t *testing.T) {
	bad := newFakeFetcher()
	bad.err = errors.New("503")
	good := newFakeFetcher()
	addr := solana.NewWallet().PublicKey()
	good.put(addr, testProgram, []byte{1})

	p := newPool([]AccountFetcher{bad, good}, []string{"http://a", "http://b"}, zap.NewNop())

	out, err := p.GetAccountInfoWithOpts(context.Background(), addr, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out.Value.Data.GetBinary())

	_, err = p.GetAccountInfoWithOpts(context.Background(), addr, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, bad.calls, "healthy node is tried first after failover")
	assert.Equal(t, 2, good.calls)
}

func TestPool_NotFoundDoesNotFailOver(t *testing.T) {
	a, b := newFakeFetcher(), newFakeFetcher()
	p := newPool([]AccountFetcher{a, b}, []string{"http://a", "http://b"}, zap.NewNop())

	_, err := p.GetAccountInfoWithOpts(context.Background(), solana.NewWallet().PublicKey(), nil)
	assert.ErrorIs(t, err, rpc.ErrNotFound)
	assert.Equal(t, 0, b.calls)
}

func TestPool_AllNodesFail(t *testing.T) {
	a := newFakeFetcher()
	a.err = errors.New("down")
	p := newPool([]AccountFetcher{a}, []string{"http://a"}, zap.NewNop())

	_, err := p.GetAccountInfoWithOpts(context.Background(), solana.NewWallet().PublicKey(), nil)
	assert.ErrorContains(t, err, "all 1 RPC nodes failed")

	_, err = NewPool(nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoRPCNodes)
}
