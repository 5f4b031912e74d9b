package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/POA-Delta/backend-replacement/internal/domain"
	"github.com/POA-Delta/backend-replacement/internal/orderhash"
	"github.com/POA-Delta/backend-replacement/internal/platform/eth"
)

var (
	testContract = common.HexToAddress("0x8d12A197cB00D4747a1fe03395095ce2A5CC6819")
	tokenREP     = common.HexToAddress("0x1985365e9f78359a9b6ad760e32412f4a445e862")
	etherToken   = common.Address{}
	makerAddr    = common.HexToAddress("0x91aae0aafd9d2d730111b395c6871f248d7bd728")
	takerAddr    = common.HexToAddress("0x64f509c2c6d25b12eef4de0ec13e57ba1bec3f6c")
)

// packLog builds a raw contract log the way the node would emit it: the
// event ID in topic 0, all args ABI-packed in the data segment.
func packLog(t *testing.T, eventName string, args ...any) types.Log {
	t.Helper()

	event, ok := eth.ExchangeABI.Events[eventName]
	require.True(t, ok, "event %s not in ABI", eventName)

	data, err := event.Inputs.Pack(args...)
	require.NoError(t, err)

	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: 4_000_000,
		TxHash:      common.HexToHash("0xabc123"),
		Index:       3,
	}
}

func newTestNormalizer() *Normalizer {
	return NewNormalizer(eth.ExchangeABI, testContract)
}

func TestNormalizeTrade(t *testing.T) {
	lg := packLog(t, "Trade",
		etherToken, big.NewInt(1_000_000),
		tokenREP, big.NewInt(500),
		makerAddr, takerAddr,
	)

	got, err := newTestNormalizer().Normalize(lg)
	require.NoError(t, err)

	ev, ok := got.(domain.TradeEvent)
	require.True(t, ok, "expected TradeEvent, got %T", got)

	assert.Equal(t, domain.EventKindTrade, ev.Kind())
	assert.Equal(t, uint64(4_000_000), ev.BlockNumber)
	assert.Equal(t, lg.TxHash, ev.TxHash)
	assert.Equal(t, uint(3), ev.LogIndex)
	assert.Equal(t, etherToken, ev.TokenGet)
	assert.Equal(t, big.NewInt(1_000_000), ev.AmountGet)
	assert.Equal(t, tokenREP, ev.TokenGive)
	assert.Equal(t, big.NewInt(500), ev.AmountGive)
	assert.Equal(t, makerAddr, ev.Get)
	assert.Equal(t, takerAddr, ev.Give)
}

func TestNormalizeDepositAndWithdraw(t *testing.T) {
	tests := []struct {
		event     string
		direction domain.TransferDirection
		kind      domain.EventKind
	}{
		{"Deposit", domain.TransferDeposit, domain.EventKindDeposit},
		{"Withdraw", domain.TransferWithdraw, domain.EventKindWithdraw},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			lg := packLog(t, tt.event,
				tokenREP, makerAddr, big.NewInt(777), big.NewInt(10_000),
			)

			got, err := newTestNormalizer().Normalize(lg)
			require.NoError(t, err)

			ev, ok := got.(domain.TransferEvent)
			require.True(t, ok, "expected TransferEvent, got %T", got)

			assert.Equal(t, tt.direction, ev.Direction)
			assert.Equal(t, tt.kind, ev.Kind())
			assert.Equal(t, tokenREP, ev.Token)
			assert.Equal(t, makerAddr, ev.User)
			assert.Equal(t, big.NewInt(777), ev.Amount)
			assert.Equal(t, big.NewInt(10_000), ev.Balance)
		})
	}
}

func TestNormalizeCancel_Offchain(t *testing.T) {
	var r, s [32]byte
	r[0] = 0xde
	s[0] = 0xad

	lg := packLog(t, "Cancel",
		etherToken, big.NewInt(1_000_000),
		tokenREP, big.NewInt(500),
		big.NewInt(5_000_000), big.NewInt(42),
		makerAddr, uint8(27), r, s,
	)

	got, err := newTestNormalizer().Normalize(lg)
	require.NoError(t, err)

	ev, ok := got.(domain.CancelEvent)
	require.True(t, ok, "expected CancelEvent, got %T", got)

	require.NotNil(t, ev.V)
	assert.Equal(t, int16(27), *ev.V)
	assert.Equal(t, r[:], ev.R)
	assert.Equal(t, s[:], ev.S)

	// The signature hash must bind the order terms to the contract.
	want := orderhash.Compute(orderhash.Terms{
		Contract:   testContract,
		TokenGet:   etherToken,
		AmountGet:  big.NewInt(1_000_000),
		TokenGive:  tokenREP,
		AmountGive: big.NewInt(500),
		Expires:    big.NewInt(5_000_000),
		Nonce:      big.NewInt(42),
	})
	assert.Equal(t, want, ev.Signature)
}

func TestNormalizeCancel_OnchainHasNoSignature(t *testing.T) {
	var zero [32]byte

	lg := packLog(t, "Cancel",
		tokenREP, big.NewInt(9), etherToken, big.NewInt(8),
		big.NewInt(4_100_000), big.NewInt(7),
		makerAddr, uint8(0), zero, zero,
	)

	got, err := newTestNormalizer().Normalize(lg)
	require.NoError(t, err)

	ev, ok := got.(domain.CancelEvent)
	require.True(t, ok)

	assert.Nil(t, ev.V)
	assert.Nil(t, ev.R)
	assert.Nil(t, ev.S)
	assert.NotEqual(t, common.Hash{}, ev.Signature)
}

func TestNormalizeMalformed(t *testing.T) {
	valid := packLog(t, "Trade",
		etherToken, big.NewInt(1), tokenREP, big.NewInt(2),
		makerAddr, takerAddr,
	)

	tests := []struct {
		name   string
		mutate func(*types.Log)
	}{
		{"no topics", func(lg *types.Log) { lg.Topics = nil }},
		{"missing tx hash", func(lg *types.Log) { lg.TxHash = common.Hash{} }},
		{"unknown topic", func(lg *types.Log) { lg.Topics[0] = common.HexToHash("0x1234") }},
		{"truncated data", func(lg *types.Log) { lg.Data = lg.Data[:31] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg := valid
			lg.Topics = append([]common.Hash(nil), valid.Topics...)
			tt.mutate(&lg)

			_, err := newTestNormalizer().Normalize(lg)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedEvent)
		})
	}
}
