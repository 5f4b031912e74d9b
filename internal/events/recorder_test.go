package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// ---------------------------------------------------------------------------
// in-memory fakes
//
// The order fake mirrors the store's conditional-write contract: monotonic
// fill, terminal states immutable, cancel guarded on OPEN. All fakes are
// mutex-guarded so concurrency tests exercise the same atomicity the real
// store provides per statement.
// ---------------------------------------------------------------------------

type eventKey struct {
	tx  common.Hash
	idx uint
}

type fakeTradeStore struct {
	mu   sync.Mutex
	rows map[eventKey]domain.Trade
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{rows: make(map[eventKey]domain.Trade)}
}

func (s *fakeTradeStore) Insert(_ context.Context, trade domain.Trade) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := eventKey{trade.TransactionHash, trade.LogIndex}
	if _, dup := s.rows[k]; dup {
		return false, nil
	}
	s.rows[k] = trade
	return true, nil
}

func (s *fakeTradeStore) ListBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (s *fakeTradeStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeTradeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeTransferStore struct {
	mu   sync.Mutex
	rows map[eventKey]domain.Transfer
}

func newFakeTransferStore() *fakeTransferStore {
	return &fakeTransferStore{rows: make(map[eventKey]domain.Transfer)}
}

func (s *fakeTransferStore) Insert(_ context.Context, transfer domain.Transfer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := eventKey{transfer.TransactionHash, transfer.LogIndex}
	if _, dup := s.rows[k]; dup {
		return false, nil
	}
	s.rows[k] = transfer
	return true, nil
}

func (s *fakeTransferStore) ListBefore(context.Context, time.Time) ([]domain.Transfer, error) {
	return nil, nil
}

func (s *fakeTransferStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeOrderStore struct {
	mu   sync.Mutex
	rows map[common.Hash]domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{rows: make(map[common.Hash]domain.Order)}
}

func (s *fakeOrderStore) put(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[order.Signature] = order
}

func (s *fakeOrderStore) get(sig common.Hash) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[sig]
	return o, ok
}

func (s *fakeOrderStore) FindAffected(_ context.Context, maker, token common.Address, expiresAtOrAfter *big.Int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.rows {
		if o.User != maker {
			continue
		}
		if o.TokenGive != token && o.TokenGet != token {
			continue
		}
		if o.Expires.Cmp(expiresAtOrAfter) < 0 {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeOrderStore) UpdateFill(_ context.Context, signature common.Hash, amountFill *big.Int, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.rows[signature]
	if !ok {
		return false, nil
	}

	if o.AmountFill == nil || o.AmountFill.Cmp(amountFill) < 0 {
		o.AmountFill = new(big.Int).Set(amountFill)
	}
	if !o.State.Terminal() {
		if o.AmountGet.Cmp(o.AmountFill) <= 0 {
			o.State = domain.OrderStateFilled
		} else {
			o.State = domain.OrderStateOpen
		}
	}
	o.Updated = updatedAt
	s.rows[signature] = o
	return true, nil
}

func (s *fakeOrderStore) UpsertCanceled(_ context.Context, order domain.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[order.Signature]
	if !ok {
		s.rows[order.Signature] = order
		return true, nil
	}
	if existing.State != domain.OrderStateOpen {
		return false, nil
	}
	existing.State = domain.OrderStateCanceled
	existing.AmountFill = order.AmountFill
	existing.Updated = order.Updated
	s.rows[order.Signature] = existing
	return true, nil
}

func (s *fakeOrderStore) GetBySignature(_ context.Context, signature common.Hash) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[signature]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

type fakeChain struct {
	mu        sync.Mutex
	fills     map[common.Hash]*big.Int
	fillErrs  map[common.Hash]error
	fillCalls int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		fills:    make(map[common.Hash]*big.Int),
		fillErrs: make(map[common.Hash]error),
	}
}

func (c *fakeChain) BlockTimestamp(_ context.Context, blockNumber uint64) (time.Time, error) {
	return time.Unix(int64(blockNumber)*15, 0).UTC(), nil
}

func (c *fakeChain) LatestBlockTimestamp(context.Context) (time.Time, error) {
	return time.Unix(1_600_000_000, 0).UTC(), nil
}

func (c *fakeChain) OrderFills(_ context.Context, _ common.Address, orderHash common.Hash) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillCalls++
	if err := c.fillErrs[orderHash]; err != nil {
		return nil, err
	}
	if fill, ok := c.fills[orderHash]; ok {
		return new(big.Int).Set(fill), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillCalls
}

type capturedMessage struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []capturedMessage
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, capturedMessage{channel, payload})
	return nil
}

func (p *fakePublisher) channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, m := range p.sent {
		out[i] = m.channel
	}
	return out
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

type recorderFixture struct {
	orders    *fakeOrderStore
	trades    *fakeTradeStore
	transfers *fakeTransferStore
	chain     *fakeChain
	bus       *fakePublisher
	recorder  *Recorder
}

func newRecorderFixture() *recorderFixture {
	f := &recorderFixture{
		orders:    newFakeOrderStore(),
		trades:    newFakeTradeStore(),
		transfers: newFakeTransferStore(),
		chain:     newFakeChain(),
		bus:       &fakePublisher{},
	}
	f.recorder = NewRecorder(
		f.orders, f.trades, f.transfers, f.chain, f.bus, "edb",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func openOrder(sig common.Hash, maker common.Address, tokenGive, tokenGet common.Address, amountGet int64, expires int64) domain.Order {
	return domain.Order{
		Signature:  sig,
		Source:     domain.OrderSourceOffchain,
		TokenGive:  tokenGive,
		AmountGive: big.NewInt(100),
		TokenGet:   tokenGet,
		AmountGet:  big.NewInt(amountGet),
		Expires:    big.NewInt(expires),
		Nonce:      big.NewInt(1),
		User:       maker,
		State:      domain.OrderStateOpen,
		Date:       time.Unix(1_500_000_000, 0).UTC(),
		AmountFill: new(big.Int),
		Updated:    time.Unix(1_500_000_000, 0).UTC(),
	}
}

func tradeEvent(tx common.Hash, idx uint, maker common.Address) domain.TradeEvent {
	return domain.TradeEvent{
		EventMeta: domain.EventMeta{
			BlockNumber: 4_000_000,
			TxHash:      tx,
			LogIndex:    idx,
		},
		TokenGet:   common.Address{},
		AmountGet:  big.NewInt(1_000_000),
		TokenGive:  tokenREP,
		AmountGive: big.NewInt(500),
		Get:        maker,
		Give:       takerAddr,
	}
}

// ---------------------------------------------------------------------------
// trades
// ---------------------------------------------------------------------------

func TestProcessTrade_RedeliveryIsAbsorbed(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x01")
	f.orders.put(openOrder(sig, makerAddr, tokenREP, common.Address{}, 1_000_000, 5_000_000))
	f.chain.fills[sig] = big.NewInt(60)

	ev := tradeEvent(common.HexToHash("0xabc"), 3, makerAddr)

	require.NoError(t, f.recorder.ProcessTrade(context.Background(), ev))
	require.NoError(t, f.recorder.ProcessTrade(context.Background(), ev))

	assert.Equal(t, 1, f.trades.count(), "one trade row for a redelivered event")
	assert.Equal(t, 1, f.chain.calls(), "redelivery must not trigger another refresh")

	order, ok := f.orders.get(sig)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(60), order.AmountFill)
	assert.Equal(t, domain.OrderStateOpen, order.State)
}

func TestProcessTrade_ConcurrentDuplicate(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x01")
	f.orders.put(openOrder(sig, makerAddr, tokenREP, common.Address{}, 1_000_000, 5_000_000))
	f.chain.fills[sig] = big.NewInt(60)

	ev := tradeEvent(common.HexToHash("0xabc"), 3, makerAddr)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.recorder.ProcessTrade(context.Background(), ev))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.trades.count())
	assert.Equal(t, 1, f.chain.calls())
}

func TestProcessTrade_TokenSelection(t *testing.T) {
	tokenOther := common.HexToAddress("0x05")

	tests := []struct {
		name      string
		tokenGive common.Address
		tokenGet  common.Address
		refreshed bool
	}{
		// The maker's order lists tokenREP on one side and ether on the
		// other.
		{"give side is the token", tokenREP, common.Address{}, true},
		{"give side is ether, get side keys the lookup", common.Address{}, tokenREP, true},
		{"unrelated token matches nothing", tokenOther, common.Address{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRecorderFixture()
			sig := common.HexToHash("0x01")
			f.orders.put(openOrder(sig, makerAddr, tokenREP, common.Address{}, 1_000_000, 5_000_000))
			f.chain.fills[sig] = big.NewInt(10)

			ev := tradeEvent(common.HexToHash("0xabc"), 0, makerAddr)
			ev.TokenGive = tt.tokenGive
			ev.TokenGet = tt.tokenGet

			require.NoError(t, f.recorder.ProcessTrade(context.Background(), ev))

			order, ok := f.orders.get(sig)
			require.True(t, ok)
			if tt.refreshed {
				assert.Equal(t, big.NewInt(10), order.AmountFill)
			} else {
				assert.Equal(t, new(big.Int), order.AmountFill)
			}
		})
	}
}

func TestProcessTrade_SkipsExpiredOrders(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x01")
	// Expires below the trade's block number.
	f.orders.put(openOrder(sig, makerAddr, tokenREP, common.Address{}, 1_000_000, 3_999_999))
	f.chain.fills[sig] = big.NewInt(10)

	require.NoError(t, f.recorder.ProcessTrade(context.Background(), tradeEvent(common.HexToHash("0xabc"), 0, makerAddr)))

	assert.Zero(t, f.chain.calls())
}

// ---------------------------------------------------------------------------
// fill refresh
// ---------------------------------------------------------------------------

func TestRefreshOrderFills_MonotonicAndStateDerivation(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x01")
	f.orders.put(openOrder(sig, makerAddr, tokenREP, common.Address{}, 100, 5_000_000))

	refresh := func(fill int64) domain.Order {
		t.Helper()
		f.chain.mu.Lock()
		f.chain.fills[sig] = big.NewInt(fill)
		f.chain.mu.Unlock()

		order, ok := f.orders.get(sig)
		require.True(t, ok)
		require.NoError(t, f.recorder.RefreshOrderFills(context.Background(), []domain.Order{order}))

		order, ok = f.orders.get(sig)
		require.True(t, ok)
		return order
	}

	order := refresh(60)
	assert.Equal(t, big.NewInt(60), order.AmountFill)
	assert.Equal(t, domain.OrderStateOpen, order.State)

	order = refresh(100)
	assert.Equal(t, big.NewInt(100), order.AmountFill)
	assert.Equal(t, domain.OrderStateFilled, order.State)

	// A stale lookup must never move the fill backwards or reopen the
	// order.
	order = refresh(40)
	assert.Equal(t, big.NewInt(100), order.AmountFill)
	assert.Equal(t, domain.OrderStateFilled, order.State)
}

func TestRefreshOrderFills_LookupFailureIsIsolated(t *testing.T) {
	f := newRecorderFixture()
	sigBad := common.HexToHash("0x01")
	sigGood := common.HexToHash("0x02")
	f.orders.put(openOrder(sigBad, makerAddr, tokenREP, common.Address{}, 100, 5_000_000))
	f.orders.put(openOrder(sigGood, makerAddr, tokenREP, common.Address{}, 100, 5_000_000))

	f.chain.fillErrs[sigBad] = fmt.Errorf("node timeout")
	f.chain.fills[sigGood] = big.NewInt(25)

	orderBad, _ := f.orders.get(sigBad)
	orderGood, _ := f.orders.get(sigGood)

	err := f.recorder.RefreshOrderFills(context.Background(), []domain.Order{orderBad, orderGood})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFillLookupFailed)

	got, _ := f.orders.get(sigGood)
	assert.Equal(t, big.NewInt(25), got.AmountFill, "sibling refresh must proceed")
}

func TestRefreshOrderFills_UnknownSignatureIsNoOp(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x0fa1")
	f.chain.fills[sig] = big.NewInt(40)

	// The order has never been persisted, only seen on-chain. The refresh
	// touches nothing and reports no error.
	unseen := openOrder(sig, makerAddr, tokenREP, common.Address{}, 100, 5_000_000)
	require.NoError(t, f.recorder.RefreshOrderFills(context.Background(), []domain.Order{unseen}))

	_, ok := f.orders.get(sig)
	assert.False(t, ok, "refresh must not create order rows")
	assert.Empty(t, f.bus.channels(), "no update message for a no-op refresh")
}

// ---------------------------------------------------------------------------
// transfers
// ---------------------------------------------------------------------------

func TestRecordTransfer_Idempotent(t *testing.T) {
	f := newRecorderFixture()

	ev := domain.TransferEvent{
		EventMeta: domain.EventMeta{
			BlockNumber: 4_000_000,
			TxHash:      common.HexToHash("0xdef"),
			LogIndex:    1,
		},
		Direction: domain.TransferDeposit,
		Token:     tokenREP,
		User:      makerAddr,
		Amount:    big.NewInt(777),
		Balance:   big.NewInt(10_000),
	}

	require.NoError(t, f.recorder.RecordDeposit(context.Background(), ev))
	require.NoError(t, f.recorder.RecordDeposit(context.Background(), ev))

	f.transfers.mu.Lock()
	defer f.transfers.mu.Unlock()
	assert.Len(t, f.transfers.rows, 1)
}

// ---------------------------------------------------------------------------
// cancels
// ---------------------------------------------------------------------------

func cancelEvent(sig common.Hash, offchain bool) domain.CancelEvent {
	ev := domain.CancelEvent{
		EventMeta: domain.EventMeta{
			BlockNumber: 4_000_000,
			TxHash:      common.HexToHash("0xcafe"),
			LogIndex:    0,
		},
		Signature:  sig,
		TokenGet:   common.Address{},
		AmountGet:  big.NewInt(1_000_000),
		TokenGive:  tokenREP,
		AmountGive: big.NewInt(500),
		Expires:    big.NewInt(5_000_000),
		Nonce:      big.NewInt(1),
		User:       makerAddr,
	}
	if offchain {
		v := int16(27)
		ev.V = &v
		ev.R = make([]byte, 32)
		ev.R[0] = 0xde
		ev.S = make([]byte, 32)
	}
	return ev
}

func TestRecordCancel_OpenOrder(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x01")
	f.orders.put(openOrder(sig, makerAddr, tokenREP, common.Address{}, 1_000_000, 5_000_000))

	require.NoError(t, f.recorder.RecordCancel(context.Background(), cancelEvent(sig, true)))

	order, ok := f.orders.get(sig)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStateCanceled, order.State)
	assert.Equal(t, big.NewInt(1_000_000), order.AmountFill, "cancel marks the order fully filled")
}

func TestRecordCancel_SynthesizesUnseenOrder(t *testing.T) {
	tests := []struct {
		name     string
		offchain bool
		source   domain.OrderSource
	}{
		{"signed cancel is an off-chain order", true, domain.OrderSourceOffchain},
		{"unsigned cancel is an on-chain order", false, domain.OrderSourceOnchain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRecorderFixture()
			sig := common.HexToHash("0x02")

			require.NoError(t, f.recorder.RecordCancel(context.Background(), cancelEvent(sig, tt.offchain)))

			order, ok := f.orders.get(sig)
			require.True(t, ok)
			assert.Equal(t, tt.source, order.Source)
			assert.Equal(t, domain.OrderStateCanceled, order.State)
			assert.Equal(t, makerAddr, order.User)
		})
	}
}

func TestRecordCancel_TerminalOrderIsImmutable(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x01")

	filled := openOrder(sig, makerAddr, tokenREP, common.Address{}, 1_000_000, 5_000_000)
	filled.State = domain.OrderStateFilled
	filled.AmountFill = big.NewInt(1_000_000)
	f.orders.put(filled)

	require.NoError(t, f.recorder.RecordCancel(context.Background(), cancelEvent(sig, true)))

	order, ok := f.orders.get(sig)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStateFilled, order.State, "a filled order must not become canceled")
}

// ---------------------------------------------------------------------------
// update fan-out
// ---------------------------------------------------------------------------

func TestPublish_ChannelsAndWriteGating(t *testing.T) {
	f := newRecorderFixture()
	sig := common.HexToHash("0x01")
	f.orders.put(openOrder(sig, makerAddr, tokenREP, common.Address{}, 1_000_000, 5_000_000))
	f.chain.fills[sig] = big.NewInt(60)

	ev := tradeEvent(common.HexToHash("0xabc"), 3, makerAddr)
	require.NoError(t, f.recorder.ProcessTrade(context.Background(), ev))

	assert.Equal(t, []string{"edb.trades", "edb.orders"}, f.bus.channels())

	// A redelivered event writes nothing, so nothing is published.
	require.NoError(t, f.recorder.ProcessTrade(context.Background(), ev))
	assert.Len(t, f.bus.channels(), 2)
}
