package program

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/instruction"
	"github.com/uhyunpark/spotdex/pkg/state"
	"github.com/uhyunpark/spotdex/pkg/token"
	"github.com/uhyunpark/spotdex/pkg/util"
)

// fakeLedger records custody requests without holding real balances, except
// for a configurable balance map used to trigger ErrInsufficientFunds.
type fakeLedger struct {
	balances  map[state.Pubkey]uint64
	transfers []fakeTransfer
	created   []fakeCreate
}

type fakeTransfer struct {
	From, To state.Pubkey
	Auth     token.Authority
	Amount   uint64
}

type fakeCreate struct {
	Addr, Mint, Owner state.Pubkey
}

func (f *fakeLedger) Transfer(from, to state.Pubkey, auth token.Authority, amount uint64) error {
	if !auth.Signed {
		return fmt.Errorf("unsigned authority: %w", dexerr.ErrAccountNotAuthorized)
	}
	if bal, ok := f.balances[from]; ok && amount > bal {
		return fmt.Errorf("balance %d short of %d: %w", bal, amount, dexerr.ErrInsufficientFunds)
	}
	f.transfers = append(f.transfers, fakeTransfer{From: from, To: to, Auth: auth, Amount: amount})
	return nil
}

func (f *fakeLedger) CreateAccount(addr, mint, owner state.Pubkey) error {
	f.created = append(f.created, fakeCreate{Addr: addr, Mint: mint, Owner: owner})
	return nil
}

// fakeAllocator assigns the slot without charging rent.
type fakeAllocator struct{}

func (fakeAllocator) CreateAccount(payer, newAcc *Account, owner state.Pubkey, size int) error {
	newAcc.Owner = owner
	newAcc.Data = make([]byte, size)
	return nil
}

var testClock = util.StubClock{T: time.Unix(1_700_000_000, 0)}

func newTestProcessor() (*Processor, state.Pubkey) {
	programID := state.NewPubkey()
	return NewProcessor(programID, testClock, zap.NewNop()), programID
}

func testEnv(l *fakeLedger) Env {
	return Env{Ledger: l, Alloc: fakeAllocator{}}
}

func signer(key state.Pubkey) *Account {
	return &Account{Key: key, IsSigner: true, IsWritable: true, Lamports: 1 << 40}
}

func plain(key state.Pubkey) *Account {
	return &Account{Key: key}
}

func initMarketAccounts(p *Processor, t *testing.T, l *fakeLedger) (market *Account, authority *Account, base, quote state.Pubkey) {
	t.Helper()
	authority = signer(state.NewPubkey())
	market = &Account{Key: state.NewPubkey(), IsWritable: true}
	base, quote = state.NewPubkey(), state.NewPubkey()

	data := instruction.Encode(instruction.InitializeMarket{
		MinBaseOrderSize: 100,
		TickSize:         10,
		FeeRateBps:       25,
	})
	accounts := []*Account{authority, market, plain(base), plain(quote)}
	if err := p.Process(testEnv(l), accounts, data); err != nil {
		t.Fatalf("initialize market: %v", err)
	}
	return market, authority, base, quote
}

func TestInitializeMarket(t *testing.T) {
	p, programID := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, authority, base, quote := initMarketAccounts(p, t, l)

	if marketAcc.Owner != programID {
		t.Errorf("market owner = %s, want program id", marketAcc.Owner)
	}
	m, err := state.UnpackMarket(marketAcc.Data)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !m.IsInitialized || m.Authority != authority.Key || m.BaseMint != base || m.QuoteMint != quote {
		t.Errorf("market fields wrong: %+v", m)
	}
	if m.NextOrderID != 1 || m.NumBids != 0 || m.NumAsks != 0 {
		t.Errorf("counters wrong: next=%d bids=%d asks=%d", m.NextOrderID, m.NumBids, m.NumAsks)
	}
}

func TestInitializeMarketRejections(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}

	unsigned := plain(state.NewPubkey())
	market := &Account{Key: state.NewPubkey(), IsWritable: true}
	mints := []*Account{plain(state.NewPubkey()), plain(state.NewPubkey())}

	data := instruction.Encode(instruction.InitializeMarket{MinBaseOrderSize: 1, TickSize: 1})
	err := p.Process(testEnv(l), append([]*Account{unsigned, market}, mints...), data)
	if !errors.Is(err, dexerr.ErrAccountNotAuthorized) {
		t.Errorf("unsigned authority: want ErrAccountNotAuthorized, got %v", err)
	}

	data = instruction.Encode(instruction.InitializeMarket{MinBaseOrderSize: 1, TickSize: 1, FeeRateBps: 10001})
	err = p.Process(testEnv(l), append([]*Account{signer(state.NewPubkey()), market}, mints...), data)
	if !errors.Is(err, dexerr.ErrInvalidInstructionData) {
		t.Errorf("fee over 100%%: want ErrInvalidInstructionData, got %v", err)
	}
}

func placeOrder(p *Processor, t *testing.T, l *fakeLedger, marketAcc *Account, ix instruction.PlaceLimitOrder) (*Account, *Account, *Account, error) {
	t.Helper()
	owner := signer(state.NewPubkey())
	orderAcc := &Account{Key: state.NewPubkey(), IsWritable: true}
	ownerToken := &Account{Key: state.NewPubkey(), IsWritable: true}
	err := p.Process(testEnv(l), []*Account{owner, marketAcc, orderAcc, ownerToken}, instruction.Encode(ix))
	return owner, orderAcc, ownerToken, err
}

func TestPlaceLimitOrderBuy(t *testing.T) {
	p, programID := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, quote := initMarketAccounts(p, t, l)

	owner, orderAcc, ownerToken, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{
		IsBuy: true, LimitPrice: 1000, Quantity: 500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	order, err := state.UnpackOrder(orderAcc.Data)
	if err != nil {
		t.Fatalf("unpack order: %v", err)
	}
	if order.OrderID != 1 || order.Owner != owner.Key || order.Market != marketAcc.Key {
		t.Errorf("order fields wrong: %+v", order)
	}
	if order.RemainingQuantity != 500 || order.OriginalQuantity != 500 {
		t.Errorf("quantities wrong: %+v", order)
	}
	if order.CreationTimestamp != uint64(testClock.T.Unix()) {
		t.Errorf("timestamp = %d, want clock time", order.CreationTimestamp)
	}

	m, _ := state.UnpackMarket(marketAcc.Data)
	if m.NextOrderID != 2 || m.NumBids != 1 || m.NumAsks != 0 {
		t.Errorf("counters wrong after buy: next=%d bids=%d asks=%d", m.NextOrderID, m.NumBids, m.NumAsks)
	}

	// Buy locks price*quantity of quote into the order-scoped custody slot.
	if len(l.created) != 1 {
		t.Fatalf("created %d custody accounts, want 1", len(l.created))
	}
	c := l.created[0]
	if c.Addr != orderAcc.Key || c.Mint != quote || c.Owner != OrderAuthority(programID, 1) {
		t.Errorf("custody account wrong: %+v", c)
	}
	if len(l.transfers) != 1 {
		t.Fatalf("made %d transfers, want 1", len(l.transfers))
	}
	tr := l.transfers[0]
	if tr.From != ownerToken.Key || tr.To != orderAcc.Key || tr.Amount != 500_000 {
		t.Errorf("lock transfer wrong: %+v", tr)
	}
	if tr.Auth.Key != owner.Key || !tr.Auth.Signed {
		t.Errorf("lock authority wrong: %+v", tr.Auth)
	}
}

func TestPlaceLimitOrderSellLocksBase(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, base, _ := initMarketAccounts(p, t, l)

	_, _, _, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{
		IsBuy: false, LimitPrice: 990, Quantity: 200,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	m, _ := state.UnpackMarket(marketAcc.Data)
	if m.NumBids != 0 || m.NumAsks != 1 {
		t.Errorf("counters wrong after sell: bids=%d asks=%d", m.NumBids, m.NumAsks)
	}
	if l.created[0].Mint != base {
		t.Errorf("sell custody mint = %s, want base mint", l.created[0].Mint)
	}
	if got := l.transfers[0].Amount; got != 200 {
		t.Errorf("sell locks %d, want quantity 200", got)
	}
}

func TestPlaceLimitOrderRejections(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, _ := initMarketAccounts(p, t, l)

	tests := []struct {
		name    string
		ix      instruction.PlaceLimitOrder
		wantErr error
	}{
		{
			name:    "below minimum size",
			ix:      instruction.PlaceLimitOrder{IsBuy: true, LimitPrice: 1000, Quantity: 99},
			wantErr: dexerr.ErrInvalidOrderSize,
		},
		{
			name:    "zero price",
			ix:      instruction.PlaceLimitOrder{IsBuy: true, LimitPrice: 0, Quantity: 500},
			wantErr: dexerr.ErrInvalidOrderPrice,
		},
		{
			name:    "off-tick price",
			ix:      instruction.PlaceLimitOrder{IsBuy: true, LimitPrice: 1005, Quantity: 500},
			wantErr: dexerr.ErrInvalidOrderPrice,
		},
		{
			name:    "lock amount overflows",
			ix:      instruction.PlaceLimitOrder{IsBuy: true, LimitPrice: 10 << 60, Quantity: 1 << 32},
			wantErr: dexerr.ErrArithmeticOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := append([]byte(nil), marketAcc.Data...)
			_, _, _, err := placeOrder(p, t, l, marketAcc, tt.ix)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("want %v, got %v", tt.wantErr, err)
			}
			// The host discards buffers on failure, but buffer-level checks
			// guard order-id consumption for errors raised before mutation.
			if tt.wantErr == dexerr.ErrInvalidOrderSize || tt.wantErr == dexerr.ErrInvalidOrderPrice {
				if string(marketAcc.Data) != string(before) {
					t.Errorf("market mutated before validation completed")
				}
			} else {
				marketAcc.Data = before
			}
		})
	}
}

func TestPlaceLimitOrderRejectsLiveSlotReuse(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, _ := initMarketAccounts(p, t, l)

	owner, orderAcc, ownerToken, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{
		IsBuy: true, LimitPrice: 1000, Quantity: 500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	data := instruction.Encode(instruction.PlaceLimitOrder{IsBuy: true, LimitPrice: 1000, Quantity: 500})
	err = p.Process(testEnv(l), []*Account{owner, marketAcc, orderAcc, ownerToken}, data)
	if !errors.Is(err, dexerr.ErrInvalidAccountData) {
		t.Errorf("live slot reuse: want ErrInvalidAccountData, got %v", err)
	}
}

func TestMonotonicOrderIDs(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, _ := initMarketAccounts(p, t, l)

	_, first, _, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{IsBuy: true, LimitPrice: 1000, Quantity: 500})
	if err != nil {
		t.Fatalf("first place: %v", err)
	}
	_, second, _, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{IsBuy: false, LimitPrice: 990, Quantity: 200})
	if err != nil {
		t.Fatalf("second place: %v", err)
	}

	o1, _ := state.UnpackOrder(first.Data)
	o2, _ := state.UnpackOrder(second.Data)
	if o1.OrderID != 1 || o2.OrderID != 2 {
		t.Errorf("order ids = %d, %d; want 1, 2", o1.OrderID, o2.OrderID)
	}
}

func TestCancelOrder(t *testing.T) {
	p, programID := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, _ := initMarketAccounts(p, t, l)

	owner, orderAcc, ownerToken, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{
		IsBuy: true, LimitPrice: 1000, Quantity: 500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	l.transfers = nil

	data := instruction.Encode(instruction.CancelOrder{})
	if err := p.Process(testEnv(l), []*Account{owner, marketAcc, orderAcc, ownerToken}, data); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Full remaining collateral flows back under the order authority.
	if len(l.transfers) != 1 {
		t.Fatalf("made %d transfers, want 1", len(l.transfers))
	}
	tr := l.transfers[0]
	if tr.From != orderAcc.Key || tr.To != ownerToken.Key || tr.Amount != 500_000 {
		t.Errorf("release transfer wrong: %+v", tr)
	}
	if tr.Auth.Key != OrderAuthority(programID, 1) || !tr.Auth.Signed {
		t.Errorf("release authority wrong: %+v", tr.Auth)
	}

	// Order storage is zeroed and the side counter decremented.
	for i, b := range orderAcc.Data {
		if b != 0 {
			t.Fatalf("order byte %d not zeroed", i)
		}
	}
	m, _ := state.UnpackMarket(marketAcc.Data)
	if m.NumBids != 0 {
		t.Errorf("num bids = %d, want 0", m.NumBids)
	}

	// A second cancel of the zeroed slot finds no live order.
	err = p.Process(testEnv(l), []*Account{owner, marketAcc, orderAcc, ownerToken}, data)
	if !errors.Is(err, dexerr.ErrInvalidAccountData) {
		t.Errorf("cancel retired order: want ErrInvalidAccountData, got %v", err)
	}
}

func TestCancelOrderZeroCountStaysZero(t *testing.T) {
	p, programID := newTestProcessor()
	l := &fakeLedger{}

	// Hand-crafted state: a live buy order on a market whose bid count is
	// already zero. The decrement must floor at zero, not wrap.
	owner := signer(state.NewPubkey())
	market := state.Market{
		IsInitialized:    true,
		Authority:        state.NewPubkey(),
		BaseMint:         state.NewPubkey(),
		QuoteMint:        state.NewPubkey(),
		MinBaseOrderSize: 100,
		TickSize:         10,
		NextOrderID:      2,
		NumBids:          0,
		NumAsks:          0,
	}
	marketAcc := &Account{Key: state.NewPubkey(), Owner: programID, IsWritable: true, Data: market.Pack()}
	order := state.Order{
		IsInitialized:     true,
		OrderID:           1,
		Owner:             owner.Key,
		Market:            marketAcc.Key,
		IsBuy:             true,
		LimitPrice:        1000,
		OriginalQuantity:  500,
		RemainingQuantity: 500,
	}
	orderAcc := &Account{Key: state.NewPubkey(), Owner: programID, IsWritable: true, Data: order.Pack()}
	ownerToken := &Account{Key: state.NewPubkey(), IsWritable: true}

	data := instruction.Encode(instruction.CancelOrder{})
	if err := p.Process(testEnv(l), []*Account{owner, marketAcc, orderAcc, ownerToken}, data); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	m, err := state.UnpackMarket(marketAcc.Data)
	if err != nil {
		t.Fatalf("unpack market: %v", err)
	}
	if m.NumBids != 0 {
		t.Errorf("num bids = %d, want 0", m.NumBids)
	}
	if m.NumAsks != 0 {
		t.Errorf("num asks = %d, want 0", m.NumAsks)
	}
	// The release itself still happens.
	if len(l.transfers) != 1 || l.transfers[0].Amount != 500_000 {
		t.Errorf("release transfer wrong: %+v", l.transfers)
	}
}

func TestCancelOrderRejectsNonOwner(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, _ := initMarketAccounts(p, t, l)

	_, orderAcc, ownerToken, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{
		IsBuy: true, LimitPrice: 1000, Quantity: 500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	l.transfers = nil

	intruder := signer(state.NewPubkey())
	data := instruction.Encode(instruction.CancelOrder{})
	err = p.Process(testEnv(l), []*Account{intruder, marketAcc, orderAcc, ownerToken}, data)
	if !errors.Is(err, dexerr.ErrAccountNotAuthorized) {
		t.Errorf("want ErrAccountNotAuthorized, got %v", err)
	}
	if len(l.transfers) != 0 {
		t.Errorf("non-owner cancel moved funds: %+v", l.transfers)
	}
	if order, _ := state.UnpackOrder(orderAcc.Data); !order.IsInitialized {
		t.Errorf("order retired by non-owner")
	}
}

func TestCancelOrderMarketMismatch(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, _ := initMarketAccounts(p, t, l)
	otherMarket, _, _, _ := initMarketAccounts(p, t, l)

	owner, orderAcc, ownerToken, err := placeOrder(p, t, l, marketAcc, instruction.PlaceLimitOrder{
		IsBuy: true, LimitPrice: 1000, Quantity: 500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	data := instruction.Encode(instruction.CancelOrder{})
	err = p.Process(testEnv(l), []*Account{owner, otherMarket, orderAcc, ownerToken}, data)
	if !errors.Is(err, dexerr.ErrInvalidAccountData) {
		t.Errorf("want ErrInvalidAccountData, got %v", err)
	}
}

func TestSettleFunds(t *testing.T) {
	p, programID := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, authority, _, _ := initMarketAccounts(p, t, l)

	taker, maker := plain(state.NewPubkey()), plain(state.NewPubkey())
	takerBase, takerQuote := plain(state.NewPubkey()), plain(state.NewPubkey())
	makerBase, makerQuote := plain(state.NewPubkey()), plain(state.NewPubkey())
	feeRecipient := plain(state.NewPubkey())

	marketBefore := append([]byte(nil), marketAcc.Data...)

	data := instruction.Encode(instruction.SettleFunds{BaseAmount: 500, QuoteAmount: 1_000_000})
	accounts := []*Account{authority, marketAcc, taker, maker, takerBase, takerQuote, makerBase, makerQuote, feeRecipient}
	if err := p.Process(testEnv(l), accounts, data); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// 25 bps of 1,000,000 is 2,500: base to taker, quote minus fee to maker,
	// fee to the recipient, all under the market-scoped authority.
	want := []fakeTransfer{
		{From: makerBase.Key, To: takerBase.Key, Amount: 500},
		{From: takerQuote.Key, To: makerQuote.Key, Amount: 997_500},
		{From: takerQuote.Key, To: feeRecipient.Key, Amount: 2_500},
	}
	if len(l.transfers) != len(want) {
		t.Fatalf("made %d transfers, want %d", len(l.transfers), len(want))
	}
	marketAuth := MarketAuthority(programID, authority.Key)
	for i, w := range want {
		got := l.transfers[i]
		if got.From != w.From || got.To != w.To || got.Amount != w.Amount {
			t.Errorf("transfer %d = %+v, want %+v", i, got, w)
		}
		if got.Auth.Key != marketAuth || !got.Auth.Signed {
			t.Errorf("transfer %d authority wrong: %+v", i, got.Auth)
		}
	}

	// Settlement leaves the market record untouched.
	if string(marketAcc.Data) != string(marketBefore) {
		t.Errorf("settlement mutated market record")
	}
}

func TestSettleFundsZeroFeeSkipsFeeTransfer(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}

	authority := signer(state.NewPubkey())
	marketAcc := &Account{Key: state.NewPubkey(), IsWritable: true}
	data := instruction.Encode(instruction.InitializeMarket{MinBaseOrderSize: 1, TickSize: 1, FeeRateBps: 0})
	accounts := []*Account{authority, marketAcc, plain(state.NewPubkey()), plain(state.NewPubkey())}
	if err := p.Process(testEnv(l), accounts, data); err != nil {
		t.Fatalf("initialize market: %v", err)
	}

	settle := instruction.Encode(instruction.SettleFunds{BaseAmount: 10, QuoteAmount: 100})
	settleAccounts := []*Account{
		authority, marketAcc,
		plain(state.NewPubkey()), plain(state.NewPubkey()),
		plain(state.NewPubkey()), plain(state.NewPubkey()),
		plain(state.NewPubkey()), plain(state.NewPubkey()),
		plain(state.NewPubkey()),
	}
	if err := p.Process(testEnv(l), settleAccounts, settle); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(l.transfers) != 2 {
		t.Errorf("made %d transfers, want 2 (no fee leg)", len(l.transfers))
	}
}

func TestSettleFundsRejectsForeignAuthority(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	marketAcc, _, _, _ := initMarketAccounts(p, t, l)

	impostor := signer(state.NewPubkey())
	data := instruction.Encode(instruction.SettleFunds{BaseAmount: 1, QuoteAmount: 1})
	accounts := []*Account{
		impostor, marketAcc,
		plain(state.NewPubkey()), plain(state.NewPubkey()),
		plain(state.NewPubkey()), plain(state.NewPubkey()),
		plain(state.NewPubkey()), plain(state.NewPubkey()),
		plain(state.NewPubkey()),
	}
	err := p.Process(testEnv(l), accounts, data)
	if !errors.Is(err, dexerr.ErrAccountNotAuthorized) {
		t.Errorf("want ErrAccountNotAuthorized, got %v", err)
	}
	if len(l.transfers) != 0 {
		t.Errorf("foreign authority moved funds: %+v", l.transfers)
	}
}

func TestProcessShortAccountList(t *testing.T) {
	p, _ := newTestProcessor()
	l := &fakeLedger{}
	data := instruction.Encode(instruction.InitializeMarket{MinBaseOrderSize: 1, TickSize: 1})
	err := p.Process(testEnv(l), []*Account{signer(state.NewPubkey())}, data)
	if !errors.Is(err, dexerr.ErrInvalidInstructionData) {
		t.Errorf("want ErrInvalidInstructionData, got %v", err)
	}
}

func TestDeriveAuthorityIsDeterministicAndScoped(t *testing.T) {
	programID := state.NewPubkey()
	if OrderAuthority(programID, 1) != OrderAuthority(programID, 1) {
		t.Errorf("order authority not deterministic")
	}
	if OrderAuthority(programID, 1) == OrderAuthority(programID, 2) {
		t.Errorf("different order ids share an authority")
	}
	if OrderAuthority(programID, 1) == OrderAuthority(state.NewPubkey(), 1) {
		t.Errorf("different programs share an authority")
	}
	auth := state.NewPubkey()
	if MarketAuthority(programID, auth) == OrderAuthority(programID, 1) {
		t.Errorf("market and order authority domains collide")
	}
}
