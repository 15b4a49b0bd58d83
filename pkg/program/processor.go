// Package program is the transition engine: it validates each decoded
// operation against current account state and the verified signer set,
// mutates local account buffers, and requests custody actions from the token
// ledger. The host commits or discards everything as one unit, so a returned
// error means no observable effect.
package program

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/instruction"
	"github.com/uhyunpark/spotdex/pkg/state"
	"github.com/uhyunpark/spotdex/pkg/token"
	"github.com/uhyunpark/spotdex/pkg/util"
)

// Account is one referenced account as the host bound it: identity, owning
// program, balance, raw record bytes, and whether the transaction's verified
// signer set contains it.
type Account struct {
	Key        state.Pubkey
	Owner      state.Pubkey
	Lamports   uint64
	Data       []byte
	IsSigner   bool
	IsWritable bool
}

// Ledger is the custody collaborator the engine issues transfer requests to.
// Transfers must verify the authority capability and fail atomically with
// the transition.
type Ledger interface {
	Transfer(from, to state.Pubkey, auth token.Authority, amount uint64) error
	CreateAccount(addr, mint, owner state.Pubkey) error
}

// Allocator assigns unowned storage slots to the program, zeroed at a fixed
// size and funded to the rent-exempt minimum from the payer.
type Allocator interface {
	CreateAccount(payer, newAcc *Account, owner state.Pubkey, size int) error
}

// Env carries the per-execution collaborators.
type Env struct {
	Ledger Ledger
	Alloc  Allocator
}

// Processor executes instructions for one program id.
type Processor struct {
	programID state.Pubkey
	clock     util.Clock
	log       *zap.Logger
}

// NewProcessor creates a processor. The clock is the trusted timestamp
// source for order creation.
func NewProcessor(programID state.Pubkey, clock util.Clock, log *zap.Logger) *Processor {
	return &Processor{programID: programID, clock: clock, log: log}
}

// ProgramID returns the program identity transfers and allocations are
// scoped to.
func (p *Processor) ProgramID() state.Pubkey { return p.programID }

// Process decodes and applies one instruction against the referenced
// accounts. Any validation failure aborts the whole transition.
func (p *Processor) Process(env Env, accounts []*Account, data []byte) error {
	ix, err := instruction.Decode(data)
	if err != nil {
		return err
	}

	switch ix := ix.(type) {
	case instruction.InitializeMarket:
		p.log.Info("instruction: initialize market")
		return p.initializeMarket(env, accounts, ix)
	case instruction.PlaceLimitOrder:
		p.log.Info("instruction: place limit order")
		return p.placeLimitOrder(env, accounts, ix)
	case instruction.CancelOrder:
		p.log.Info("instruction: cancel order")
		return p.cancelOrder(env, accounts)
	case instruction.SettleFunds:
		p.log.Info("instruction: settle funds")
		return p.settleFunds(env, accounts, ix)
	}
	return fmt.Errorf("unhandled instruction: %w", dexerr.ErrInvalidInstructionData)
}

// expectAccounts rejects short account lists before positional binding.
func expectAccounts(accounts []*Account, n int) error {
	if len(accounts) < n {
		return fmt.Errorf("need %d accounts, got %d: %w", n, len(accounts), dexerr.ErrInvalidInstructionData)
	}
	return nil
}

func (p *Processor) initializeMarket(env Env, accounts []*Account, ix instruction.InitializeMarket) error {
	if err := expectAccounts(accounts, 4); err != nil {
		return err
	}
	authority, marketAcc := accounts[0], accounts[1]
	baseMint, quoteMint := accounts[2], accounts[3]

	if !authority.IsSigner {
		return fmt.Errorf("market authority must sign: %w", dexerr.ErrAccountNotAuthorized)
	}
	if ix.FeeRateBps > state.MaxFeeRateBps {
		return fmt.Errorf("fee rate %d bps exceeds %d: %w",
			ix.FeeRateBps, state.MaxFeeRateBps, dexerr.ErrInvalidInstructionData)
	}

	if marketAcc.Owner != p.programID {
		if err := env.Alloc.CreateAccount(authority, marketAcc, p.programID, state.MarketLen); err != nil {
			return err
		}
	}

	market := state.Market{
		IsInitialized:    true,
		Authority:        authority.Key,
		BaseMint:         baseMint.Key,
		QuoteMint:        quoteMint.Key,
		MinBaseOrderSize: ix.MinBaseOrderSize,
		TickSize:         ix.TickSize,
		FeeRateBps:       ix.FeeRateBps,
		NextOrderID:      1,
		NumBids:          0,
		NumAsks:          0,
	}
	marketAcc.Data = market.Pack()

	p.log.Info("market initialized",
		zap.String("market", marketAcc.Key.Hex()),
		zap.String("authority", authority.Key.Hex()),
		zap.Uint64("min_base_order_size", ix.MinBaseOrderSize),
		zap.Uint64("tick_size", ix.TickSize),
		zap.Uint16("fee_rate_bps", ix.FeeRateBps))
	return nil
}

func (p *Processor) placeLimitOrder(env Env, accounts []*Account, ix instruction.PlaceLimitOrder) error {
	if err := expectAccounts(accounts, 4); err != nil {
		return err
	}
	owner, marketAcc, orderAcc, ownerToken := accounts[0], accounts[1], accounts[2], accounts[3]

	if !owner.IsSigner {
		return fmt.Errorf("order owner must sign: %w", dexerr.ErrAccountNotAuthorized)
	}

	market, err := state.UnpackMarket(marketAcc.Data)
	if err != nil {
		return err
	}
	if !market.IsInitialized {
		return fmt.Errorf("market not initialized: %w", dexerr.ErrInvalidAccountData)
	}

	if ix.Quantity < market.MinBaseOrderSize {
		return fmt.Errorf("quantity %d below minimum %d: %w",
			ix.Quantity, market.MinBaseOrderSize, dexerr.ErrInvalidOrderSize)
	}
	if ix.LimitPrice == 0 || market.TickSize == 0 || ix.LimitPrice%market.TickSize != 0 {
		return fmt.Errorf("price %d not a positive multiple of tick %d: %w",
			ix.LimitPrice, market.TickSize, dexerr.ErrInvalidOrderPrice)
	}

	if orderAcc.Owner != p.programID {
		if err := env.Alloc.CreateAccount(owner, orderAcc, p.programID, state.OrderLen); err != nil {
			return err
		}
	} else if existing, err := state.UnpackOrder(orderAcc.Data); err == nil && existing.IsInitialized {
		// Re-using a live order slot would double-count its custody.
		return fmt.Errorf("order account %s already holds an open order: %w",
			orderAcc.Key, dexerr.ErrInvalidAccountData)
	}

	orderID := market.NextOrderID
	order := state.Order{
		IsInitialized:     true,
		OrderID:           orderID,
		Owner:             owner.Key,
		Market:            marketAcc.Key,
		IsBuy:             ix.IsBuy,
		LimitPrice:        ix.LimitPrice,
		OriginalQuantity:  ix.Quantity,
		RemainingQuantity: ix.Quantity,
		CreationTimestamp: uint64(p.clock.Now().Unix()),
	}
	orderAcc.Data = order.Pack()

	market.NextOrderID++
	if ix.IsBuy {
		market.NumBids++
	} else {
		market.NumAsks++
	}
	marketAcc.Data = market.Pack()

	// Lock collateral: quote for buys (price * quantity), base for sells
	// (quantity). The custody balance lives under the order account's key,
	// owned by the order-scoped derived authority.
	var lockAmount uint64
	var custodyMint state.Pubkey
	if ix.IsBuy {
		lockAmount, err = state.CheckedMul(ix.LimitPrice, ix.Quantity)
		if err != nil {
			return err
		}
		custodyMint = market.QuoteMint
	} else {
		lockAmount = ix.Quantity
		custodyMint = market.BaseMint
	}
	custodyOwner := OrderAuthority(p.programID, orderID)
	if err := env.Ledger.CreateAccount(orderAcc.Key, custodyMint, custodyOwner); err != nil {
		return err
	}
	walletAuth := token.Authority{Key: owner.Key, Signed: owner.IsSigner}
	if err := env.Ledger.Transfer(ownerToken.Key, orderAcc.Key, walletAuth, lockAmount); err != nil {
		return err
	}

	p.log.Info("order placed",
		zap.Uint64("order_id", orderID),
		zap.String("market", marketAcc.Key.Hex()),
		zap.String("owner", owner.Key.Hex()),
		zap.Bool("is_buy", ix.IsBuy),
		zap.Uint64("limit_price", ix.LimitPrice),
		zap.Uint64("quantity", ix.Quantity),
		zap.Uint64("locked", lockAmount),
		zap.String("self_trade_behavior", ix.SelfTradeBehavior.String()))
	return nil
}

func (p *Processor) cancelOrder(env Env, accounts []*Account) error {
	if err := expectAccounts(accounts, 4); err != nil {
		return err
	}
	owner, marketAcc, orderAcc, ownerToken := accounts[0], accounts[1], accounts[2], accounts[3]

	if !owner.IsSigner {
		return fmt.Errorf("order owner must sign: %w", dexerr.ErrAccountNotAuthorized)
	}

	order, err := state.UnpackOrder(orderAcc.Data)
	if err != nil {
		return err
	}
	if !order.IsInitialized {
		return fmt.Errorf("order not initialized: %w", dexerr.ErrInvalidAccountData)
	}
	if order.Owner != owner.Key {
		return fmt.Errorf("signer %s does not own order %d: %w",
			owner.Key, order.OrderID, dexerr.ErrAccountNotAuthorized)
	}

	market, err := state.UnpackMarket(marketAcc.Data)
	if err != nil {
		return err
	}
	if !market.IsInitialized {
		return fmt.Errorf("market not initialized: %w", dexerr.ErrInvalidAccountData)
	}
	if order.Market != marketAcc.Key {
		return fmt.Errorf("order %d belongs to market %s: %w",
			order.OrderID, order.Market, dexerr.ErrInvalidAccountData)
	}

	// Release remaining collateral under the order-scoped authority.
	var releaseAmount uint64
	if order.IsBuy {
		releaseAmount, err = state.CheckedMul(order.LimitPrice, order.RemainingQuantity)
		if err != nil {
			return err
		}
	} else {
		releaseAmount = order.RemainingQuantity
	}
	orderAuth := token.Authority{Key: OrderAuthority(p.programID, order.OrderID), Signed: true}
	if err := env.Ledger.Transfer(orderAcc.Key, ownerToken.Key, orderAuth, releaseAmount); err != nil {
		return err
	}

	// Saturating decrement: a count already at zero stays at zero.
	if order.IsBuy {
		if market.NumBids > 0 {
			market.NumBids--
		}
	} else {
		if market.NumAsks > 0 {
			market.NumAsks--
		}
	}
	marketAcc.Data = market.Pack()

	// Retire the order: zeroed storage carries no custody obligation.
	for i := range orderAcc.Data {
		orderAcc.Data[i] = 0
	}

	p.log.Info("order cancelled",
		zap.Uint64("order_id", order.OrderID),
		zap.String("market", marketAcc.Key.Hex()),
		zap.String("owner", owner.Key.Hex()),
		zap.Uint64("released", releaseAmount))
	return nil
}

func (p *Processor) settleFunds(env Env, accounts []*Account, ix instruction.SettleFunds) error {
	if err := expectAccounts(accounts, 9); err != nil {
		return err
	}
	authority, marketAcc := accounts[0], accounts[1]
	takerBase, takerQuote := accounts[4], accounts[5]
	makerBase, makerQuote := accounts[6], accounts[7]
	feeRecipient := accounts[8]

	if !authority.IsSigner {
		return fmt.Errorf("settlement authority must sign: %w", dexerr.ErrAccountNotAuthorized)
	}

	market, err := state.UnpackMarket(marketAcc.Data)
	if err != nil {
		return err
	}
	if !market.IsInitialized {
		return fmt.Errorf("market not initialized: %w", dexerr.ErrInvalidAccountData)
	}
	if market.Authority != authority.Key {
		return fmt.Errorf("signer %s is not the market authority: %w",
			authority.Key, dexerr.ErrAccountNotAuthorized)
	}

	fee, err := market.CalculateFee(ix.QuoteAmount)
	if err != nil {
		return err
	}
	quoteAfterFee, err := state.CheckedSub(ix.QuoteAmount, fee)
	if err != nil {
		return err
	}

	// Three custody actions under the market-scoped authority: base to the
	// taker, quote minus fee to the maker, fee to the recipient.
	marketAuth := token.Authority{Key: MarketAuthority(p.programID, market.Authority), Signed: true}
	if err := env.Ledger.Transfer(makerBase.Key, takerBase.Key, marketAuth, ix.BaseAmount); err != nil {
		return err
	}
	if err := env.Ledger.Transfer(takerQuote.Key, makerQuote.Key, marketAuth, quoteAfterFee); err != nil {
		return err
	}
	if fee > 0 {
		if err := env.Ledger.Transfer(takerQuote.Key, feeRecipient.Key, marketAuth, fee); err != nil {
			return err
		}
	}

	// Settlement does not touch Market or Order records here: closing out
	// filled orders is a separate step outside this transition.
	p.log.Info("funds settled",
		zap.String("market", marketAcc.Key.Hex()),
		zap.Uint64("base_amount", ix.BaseAmount),
		zap.Uint64("quote_amount", ix.QuoteAmount),
		zap.Uint64("fee", fee))
	return nil
}
