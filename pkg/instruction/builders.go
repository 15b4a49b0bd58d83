package instruction

import "github.com/uhyunpark/spotdex/pkg/state"

// Builders assemble the full message for each operation with its documented
// account order. Clients (CLI, tests) use these instead of hand-rolling metas.

// NewInitializeMarket builds an InitializeMarket message.
//
// Accounts:
//  0. [signer, writable] market authority (pays the allocation)
//  1. [writable] market account, may be unallocated
//  2. [] base token mint
//  3. [] quote token mint
func NewInitializeMarket(authority, market, baseMint, quoteMint state.Pubkey, minBaseOrderSize, tickSize uint64, feeRateBps uint16) Message {
	return Message{
		Data: Encode(InitializeMarket{
			MinBaseOrderSize: minBaseOrderSize,
			TickSize:         tickSize,
			FeeRateBps:       feeRateBps,
		}),
		Accounts: []AccountMeta{
			{Pubkey: authority, IsSigner: true, IsWritable: true},
			{Pubkey: market, IsWritable: true},
			{Pubkey: baseMint},
			{Pubkey: quoteMint},
		},
	}
}

// NewPlaceLimitOrder builds a PlaceLimitOrder message.
//
// Accounts:
//  0. [signer, writable] order owner (pays the allocation)
//  1. [writable] market account
//  2. [writable] order account, may be unallocated; its key also addresses
//     the order's custody token balance
//  3. [writable] owner token account to debit
func NewPlaceLimitOrder(owner, market, order, ownerToken state.Pubkey, isBuy bool, limitPrice, quantity uint64, stb SelfTradeBehavior) Message {
	return Message{
		Data: Encode(PlaceLimitOrder{
			IsBuy:             isBuy,
			LimitPrice:        limitPrice,
			Quantity:          quantity,
			SelfTradeBehavior: stb,
		}),
		Accounts: []AccountMeta{
			{Pubkey: owner, IsSigner: true, IsWritable: true},
			{Pubkey: market, IsWritable: true},
			{Pubkey: order, IsWritable: true},
			{Pubkey: ownerToken, IsWritable: true},
		},
	}
}

// NewCancelOrder builds a CancelOrder message.
//
// Accounts:
//  0. [signer] order owner
//  1. [writable] market account
//  2. [writable] order account
//  3. [writable] owner token account to credit
func NewCancelOrder(owner, market, order, ownerToken state.Pubkey) Message {
	return Message{
		Data: Encode(CancelOrder{}),
		Accounts: []AccountMeta{
			{Pubkey: owner, IsSigner: true},
			{Pubkey: market, IsWritable: true},
			{Pubkey: order, IsWritable: true},
			{Pubkey: ownerToken, IsWritable: true},
		},
	}
}

// NewSettleFunds builds a SettleFunds message.
//
// Accounts:
//  0. [signer] market authority
//  1. [writable] market account
//  2. [] taker identity
//  3. [] maker identity
//  4. [writable] taker base token account
//  5. [writable] taker quote token account
//  6. [writable] maker base token account
//  7. [writable] maker quote token account
//  8. [writable] fee recipient token account
func NewSettleFunds(authority, market, taker, maker, takerBase, takerQuote, makerBase, makerQuote, feeRecipient state.Pubkey, baseAmount, quoteAmount uint64) Message {
	return Message{
		Data: Encode(SettleFunds{BaseAmount: baseAmount, QuoteAmount: quoteAmount}),
		Accounts: []AccountMeta{
			{Pubkey: authority, IsSigner: true},
			{Pubkey: market, IsWritable: true},
			{Pubkey: taker},
			{Pubkey: maker},
			{Pubkey: takerBase, IsWritable: true},
			{Pubkey: takerQuote, IsWritable: true},
			{Pubkey: makerBase, IsWritable: true},
			{Pubkey: makerQuote, IsWritable: true},
			{Pubkey: feeRecipient, IsWritable: true},
		},
	}
}
