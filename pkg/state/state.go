// Package state defines the fixed-layout Market and Order records and their
// binary codec. External tooling reads these bytes directly, so the byte
// widths and field order are a wire contract: little-endian integers, bools
// as a single byte, identities as raw 32 bytes.
package state

import (
	"encoding/binary"
	"fmt"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
)

// Serialized record lengths. Callers allocate accounts at exactly these sizes.
const (
	MarketLen = 1 + 32 + 32 + 32 + 8 + 8 + 2 + 8 + 8 + 8 // 139
	OrderLen  = 1 + 8 + 32 + 32 + 1 + 8 + 8 + 8 + 8      // 106
)

// MaxFeeRateBps caps the fee rate at 100%.
const MaxFeeRateBps = 10000

// Market is the per-pair configuration and counters. Created once, mutated by
// every placement and cancellation on the pair, never deleted.
type Market struct {
	IsInitialized    bool
	Authority        Pubkey // only identity allowed to settle
	BaseMint         Pubkey
	QuoteMint        Pubkey
	MinBaseOrderSize uint64 // base units
	TickSize         uint64 // quote units, minimum price increment
	FeeRateBps       uint16
	NextOrderID      uint64 // starts at 1, strictly increasing
	NumBids          uint64
	NumAsks          uint64
}

// CalculateFee returns floor(tradeValue * feeRateBps / 10000) using checked
// 64-bit arithmetic.
func (m *Market) CalculateFee(tradeValue uint64) (uint64, error) {
	prod, err := CheckedMul(tradeValue, uint64(m.FeeRateBps))
	if err != nil {
		return 0, err
	}
	return prod / 10000, nil
}

// Pack serializes the market into its fixed 139-byte layout.
func (m *Market) Pack() []byte {
	buf := make([]byte, MarketLen)
	buf[0] = packBool(m.IsInitialized)
	copy(buf[1:33], m.Authority[:])
	copy(buf[33:65], m.BaseMint[:])
	copy(buf[65:97], m.QuoteMint[:])
	binary.LittleEndian.PutUint64(buf[97:105], m.MinBaseOrderSize)
	binary.LittleEndian.PutUint64(buf[105:113], m.TickSize)
	binary.LittleEndian.PutUint16(buf[113:115], m.FeeRateBps)
	binary.LittleEndian.PutUint64(buf[115:123], m.NextOrderID)
	binary.LittleEndian.PutUint64(buf[123:131], m.NumBids)
	binary.LittleEndian.PutUint64(buf[131:139], m.NumAsks)
	return buf
}

// UnpackMarket parses a market record. The buffer must be exactly MarketLen
// bytes with a valid bool byte, otherwise ErrInvalidAccountData.
func UnpackMarket(src []byte) (*Market, error) {
	if len(src) != MarketLen {
		return nil, fmt.Errorf("market record is %d bytes, want %d: %w",
			len(src), MarketLen, dexerr.ErrInvalidAccountData)
	}
	init, err := unpackBool(src[0])
	if err != nil {
		return nil, err
	}
	m := &Market{
		IsInitialized:    init,
		MinBaseOrderSize: binary.LittleEndian.Uint64(src[97:105]),
		TickSize:         binary.LittleEndian.Uint64(src[105:113]),
		FeeRateBps:       binary.LittleEndian.Uint16(src[113:115]),
		NextOrderID:      binary.LittleEndian.Uint64(src[115:123]),
		NumBids:          binary.LittleEndian.Uint64(src[123:131]),
		NumAsks:          binary.LittleEndian.Uint64(src[131:139]),
	}
	copy(m.Authority[:], src[1:33])
	copy(m.BaseMint[:], src[33:65])
	copy(m.QuoteMint[:], src[65:97])
	return m, nil
}

// Order is one resting order with its locked collateral. Created on
// placement; cancellation zeroes the record.
type Order struct {
	IsInitialized     bool
	OrderID           uint64 // assigned from the market counter, immutable
	Owner             Pubkey
	Market            Pubkey
	IsBuy             bool
	LimitPrice        uint64 // quote units
	OriginalQuantity  uint64 // base units
	RemainingQuantity uint64 // base units, == original at creation
	CreationTimestamp uint64 // seconds since epoch
}

// Pack serializes the order into its fixed 106-byte layout.
func (o *Order) Pack() []byte {
	buf := make([]byte, OrderLen)
	buf[0] = packBool(o.IsInitialized)
	binary.LittleEndian.PutUint64(buf[1:9], o.OrderID)
	copy(buf[9:41], o.Owner[:])
	copy(buf[41:73], o.Market[:])
	buf[73] = packBool(o.IsBuy)
	binary.LittleEndian.PutUint64(buf[74:82], o.LimitPrice)
	binary.LittleEndian.PutUint64(buf[82:90], o.OriginalQuantity)
	binary.LittleEndian.PutUint64(buf[90:98], o.RemainingQuantity)
	binary.LittleEndian.PutUint64(buf[98:106], o.CreationTimestamp)
	return buf
}

// UnpackOrder parses an order record, failing with ErrInvalidAccountData on
// any length or encoding mismatch.
func UnpackOrder(src []byte) (*Order, error) {
	if len(src) != OrderLen {
		return nil, fmt.Errorf("order record is %d bytes, want %d: %w",
			len(src), OrderLen, dexerr.ErrInvalidAccountData)
	}
	init, err := unpackBool(src[0])
	if err != nil {
		return nil, err
	}
	isBuy, err := unpackBool(src[73])
	if err != nil {
		return nil, err
	}
	o := &Order{
		IsInitialized:     init,
		OrderID:           binary.LittleEndian.Uint64(src[1:9]),
		IsBuy:             isBuy,
		LimitPrice:        binary.LittleEndian.Uint64(src[74:82]),
		OriginalQuantity:  binary.LittleEndian.Uint64(src[82:90]),
		RemainingQuantity: binary.LittleEndian.Uint64(src[90:98]),
		CreationTimestamp: binary.LittleEndian.Uint64(src[98:106]),
	}
	copy(o.Owner[:], src[9:41])
	copy(o.Market[:], src[41:73])
	return o, nil
}

// CheckedMul multiplies two uint64s, failing with ErrArithmeticOverflow
// instead of wrapping.
func CheckedMul(a, b uint64) (uint64, error) {
	if a != 0 && b > ^uint64(0)/a {
		return 0, fmt.Errorf("%d * %d: %w", a, b, dexerr.ErrArithmeticOverflow)
	}
	return a * b, nil
}

// CheckedSub subtracts b from a, failing with ErrArithmeticOverflow on
// underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%d - %d: %w", a, b, dexerr.ErrArithmeticOverflow)
	}
	return a - b, nil
}

func packBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func unpackBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("bool byte 0x%02x: %w", b, dexerr.ErrInvalidAccountData)
	}
}
