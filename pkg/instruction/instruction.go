// Package instruction defines the program's wire format: a one-byte tag
// selecting the operation followed by its fixed-width little-endian payload.
// The layout is byte-exact across clients and the transition engine.
package instruction

import (
	"encoding/binary"
	"fmt"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/state"
)

// Operation tags.
const (
	TagInitializeMarket byte = iota
	TagPlaceLimitOrder
	TagCancelOrder
	TagSettleFunds
)

// SelfTradeBehavior is the caller's preference for resolving a hypothetical
// match against their own resting order. It is recorded with the placement
// request; no transition acts on it.
type SelfTradeBehavior uint8

const (
	DecrementTake SelfTradeBehavior = iota
	CancelProvide
	AbortTransaction
)

func (b SelfTradeBehavior) String() string {
	switch b {
	case DecrementTake:
		return "decrement-take"
	case CancelProvide:
		return "cancel-provide"
	case AbortTransaction:
		return "abort-transaction"
	default:
		return "unknown"
	}
}

// ParseSelfTradeBehavior maps the CLI spelling to the enum value.
func ParseSelfTradeBehavior(s string) (SelfTradeBehavior, error) {
	switch s {
	case "decrement-take":
		return DecrementTake, nil
	case "cancel-provide":
		return CancelProvide, nil
	case "abort-transaction":
		return AbortTransaction, nil
	}
	return 0, fmt.Errorf("unknown self-trade behavior %q", s)
}

// InitializeMarket creates a market account for a trading pair.
type InitializeMarket struct {
	MinBaseOrderSize uint64
	TickSize         uint64
	FeeRateBps       uint16
}

// PlaceLimitOrder places a resting order and locks its collateral.
type PlaceLimitOrder struct {
	IsBuy             bool
	LimitPrice        uint64
	Quantity          uint64
	SelfTradeBehavior SelfTradeBehavior
}

// CancelOrder retires an order and releases its remaining collateral.
type CancelOrder struct{}

// SettleFunds exchanges base against quote between maker and taker, routing
// the fee to the fee recipient.
type SettleFunds struct {
	BaseAmount  uint64
	QuoteAmount uint64
}

// Instruction is one of the four typed operations.
type Instruction interface {
	Tag() byte
	payloadLen() int
	encodePayload(dst []byte)
}

func (InitializeMarket) Tag() byte { return TagInitializeMarket }
func (PlaceLimitOrder) Tag() byte  { return TagPlaceLimitOrder }
func (CancelOrder) Tag() byte      { return TagCancelOrder }
func (SettleFunds) Tag() byte      { return TagSettleFunds }

func (InitializeMarket) payloadLen() int { return 8 + 8 + 2 }
func (PlaceLimitOrder) payloadLen() int  { return 1 + 8 + 8 + 1 }
func (CancelOrder) payloadLen() int      { return 0 }
func (SettleFunds) payloadLen() int      { return 8 + 8 }

func (ix InitializeMarket) encodePayload(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], ix.MinBaseOrderSize)
	binary.LittleEndian.PutUint64(dst[8:16], ix.TickSize)
	binary.LittleEndian.PutUint16(dst[16:18], ix.FeeRateBps)
}

func (ix PlaceLimitOrder) encodePayload(dst []byte) {
	if ix.IsBuy {
		dst[0] = 1
	}
	binary.LittleEndian.PutUint64(dst[1:9], ix.LimitPrice)
	binary.LittleEndian.PutUint64(dst[9:17], ix.Quantity)
	dst[17] = byte(ix.SelfTradeBehavior)
}

func (CancelOrder) encodePayload([]byte) {}

func (ix SettleFunds) encodePayload(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], ix.BaseAmount)
	binary.LittleEndian.PutUint64(dst[8:16], ix.QuoteAmount)
}

// Encode serializes an instruction to its wire bytes.
func Encode(ix Instruction) []byte {
	buf := make([]byte, 1+ix.payloadLen())
	buf[0] = ix.Tag()
	ix.encodePayload(buf[1:])
	return buf
}

// Decode parses wire bytes into exactly one typed operation. Decoding is
// pure: unknown tags, truncation, and trailing bytes all fail with
// ErrInvalidInstructionData.
func Decode(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty instruction: %w", dexerr.ErrInvalidInstructionData)
	}
	tag, payload := data[0], data[1:]
	switch tag {
	case TagInitializeMarket:
		if len(payload) != (InitializeMarket{}).payloadLen() {
			return nil, payloadErr(tag, len(payload))
		}
		return InitializeMarket{
			MinBaseOrderSize: binary.LittleEndian.Uint64(payload[0:8]),
			TickSize:         binary.LittleEndian.Uint64(payload[8:16]),
			FeeRateBps:       binary.LittleEndian.Uint16(payload[16:18]),
		}, nil
	case TagPlaceLimitOrder:
		if len(payload) != (PlaceLimitOrder{}).payloadLen() {
			return nil, payloadErr(tag, len(payload))
		}
		if payload[0] > 1 {
			return nil, fmt.Errorf("is_buy byte 0x%02x: %w", payload[0], dexerr.ErrInvalidInstructionData)
		}
		stb := SelfTradeBehavior(payload[17])
		if stb > AbortTransaction {
			return nil, fmt.Errorf("self-trade behavior %d: %w", stb, dexerr.ErrInvalidInstructionData)
		}
		return PlaceLimitOrder{
			IsBuy:             payload[0] == 1,
			LimitPrice:        binary.LittleEndian.Uint64(payload[1:9]),
			Quantity:          binary.LittleEndian.Uint64(payload[9:17]),
			SelfTradeBehavior: stb,
		}, nil
	case TagCancelOrder:
		if len(payload) != 0 {
			return nil, payloadErr(tag, len(payload))
		}
		return CancelOrder{}, nil
	case TagSettleFunds:
		if len(payload) != (SettleFunds{}).payloadLen() {
			return nil, payloadErr(tag, len(payload))
		}
		return SettleFunds{
			BaseAmount:  binary.LittleEndian.Uint64(payload[0:8]),
			QuoteAmount: binary.LittleEndian.Uint64(payload[8:16]),
		}, nil
	}
	return nil, fmt.Errorf("unknown instruction tag 0x%02x: %w", tag, dexerr.ErrInvalidInstructionData)
}

func payloadErr(tag byte, got int) error {
	return fmt.Errorf("instruction 0x%02x payload length %d: %w", tag, got, dexerr.ErrInvalidInstructionData)
}

// AccountMeta names one referenced account and the access the operation
// requires from it. The host binds metas positionally.
type AccountMeta struct {
	Pubkey     state.Pubkey `json:"pubkey"`
	IsSigner   bool         `json:"is_signer"`
	IsWritable bool         `json:"is_writable"`
}

// Message is a full request to the program: wire bytes plus the ordered
// account references they operate on.
type Message struct {
	Data     []byte        `json:"data"`
	Accounts []AccountMeta `json:"accounts"`
}
