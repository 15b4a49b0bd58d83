package api

import (
	"encoding/json"
	"net/http"
)

// SubmitTxRequest carries one encoded transaction: hex instruction bytes,
// positional account metas, and the attested signer set.
type SubmitTxRequest struct {
	Data     string        `json:"data"` // 0x-hex instruction bytes
	Accounts []AccountMeta `json:"accounts"`
	Signers  []string      `json:"signers"` // 0x-hex pubkeys
}

type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type SubmitTxResponse struct {
	Applied bool `json:"applied"`
}

// MarketInfo is the JSON view of a market record.
type MarketInfo struct {
	Pubkey           string `json:"pubkey"`
	Authority        string `json:"authority"`
	BaseMint         string `json:"base_mint"`
	QuoteMint        string `json:"quote_mint"`
	MinBaseOrderSize uint64 `json:"min_base_order_size"`
	TickSize         uint64 `json:"tick_size"`
	FeeRateBps       uint16 `json:"fee_rate_bps"`
	NextOrderID      uint64 `json:"next_order_id"`
	NumBids          uint64 `json:"num_bids"`
	NumAsks          uint64 `json:"num_asks"`
}

// OrderInfo is the JSON view of an order record.
type OrderInfo struct {
	Pubkey            string `json:"pubkey"`
	OrderID           uint64 `json:"order_id"`
	Owner             string `json:"owner"`
	Market            string `json:"market"`
	IsBuy             bool   `json:"is_buy"`
	LimitPrice        uint64 `json:"limit_price"`
	OriginalQuantity  uint64 `json:"original_quantity"`
	RemainingQuantity uint64 `json:"remaining_quantity"`
	CreationTimestamp uint64 `json:"creation_timestamp"`
}

// TokenInfo is the JSON view of a token balance slot.
type TokenInfo struct {
	Pubkey  string `json:"pubkey"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

// CreateTokenRequest registers a token account (dev/setup surface).
type CreateTokenRequest struct {
	Pubkey string `json:"pubkey"`
	Mint   string `json:"mint"`
	Owner  string `json:"owner"`
}

// MintRequest credits tokens to an account (dev faucet).
type MintRequest struct {
	Amount uint64 `json:"amount"`
}

// FundRequest credits lamports to a wallet (dev faucet).
type FundRequest struct {
	Pubkey   string `json:"pubkey"`
	Lamports uint64 `json:"lamports"`
}

// ErrorResponse reports a failed request. Code carries the stable program
// error code when the failure came from a transition.
type ErrorResponse struct {
	Error string  `json:"error"`
	Code  *uint32 `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string, code *uint32) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: code})
}
