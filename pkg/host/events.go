package host

import "github.com/uhyunpark/spotdex/pkg/state"

// Events describe applied transitions for the websocket feed. They are
// derived from committed state, never from a transition that failed.

type Event interface {
	Channel() string
}

type MarketInitialized struct {
	Market    state.Pubkey `json:"market"`
	Authority state.Pubkey `json:"authority"`
}

func (MarketInitialized) Channel() string { return "market_initialized" }

type OrderPlaced struct {
	Market     state.Pubkey `json:"market"`
	Order      state.Pubkey `json:"order"`
	Owner      state.Pubkey `json:"owner"`
	OrderID    uint64       `json:"order_id"`
	IsBuy      bool         `json:"is_buy"`
	LimitPrice uint64       `json:"limit_price"`
	Quantity   uint64       `json:"quantity"`
}

func (OrderPlaced) Channel() string { return "order_placed" }

type OrderCancelled struct {
	Market state.Pubkey `json:"market"`
	Order  state.Pubkey `json:"order"`
	Owner  state.Pubkey `json:"owner"`
}

func (OrderCancelled) Channel() string { return "order_cancelled" }

type FundsSettled struct {
	Market state.Pubkey `json:"market"`
	Trade  state.Trade  `json:"trade"`
}

func (FundsSettled) Channel() string { return "funds_settled" }
