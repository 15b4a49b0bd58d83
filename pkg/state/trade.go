package state

// Trade describes one settled exchange of base against quote. Trades are not
// stored in a fixed-layout account; they are emitted on the event feed and
// JSON-encoded, so no Pack/Unpack pair exists for them.
type Trade struct {
	Maker       Pubkey `json:"maker"`
	Taker       Pubkey `json:"taker"`
	BaseAmount  uint64 `json:"base_amount"`
	QuoteAmount uint64 `json:"quote_amount"`
	Fee         uint64 `json:"fee"`
	Timestamp   uint64 `json:"timestamp"`
}
