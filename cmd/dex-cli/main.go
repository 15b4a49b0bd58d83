// dex-cli translates command flags into the program's wire format and
// submits them to a running dexd. It does no key management: the signer set
// it attests is the dev-mode trust model, matching the node's faucet
// endpoints.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	flag "github.com/spf13/pflag"

	"github.com/uhyunpark/spotdex/pkg/api"
	"github.com/uhyunpark/spotdex/pkg/instruction"
	"github.com/uhyunpark/spotdex/pkg/state"
)

const usage = `dex-cli - spotdex command line client

Commands:
  new-key       generate a fresh account identity
  init-market   initialize a market for a trading pair
  place-order   place a limit order (locks collateral)
  cancel-order  cancel an order (releases collateral)
  settle-funds  settle a matched trade (market authority only)
  get-market    fetch and print a market record
  get-order     fetch and print an order record

Run "dex-cli <command> --help" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "new-key":
		fmt.Println(state.NewPubkey().Hex())
	case "init-market":
		err = cmdInitMarket(os.Args[2:])
	case "place-order":
		err = cmdPlaceOrder(os.Args[2:])
	case "cancel-order":
		err = cmdCancelOrder(os.Args[2:])
	case "settle-funds":
		err = cmdSettleFunds(os.Args[2:])
	case "get-market":
		err = cmdGet(os.Args[2:], "markets")
	case "get-order":
		err = cmdGet(os.Args[2:], "orders")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	url := fs.StringP("url", "u", "http://localhost:8080", "dexd base URL")
	return fs, url
}

func parseKey(fs *flag.FlagSet, name string) (state.Pubkey, error) {
	v, _ := fs.GetString(name)
	if v == "" {
		return state.Pubkey{}, fmt.Errorf("--%s is required", name)
	}
	return state.ParsePubkey(v)
}

func cmdInitMarket(args []string) error {
	fs, url := newFlagSet("init-market")
	fs.String("authority", "", "market authority pubkey (signs)")
	fs.String("market", "", "market account pubkey")
	fs.String("base-mint", "", "base token mint")
	fs.String("quote-mint", "", "quote token mint")
	minSize := fs.Uint64("min-order-size", 1, "minimum order size, base units")
	tick := fs.Uint64("tick-size", 1, "tick size, quote units")
	feeBps := fs.Uint16("fee-rate-bps", 0, "fee rate in basis points")
	if err := fs.Parse(args); err != nil {
		return err
	}

	authority, err := parseKey(fs, "authority")
	if err != nil {
		return err
	}
	market, err := parseKey(fs, "market")
	if err != nil {
		return err
	}
	baseMint, err := parseKey(fs, "base-mint")
	if err != nil {
		return err
	}
	quoteMint, err := parseKey(fs, "quote-mint")
	if err != nil {
		return err
	}

	msg := instruction.NewInitializeMarket(authority, market, baseMint, quoteMint, *minSize, *tick, *feeBps)
	return submit(*url, msg, []state.Pubkey{authority})
}

func cmdPlaceOrder(args []string) error {
	fs, url := newFlagSet("place-order")
	fs.String("owner", "", "order owner pubkey (signs)")
	fs.String("market", "", "market account pubkey")
	fs.String("order", "", "order account pubkey (fresh slot)")
	fs.String("owner-token", "", "owner token account to debit")
	side := fs.String("side", "buy", "buy or sell")
	price := fs.Uint64("price", 0, "limit price, quote units")
	qty := fs.Uint64("quantity", 0, "quantity, base units")
	stbStr := fs.String("self-trade-behavior", "decrement-take",
		"decrement-take, cancel-provide, or abort-transaction")
	if err := fs.Parse(args); err != nil {
		return err
	}

	owner, err := parseKey(fs, "owner")
	if err != nil {
		return err
	}
	market, err := parseKey(fs, "market")
	if err != nil {
		return err
	}
	order, err := parseKey(fs, "order")
	if err != nil {
		return err
	}
	ownerToken, err := parseKey(fs, "owner-token")
	if err != nil {
		return err
	}
	if *side != "buy" && *side != "sell" {
		return fmt.Errorf("--side must be buy or sell, got %q", *side)
	}
	stb, err := instruction.ParseSelfTradeBehavior(*stbStr)
	if err != nil {
		return err
	}

	msg := instruction.NewPlaceLimitOrder(owner, market, order, ownerToken, *side == "buy", *price, *qty, stb)
	return submit(*url, msg, []state.Pubkey{owner})
}

func cmdCancelOrder(args []string) error {
	fs, url := newFlagSet("cancel-order")
	fs.String("owner", "", "order owner pubkey (signs)")
	fs.String("market", "", "market account pubkey")
	fs.String("order", "", "order account pubkey")
	fs.String("owner-token", "", "owner token account to credit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	owner, err := parseKey(fs, "owner")
	if err != nil {
		return err
	}
	market, err := parseKey(fs, "market")
	if err != nil {
		return err
	}
	order, err := parseKey(fs, "order")
	if err != nil {
		return err
	}
	ownerToken, err := parseKey(fs, "owner-token")
	if err != nil {
		return err
	}

	msg := instruction.NewCancelOrder(owner, market, order, ownerToken)
	return submit(*url, msg, []state.Pubkey{owner})
}

func cmdSettleFunds(args []string) error {
	fs, url := newFlagSet("settle-funds")
	fs.String("authority", "", "market authority pubkey (signs)")
	fs.String("market", "", "market account pubkey")
	fs.String("taker", "", "taker identity")
	fs.String("maker", "", "maker identity")
	fs.String("taker-base", "", "taker base token account")
	fs.String("taker-quote", "", "taker quote token account")
	fs.String("maker-base", "", "maker base token account")
	fs.String("maker-quote", "", "maker quote token account")
	fs.String("fee-recipient", "", "fee recipient token account")
	baseAmt := fs.Uint64("base-amount", 0, "base units to settle")
	quoteAmt := fs.Uint64("quote-amount", 0, "quote units to settle")
	if err := fs.Parse(args); err != nil {
		return err
	}

	keys := make(map[string]state.Pubkey, 9)
	for _, name := range []string{
		"authority", "market", "taker", "maker",
		"taker-base", "taker-quote", "maker-base", "maker-quote", "fee-recipient",
	} {
		pk, err := parseKey(fs, name)
		if err != nil {
			return err
		}
		keys[name] = pk
	}

	msg := instruction.NewSettleFunds(
		keys["authority"], keys["market"], keys["taker"], keys["maker"],
		keys["taker-base"], keys["taker-quote"], keys["maker-base"], keys["maker-quote"],
		keys["fee-recipient"], *baseAmt, *quoteAmt)
	return submit(*url, msg, []state.Pubkey{keys["authority"]})
}

func cmdGet(args []string, kind string) error {
	fs, url := newFlagSet("get-"+kind)
	fs.String("pubkey", "", "record pubkey")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pk, err := parseKey(fs, "pubkey")
	if err != nil {
		return err
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/%s/%s", *url, kind, pk.Hex()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, body)
	}
	fmt.Println(string(bytes.TrimSpace(body)))
	return nil
}

// submit posts the message to dexd's transaction endpoint.
func submit(baseURL string, msg instruction.Message, signers []state.Pubkey) error {
	req := api.SubmitTxRequest{Data: hexutil.Encode(msg.Data)}
	for _, m := range msg.Accounts {
		req.Accounts = append(req.Accounts, api.AccountMeta{
			Pubkey:     m.Pubkey.Hex(),
			IsSigner:   m.IsSigner,
			IsWritable: m.IsWritable,
		})
	}
	for _, s := range signers {
		req.Signers = append(req.Signers, s.Hex())
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := http.Post(baseURL+"/api/v1/tx", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	fmt.Println(string(bytes.TrimSpace(body)))
	return nil
}
