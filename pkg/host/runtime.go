// Package host is the execution environment around the transition engine:
// it binds referenced accounts positionally, marks verified signers, runs
// the processor on local buffers, and commits every touched record in one
// batch. Instructions touching the ledger are serialized; a transition
// either fully applies or leaves no trace.
package host

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/instruction"
	"github.com/uhyunpark/spotdex/pkg/program"
	"github.com/uhyunpark/spotdex/pkg/state"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"github.com/uhyunpark/spotdex/pkg/token"
	"github.com/uhyunpark/spotdex/pkg/util"
)

// Transaction is one request: the message plus the identities whose
// signatures the outer layer verified. Signer verification itself is the
// outer layer's contract; the runtime only intersects the attested set with
// the message's signer metas.
type Transaction struct {
	Message instruction.Message `json:"message"`
	Signers []state.Pubkey      `json:"signers"`
}

// Runtime executes transactions against the durable account store.
type Runtime struct {
	programID state.Pubkey
	store     *storage.AccountStore
	tokens    *token.Ledger
	proc      *program.Processor
	clock     util.Clock
	log       *zap.Logger

	mu   sync.Mutex // account-lock discipline: one transition at a time
	sink func(Event)
}

// New creates a runtime for one program id.
func New(programID state.Pubkey, store *storage.AccountStore, tokens *token.Ledger, clock util.Clock, log *zap.Logger) *Runtime {
	return &Runtime{
		programID: programID,
		store:     store,
		tokens:    tokens,
		proc:      program.NewProcessor(programID, clock, log),
		clock:     clock,
		log:       log,
	}
}

// ProgramID returns the program identity this runtime executes.
func (r *Runtime) ProgramID() state.Pubkey { return r.programID }

// Tokens exposes the custody ledger for setup and queries.
func (r *Runtime) Tokens() *token.Ledger { return r.tokens }

// SetEventSink registers the callback invoked after each committed
// transition.
func (r *Runtime) SetEventSink(sink func(Event)) { r.sink = sink }

// Execute runs one transaction to completion. On error nothing is
// persisted and no custody transfer survives.
func (r *Runtime) Execute(tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	signers := make(map[state.Pubkey]bool, len(tx.Signers))
	for _, s := range tx.Signers {
		signers[s] = true
	}

	// Bind accounts positionally; duplicate references alias one buffer.
	seen := make(map[state.Pubkey]*program.Account)
	accounts := make([]*program.Account, 0, len(tx.Message.Accounts))
	for _, meta := range tx.Message.Accounts {
		if acc, ok := seen[meta.Pubkey]; ok {
			accounts = append(accounts, acc)
			continue
		}
		rec, err := r.store.Load(meta.Pubkey)
		if err != nil {
			return err
		}
		acc := &program.Account{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner && signers[meta.Pubkey],
			IsWritable: meta.IsWritable,
		}
		if rec != nil {
			acc.Owner = rec.Owner
			acc.Lamports = rec.Lamports
			acc.Data = append([]byte(nil), rec.Data...)
		}
		seen[meta.Pubkey] = acc
		accounts = append(accounts, acc)
	}

	session := r.tokens.Session()
	env := program.Env{Ledger: session, Alloc: allocator{}}

	if err := r.proc.Process(env, accounts, tx.Message.Data); err != nil {
		code, _ := dexerr.CodeOf(err)
		r.log.Warn("transition aborted", zap.Error(err), zap.Uint32("code", uint32(code)))
		return err
	}

	batch := r.store.NewBatch()
	defer batch.Close()
	for key, acc := range seen {
		rec := &storage.Record{Owner: acc.Owner, Lamports: acc.Lamports, Data: acc.Data}
		if err := batch.StoreAccount(key, rec); err != nil {
			return fmt.Errorf("stage account %s: %w", key, err)
		}
	}
	if err := session.Stage(batch); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	session.Apply()

	r.emit(tx, accounts)
	return nil
}

// emit rebuilds the applied operation from committed state and notifies the
// event sink. Decode cannot fail here: Process already accepted the bytes.
func (r *Runtime) emit(tx Transaction, accounts []*program.Account) {
	if r.sink == nil {
		return
	}
	ix, err := instruction.Decode(tx.Message.Data)
	if err != nil {
		return
	}
	switch ix := ix.(type) {
	case instruction.InitializeMarket:
		r.sink(MarketInitialized{Market: accounts[1].Key, Authority: accounts[0].Key})
	case instruction.PlaceLimitOrder:
		order, err := state.UnpackOrder(accounts[2].Data)
		if err != nil {
			return
		}
		r.sink(OrderPlaced{
			Market:     accounts[1].Key,
			Order:      accounts[2].Key,
			Owner:      accounts[0].Key,
			OrderID:    order.OrderID,
			IsBuy:      order.IsBuy,
			LimitPrice: order.LimitPrice,
			Quantity:   order.OriginalQuantity,
		})
	case instruction.CancelOrder:
		r.sink(OrderCancelled{Market: accounts[1].Key, Order: accounts[2].Key, Owner: accounts[0].Key})
	case instruction.SettleFunds:
		market, err := state.UnpackMarket(accounts[1].Data)
		if err != nil {
			return
		}
		fee, err := market.CalculateFee(ix.QuoteAmount)
		if err != nil {
			return
		}
		r.sink(FundsSettled{
			Market: accounts[1].Key,
			Trade: state.Trade{
				Taker:       accounts[2].Key,
				Maker:       accounts[3].Key,
				BaseAmount:  ix.BaseAmount,
				QuoteAmount: ix.QuoteAmount,
				Fee:         fee,
				Timestamp:   uint64(r.clock.Now().Unix()),
			},
		})
	}
}

// Fund credits lamports to a wallet slot. Dev faucet: allocation payers
// need a balance before they can create records.
func (r *Runtime) Fund(key state.Pubkey, lamports uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Load(key)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &storage.Record{}
	}
	rec.Lamports += lamports
	return r.store.Store(key, rec)
}

// LoadMarket reads and parses a market record.
func (r *Runtime) LoadMarket(key state.Pubkey) (*state.Market, error) {
	rec, err := r.store.Load(key)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Owner != r.programID {
		return nil, fmt.Errorf("no market at %s: %w", key, dexerr.ErrInvalidAccountData)
	}
	return state.UnpackMarket(rec.Data)
}

// LoadOrder reads and parses an order record. Cancelled (zeroed) and
// missing orders both surface ErrOrderNotFound.
func (r *Runtime) LoadOrder(key state.Pubkey) (*state.Order, error) {
	rec, err := r.store.Load(key)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Owner != r.programID {
		return nil, fmt.Errorf("no order at %s: %w", key, dexerr.ErrOrderNotFound)
	}
	order, err := state.UnpackOrder(rec.Data)
	if err != nil {
		return nil, err
	}
	if !order.IsInitialized {
		return nil, fmt.Errorf("order at %s is retired: %w", key, dexerr.ErrOrderNotFound)
	}
	return order, nil
}
