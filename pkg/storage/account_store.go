// Package storage is the durable account store: every ledger record (market,
// order, token account) lives under one pubkey-addressed slot in Pebble.
// Writes for a whole transition are committed in a single batch so a failed
// transition leaves no partial state.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/spotdex/pkg/state"
)

// Record is one raw account slot. Owner is the program that controls the
// slot's data; unallocated slots have a zero owner and nil data.
type Record struct {
	Owner    state.Pubkey `json:"owner"`
	Lamports uint64       `json:"lamports"`
	Data     []byte       `json:"data"`
}

// Key prefixes. Account records and token balances share the database but
// live in separate keyspaces.
const (
	prefixAccount = "acc:"
	prefixToken   = "tok:"
)

func accountKey(pk state.Pubkey) []byte {
	return []byte(prefixAccount + pk.Hex())
}

// TokenKey returns the storage key for a token balance record. Exposed for
// the token ledger, which shares this store.
func TokenKey(pk state.Pubkey) []byte {
	return []byte(prefixToken + pk.Hex())
}

// AccountStore persists account records in Pebble.
type AccountStore struct {
	db *pebble.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*AccountStore, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &AccountStore{db: db}, nil
}

func (s *AccountStore) Close() error { return s.db.Close() }

// Load reads an account record. Returns (nil, nil) for slots that were never
// written; callers treat those as unallocated.
func (s *AccountStore) Load(pk state.Pubkey) (*Record, error) {
	val, closer, err := s.db.Get(accountKey(pk))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", pk, err)
	}
	defer closer.Close()

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal account %s: %w", pk, err)
	}
	return &rec, nil
}

// Store writes a single account record synchronously. The host uses batches
// for transitions; this is for setup paths (funding, genesis).
func (s *AccountStore) Store(pk state.Pubkey, rec *Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal account %s: %w", pk, err)
	}
	if err := s.db.Set(accountKey(pk), val, pebble.Sync); err != nil {
		return fmt.Errorf("set account %s: %w", pk, err)
	}
	return nil
}

// Batch groups writes from one transition into a single atomic commit.
type Batch struct {
	b *pebble.Batch
}

// NewBatch starts an empty batch.
func (s *AccountStore) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

// StoreAccount stages an account record write.
func (b *Batch) StoreAccount(pk state.Pubkey, rec *Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal account %s: %w", pk, err)
	}
	return b.b.Set(accountKey(pk), val, nil)
}

// SetRaw stages a write under an arbitrary key. Used by the token ledger.
func (b *Batch) SetRaw(key, val []byte) error {
	return b.b.Set(key, val, nil)
}

// Commit applies every staged write atomically.
func (b *Batch) Commit() error {
	return b.b.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.b.Close()
}

// GetRaw reads a value under an arbitrary key, returning (nil, nil) when the
// key is absent. Used by the token ledger.
func (s *AccountStore) GetRaw(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// SetRaw writes a value under an arbitrary key synchronously.
func (s *AccountStore) SetRaw(key, val []byte) error {
	return s.db.Set(key, val, pebble.Sync)
}
