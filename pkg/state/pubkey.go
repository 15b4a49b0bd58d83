package state

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PubkeyLen is the byte width of every on-ledger identity.
const PubkeyLen = 32

// Pubkey is a 32-byte account identity. Markets, orders, token accounts and
// wallets all live in the same identity space.
type Pubkey [PubkeyLen]byte

// ZeroPubkey is the all-zero identity, used as the "unowned" account owner.
var ZeroPubkey Pubkey

// NewPubkey generates a random identity. Used by the CLI and tests when a
// fresh storage slot is needed.
func NewPubkey() Pubkey {
	var pk Pubkey
	if _, err := rand.Read(pk[:]); err != nil {
		panic(fmt.Errorf("read random pubkey: %w", err))
	}
	return pk
}

// PubkeyFromBytes copies b into a Pubkey. Errors unless b is exactly 32 bytes.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLen {
		return pk, fmt.Errorf("pubkey must be %d bytes, got %d", PubkeyLen, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePubkey decodes a 0x-prefixed hex identity.
func ParsePubkey(s string) (Pubkey, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	return PubkeyFromBytes(b)
}

// Hex returns the 0x-prefixed hex form.
func (pk Pubkey) Hex() string { return hexutil.Encode(pk[:]) }

func (pk Pubkey) String() string { return pk.Hex() }

// IsZero reports whether pk is the all-zero identity.
func (pk Pubkey) IsZero() bool { return pk == ZeroPubkey }

// Bytes returns a copy of the raw 32 bytes.
func (pk Pubkey) Bytes() []byte {
	out := make([]byte, PubkeyLen)
	copy(out, pk[:])
	return out
}

// MarshalText implements encoding.TextMarshaler (hex in JSON).
func (pk Pubkey) MarshalText() ([]byte, error) {
	return []byte(pk.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
