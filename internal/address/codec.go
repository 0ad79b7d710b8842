// Package address canonicalizes Casper identities and derives the binary
// keys used for global-state addressing and dictionary storage slots.
package address

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// IdentityLen is the length of a canonical identity in hex characters.
const IdentityLen = 64

// Identity is a 32-byte account, contract or contract-package hash in
// canonical form: 64 lowercase hex characters, no prefix, no 0x.
type Identity string

func (id Identity) String() string {
	return string(id)
}

// Bytes returns the raw 32 bytes. The identity must come from
// NormalizeIdentity or IdentityFromPublicKey.
func (id Identity) Bytes() [32]byte {
	var out [32]byte
	hex.Decode(out[:], []byte(id))
	return out
}

// Tag discriminates a global-state key.
type Tag byte

const (
	TagAccount  Tag = 0x00
	TagContract Tag = 0x01
)

func (t Tag) String() string {
	switch t {
	case TagAccount:
		return "account"
	case TagContract:
		return "contract"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// Longest first so that "contract-package-wasm-" is not cut at "contract-".
var knownPrefixes = []string{
	"contract-package-wasm-",
	"contract-package-",
	"account-hash-",
	"contract-",
	"package-",
	"hash-",
}

// StripPrefixes lowercases raw and removes one recognised prefix and an
// optional 0x. It does not validate the result.
func StripPrefixes(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range knownPrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}
	return strings.TrimPrefix(s, "0x")
}

// NormalizeIdentity returns the canonical form of raw. Applying it to its own
// output returns the same value.
func NormalizeIdentity(raw string) (Identity, error) {
	s := StripPrefixes(raw)
	if len(s) != IdentityLen || !isHex(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	return Identity(s), nil
}

// IdentityFromPublicKey derives the account hash of a tagged public key:
// blake2b256(algorithm name || 0x00 || key bytes).
func IdentityFromPublicKey(pubkeyHex string) (Identity, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(pubkeyHex)), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPublicKey, pubkeyHex)
	}

	var alg string
	switch raw[0] {
	case 0x01:
		if len(raw) != 33 {
			return "", fmt.Errorf("%w: ed25519 key must be 32 bytes", ErrInvalidPublicKey)
		}
		alg = "ed25519"
	case 0x02:
		if len(raw) != 34 {
			return "", fmt.Errorf("%w: secp256k1 key must be 33 bytes", ErrInvalidPublicKey)
		}
		alg = "secp256k1"
	default:
		return "", fmt.Errorf("%w: unknown algorithm tag %#x", ErrInvalidPublicKey, raw[0])
	}

	preimage := make([]byte, 0, len(alg)+1+len(raw)-1)
	preimage = append(preimage, alg...)
	preimage = append(preimage, 0x00)
	preimage = append(preimage, raw[1:]...)
	sum := blake2b.Sum256(preimage)
	return Identity(hex.EncodeToString(sum[:])), nil
}

// NormalizeAccount accepts either an account hash (any known prefix) or a
// tagged public key and returns the account hash.
func NormalizeAccount(raw string) (Identity, error) {
	if id, err := NormalizeIdentity(raw); err == nil {
		return id, nil
	}
	id, err := IdentityFromPublicKey(StripPrefixes(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q is neither an account hash nor a public key", ErrInvalidIdentity, raw)
	}
	return id, nil
}

// TaggedKey returns tag || 32 identity bytes.
func TaggedKey(tag Tag, id Identity) []byte {
	b := id.Bytes()
	out := make([]byte, 0, 33)
	out = append(out, byte(tag))
	return append(out, b[:]...)
}

// KeyString renders the chain's formatted key for tag and id.
func KeyString(tag Tag, id Identity) string {
	if tag == TagAccount {
		return "account-hash-" + string(id)
	}
	return "hash-" + string(id)
}

// ParseKey reads a formatted key ("account-hash-…", "hash-…", "contract-…")
// or a bare hash, which takes defaultTag. A contract package is not a Key
// and is rejected.
func ParseKey(s string, defaultTag Tag) (Tag, Identity, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	tag := defaultTag
	switch {
	case strings.HasPrefix(lower, "contract-package-"):
		return 0, "", fmt.Errorf("%w: %q is a contract package, not a key", ErrInvalidIdentity, s)
	case strings.HasPrefix(lower, "account-hash-"):
		tag = TagAccount
	case strings.HasPrefix(lower, "hash-"), strings.HasPrefix(lower, "contract-"):
		tag = TagContract
	}
	id, err := NormalizeIdentity(lower)
	if err != nil {
		return 0, "", err
	}
	return tag, id, nil
}

// BalanceDictionaryKey is the item key of owner's slot in a CEP-18
// "balances" dictionary.
func BalanceDictionaryKey(owner Identity) string {
	return base64.StdEncoding.EncodeToString(TaggedKey(TagAccount, owner))
}

// AllowanceDictionaryKey is the item key of the (owner, spender) slot in a
// CEP-18 "allowances" dictionary. Owner comes first; the order is significant.
func AllowanceDictionaryKey(owner, spenderContract Identity) string {
	buf := make([]byte, 0, 66)
	buf = append(buf, TaggedKey(TagAccount, owner)...)
	buf = append(buf, TaggedKey(TagContract, spenderContract)...)
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
