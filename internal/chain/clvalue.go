package chain

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"LendingLedger/internal/address"
)

// CLType is the bytesrepr tag of a simple CLType.
type CLType byte

const (
	CLTypeBool   CLType = 0
	CLTypeU64    CLType = 5
	CLTypeU256   CLType = 7
	CLTypeU512   CLType = 8
	CLTypeString CLType = 10
	CLTypeKey    CLType = 11
)

func (t CLType) String() string {
	switch t {
	case CLTypeBool:
		return "Bool"
	case CLTypeU64:
		return "U64"
	case CLTypeU256:
		return "U256"
	case CLTypeU512:
		return "U512"
	case CLTypeString:
		return "String"
	case CLTypeKey:
		return "Key"
	default:
		return "Unknown"
	}
}

var (
	maxU256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxU512 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 512), big.NewInt(1))
)

// CLValue is a typed runtime argument: its serialized bytes plus the
// human-readable form the node echoes back in JSON.
type CLValue struct {
	Type   CLType
	Bytes  []byte
	Parsed any
}

// U256 encodes v. It fails for negative values or values wider than 256 bits.
func U256(v *big.Int) (CLValue, error) {
	if v.Sign() < 0 || v.Cmp(maxU256) > 0 {
		return CLValue{}, fmt.Errorf("u256 out of range: %s", v)
	}
	return CLValue{Type: CLTypeU256, Bytes: bigUintBytes(v), Parsed: v.String()}, nil
}

// U512 encodes v. It fails for negative values or values wider than 512 bits.
func U512(v *big.Int) (CLValue, error) {
	if v.Sign() < 0 || v.Cmp(maxU512) > 0 {
		return CLValue{}, fmt.Errorf("u512 out of range: %s", v)
	}
	return CLValue{Type: CLTypeU512, Bytes: bigUintBytes(v), Parsed: v.String()}, nil
}

func U64(v uint64) CLValue {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return CLValue{Type: CLTypeU64, Bytes: b, Parsed: v}
}

func Bool(v bool) CLValue {
	b := byte(0)
	if v {
		b = 1
	}
	return CLValue{Type: CLTypeBool, Bytes: []byte{b}, Parsed: v}
}

func String(s string) CLValue {
	return CLValue{Type: CLTypeString, Bytes: stringBytes(s), Parsed: s}
}

// Key encodes a tagged global-state key. Its bytes equal
// address.TaggedKey(tag, id).
func Key(tag address.Tag, id address.Identity) CLValue {
	var parsed map[string]string
	if tag == address.TagAccount {
		parsed = map[string]string{"Account": address.KeyString(tag, id)}
	} else {
		parsed = map[string]string{"Hash": address.KeyString(tag, id)}
	}
	return CLValue{Type: CLTypeKey, Bytes: address.TaggedKey(tag, id), Parsed: parsed}
}

// ToBytes serializes the value as a runtime argument: length-prefixed bytes
// followed by the type tag.
func (v CLValue) ToBytes() []byte {
	out := make([]byte, 0, 4+len(v.Bytes)+1)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(v.Bytes)))
	out = append(out, v.Bytes...)
	return append(out, byte(v.Type))
}

func (v CLValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CLType string `json:"cl_type"`
		Bytes  string `json:"bytes"`
		Parsed any    `json:"parsed"`
	}{
		CLType: v.Type.String(),
		Bytes:  hex.EncodeToString(v.Bytes),
		Parsed: v.Parsed,
	})
}

// NamedArg is one runtime argument.
type NamedArg struct {
	Name  string
	Value CLValue
}

// RuntimeArgs keeps argument order; the order is part of the deploy hash.
type RuntimeArgs []NamedArg

func (a RuntimeArgs) ToBytes() []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(a)))
	for _, arg := range a {
		out = append(out, stringBytes(arg.Name)...)
		out = append(out, arg.Value.ToBytes()...)
	}
	return out
}

// MarshalJSON renders the node's [[name, value], ...] form.
func (a RuntimeArgs) MarshalJSON() ([]byte, error) {
	pairs := make([][2]any, 0, len(a))
	for _, arg := range a {
		pairs = append(pairs, [2]any{arg.Name, arg.Value})
	}
	return json.Marshal(pairs)
}

// CLValueJSON is a CLValue as returned by the node.
type CLValueJSON struct {
	CLType json.RawMessage `json:"cl_type"`
	Bytes  string          `json:"bytes"`
	Parsed json.RawMessage `json:"parsed"`
}

// String renders the parsed value: strings unquoted, anything else as JSON.
func (c *CLValueJSON) String() string {
	if c == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.Parsed, &s); err == nil {
		return s
	}
	return string(c.Parsed)
}

// bigUintBytes is the bytesrepr form of U128/U256/U512: one length byte then
// the minimal little-endian magnitude. Zero is a single 0x00.
func bigUintBytes(v *big.Int) []byte {
	be := v.Bytes()
	out := make([]byte, 1+len(be))
	out[0] = byte(len(be))
	for i := range be {
		out[1+i] = be[len(be)-1-i]
	}
	return out
}

func stringBytes(s string) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(s)))
	return append(out, s...)
}
