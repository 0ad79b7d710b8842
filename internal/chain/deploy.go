package chain

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"LendingLedger/internal/address"

	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultTTL is the deploy time-to-live.
	DefaultTTL = 30 * time.Minute
	// DefaultGasPrice is the deploy gas price multiplier.
	DefaultGasPrice = 1
)

var (
	// DefaultSpeculativePayment covers read-only getter calls.
	DefaultSpeculativePayment = big.NewInt(100_000_000)
	// DefaultSetPricePayment covers an oracle set_price call.
	DefaultSetPricePayment = big.NewInt(5_000_000_000)
)

// Header is the signed part of a deploy.
type Header struct {
	Account      []byte
	Timestamp    time.Time
	TTL          time.Duration
	GasPrice     uint64
	BodyHash     [32]byte
	Dependencies [][32]byte
	ChainName    string
}

func (h Header) ToBytes() []byte {
	out := append([]byte(nil), h.Account...)
	out = binary.LittleEndian.AppendUint64(out, uint64(h.Timestamp.UnixMilli()))
	out = binary.LittleEndian.AppendUint64(out, uint64(h.TTL.Milliseconds()))
	out = binary.LittleEndian.AppendUint64(out, h.GasPrice)
	out = append(out, h.BodyHash[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(h.Dependencies)))
	for _, d := range h.Dependencies {
		out = append(out, d[:]...)
	}
	return append(out, stringBytes(h.ChainName)...)
}

func (h Header) MarshalJSON() ([]byte, error) {
	deps := make([]string, 0, len(h.Dependencies))
	for _, d := range h.Dependencies {
		deps = append(deps, hex.EncodeToString(d[:]))
	}
	return json.Marshal(struct {
		Account      string   `json:"account"`
		Timestamp    string   `json:"timestamp"`
		TTL          string   `json:"ttl"`
		GasPrice     uint64   `json:"gas_price"`
		BodyHash     string   `json:"body_hash"`
		Dependencies []string `json:"dependencies"`
		ChainName    string   `json:"chain_name"`
	}{
		Account:      hex.EncodeToString(h.Account),
		Timestamp:    h.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		TTL:          formatTTL(h.TTL),
		GasPrice:     h.GasPrice,
		BodyHash:     hex.EncodeToString(h.BodyHash[:]),
		Dependencies: deps,
		ChainName:    h.ChainName,
	})
}

// formatTTL renders the node's humantime form, e.g. "30m" or "1h 30m".
func formatTTL(d time.Duration) string {
	ms := d.Milliseconds()
	if ms <= 0 {
		return "0ms"
	}
	units := []struct {
		suffix string
		size   int64
	}{
		{"day", 86_400_000},
		{"h", 3_600_000},
		{"m", 60_000},
		{"s", 1_000},
		{"ms", 1},
	}
	out := ""
	for _, u := range units {
		if n := ms / u.size; n > 0 {
			if out != "" {
				out += " "
			}
			out += fmt.Sprintf("%d%s", n, u.suffix)
			ms -= n * u.size
		}
	}
	return out
}

// ModuleBytes is a payment item with an empty module: the standard payment.
type ModuleBytes struct {
	Module []byte
	Args   RuntimeArgs
}

func (m ModuleBytes) ToBytes() []byte {
	out := []byte{0}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(m.Module)))
	out = append(out, m.Module...)
	return append(out, m.Args.ToBytes()...)
}

func (m ModuleBytes) MarshalJSON() ([]byte, error) {
	type body struct {
		ModuleBytes string      `json:"module_bytes"`
		Args        RuntimeArgs `json:"args"`
	}
	return json.Marshal(map[string]body{
		"ModuleBytes": {ModuleBytes: hex.EncodeToString(m.Module), Args: m.Args},
	})
}

// StoredContractByHash is a session item calling an entry point of a
// contract.
type StoredContractByHash struct {
	Hash       address.Identity
	EntryPoint string
	Args       RuntimeArgs
}

func (s StoredContractByHash) ToBytes() []byte {
	hash := s.Hash.Bytes()
	out := []byte{1}
	out = append(out, hash[:]...)
	out = append(out, stringBytes(s.EntryPoint)...)
	return append(out, s.Args.ToBytes()...)
}

func (s StoredContractByHash) MarshalJSON() ([]byte, error) {
	type body struct {
		Hash       string      `json:"hash"`
		EntryPoint string      `json:"entry_point"`
		Args       RuntimeArgs `json:"args"`
	}
	return json.Marshal(map[string]body{
		"StoredContractByHash": {Hash: string(s.Hash), EntryPoint: s.EntryPoint, Args: s.Args},
	})
}

// Approval is one signature over the deploy hash.
type Approval struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// Deploy is a signed deploy in the node's JSON form.
type Deploy struct {
	Hash      string               `json:"hash"`
	Header    Header               `json:"header"`
	Payment   ModuleBytes          `json:"payment"`
	Session   StoredContractByHash `json:"session"`
	Approvals []Approval           `json:"approvals"`
}

// StandardPayment is the payment item for amount motes.
func StandardPayment(amount *big.Int) (ModuleBytes, error) {
	v, err := U512(amount)
	if err != nil {
		return ModuleBytes{}, fmt.Errorf("payment amount: %w", err)
	}
	return ModuleBytes{Args: RuntimeArgs{{Name: "amount", Value: v}}}, nil
}

// BodyHash is blake2b256(payment bytes || session bytes).
func BodyHash(payment ModuleBytes, session StoredContractByHash) [32]byte {
	buf := append(payment.ToBytes(), session.ToBytes()...)
	return blake2b.Sum256(buf)
}

// BuildDeploy assembles a deploy calling entryPoint on contract and signs
// it. The result is deterministic for fixed inputs and now.
func BuildDeploy(signer Signer, chainName string, contract address.Identity, entryPoint string, args RuntimeArgs, payment *big.Int, now time.Time) (*Deploy, error) {
	if payment == nil {
		payment = DefaultSpeculativePayment
	}
	pay, err := StandardPayment(payment)
	if err != nil {
		return nil, err
	}
	session := StoredContractByHash{Hash: contract, EntryPoint: entryPoint, Args: args}

	header := Header{
		Account:   signer.PublicKey(),
		Timestamp: now.Truncate(time.Millisecond),
		TTL:       DefaultTTL,
		GasPrice:  DefaultGasPrice,
		BodyHash:  BodyHash(pay, session),
		ChainName: chainName,
	}
	hash := blake2b.Sum256(header.ToBytes())

	sig, err := signer.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign deploy: %w", err)
	}

	return &Deploy{
		Hash:    hex.EncodeToString(hash[:]),
		Header:  header,
		Payment: pay,
		Session: session,
		Approvals: []Approval{{
			Signer:    hex.EncodeToString(signer.PublicKey()),
			Signature: hex.EncodeToString(sig),
		}},
	}, nil
}
