package chain

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Key algorithms, as configured.
const (
	AlgSecp256k1 = "secp256k1"
	AlgEd25519   = "ed25519"
)

// Signer holds a deploy signing key.
type Signer interface {
	// PublicKey is the algorithm tag followed by the raw public key.
	PublicKey() []byte
	// Sign returns the algorithm tag followed by the raw signature.
	Sign(msg []byte) ([]byte, error)
	Algorithm() string
}

// LoadSigner reads key material in one of three forms: PEM text (a literal
// "\n" sequence is accepted for newlines), a path to a PEM file, or hex.
// When algorithm is empty secp256k1 is tried first, then ed25519.
func LoadSigner(material, algorithm string) (Signer, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm != "" && algorithm != AlgSecp256k1 && algorithm != AlgEd25519 {
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrKeyLoad, algorithm)
	}

	text := strings.TrimSpace(strings.ReplaceAll(material, `\n`, "\n"))
	if text == "" {
		return nil, fmt.Errorf("%w: empty key material", ErrKeyLoad)
	}

	if strings.Contains(text, "BEGIN") {
		return fromPEM([]byte(text), algorithm)
	}
	if fi, err := os.Stat(text); err == nil && !fi.IsDir() {
		data, err := os.ReadFile(text)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrKeyLoad, text, err)
		}
		return fromPEM(data, algorithm)
	}
	return fromHex(text, algorithm)
}

func fromPEM(data []byte, algorithm string) (Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrKeyLoad)
	}
	return tryAlgorithms(algorithm,
		func() (Signer, error) { return secp256k1FromDER(block.Bytes) },
		func() (Signer, error) { return ed25519FromDER(block.Bytes) },
	)
}

func fromHex(s string, algorithm string) (Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: key is neither PEM, a file, nor hex", ErrKeyLoad)
	}
	return tryAlgorithms(algorithm,
		func() (Signer, error) { return newSecp256k1(raw) },
		func() (Signer, error) { return newEd25519(raw) },
	)
}

func tryAlgorithms(algorithm string, secp, ed func() (Signer, error)) (Signer, error) {
	switch algorithm {
	case AlgSecp256k1:
		s, err := secp()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return s, nil
	case AlgEd25519:
		s, err := ed()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return s, nil
	}

	s, secpErr := secp()
	if secpErr == nil {
		return s, nil
	}
	s, edErr := ed()
	if edErr == nil {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrKeyLoad, errors.Join(secpErr, edErr))
}

// --- secp256k1 ---

type secp256k1Key struct {
	priv *ecdsa.PrivateKey
	pub  []byte
}

// ecPrivateKey is the SEC1 ECPrivateKey structure. x509.ParseECPrivateKey
// rejects secp256k1, so it is decoded here directly.
type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

var oidSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

func secp256k1FromDER(der []byte) (Signer, error) {
	var k ecPrivateKey
	if _, err := asn1.Unmarshal(der, &k); err != nil {
		return nil, fmt.Errorf("secp256k1: parse SEC1: %w", err)
	}
	if len(k.NamedCurveOID) > 0 && !k.NamedCurveOID.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("secp256k1: unexpected curve %v", k.NamedCurveOID)
	}
	return newSecp256k1(k.PrivateKey)
}

func newSecp256k1(raw []byte) (Signer, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("secp256k1: key must be 32 bytes, got %d", len(raw))
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("secp256k1: %w", err)
	}
	pub := append([]byte{0x02}, crypto.CompressPubkey(&priv.PublicKey)...)
	return &secp256k1Key{priv: priv, pub: pub}, nil
}

func (k *secp256k1Key) PublicKey() []byte {
	return k.pub
}

// Sign signs sha256(msg) and returns 0x02 || r || s.
func (k *secp256k1Key) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := crypto.Sign(digest[:], k.priv)
	if err != nil {
		return nil, err
	}
	return append([]byte{0x02}, sig[:64]...), nil
}

func (k *secp256k1Key) Algorithm() string {
	return AlgSecp256k1
}

// --- ed25519 ---

type ed25519Key struct {
	priv ed25519.PrivateKey
	pub  []byte
}

func ed25519FromDER(der []byte) (Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("ed25519: parse PKCS#8: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ed25519: PKCS#8 key is %T", key)
	}
	return newEd25519(priv.Seed())
}

func newEd25519(raw []byte) (Signer, error) {
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	default:
		return nil, fmt.Errorf("ed25519: key must be 32 or 64 bytes, got %d", len(raw))
	}
	pub := append([]byte{0x01}, priv.Public().(ed25519.PublicKey)...)
	return &ed25519Key{priv: priv, pub: pub}, nil
}

func (k *ed25519Key) PublicKey() []byte {
	return k.pub
}

func (k *ed25519Key) Sign(msg []byte) ([]byte, error) {
	return append([]byte{0x01}, ed25519.Sign(k.priv, msg)...), nil
}

func (k *ed25519Key) Algorithm() string {
	return AlgEd25519
}

// PublicKeyHex is the node's textual form of a signer's public key.
func PublicKeyHex(s Signer) string {
	return hex.EncodeToString(s.PublicKey())
}
