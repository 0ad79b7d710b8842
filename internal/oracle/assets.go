package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"LendingLedger/internal/address"
	"LendingLedger/internal/chain"
)

// KeyType says how an asset hash is passed to set_price.
type KeyType string

const (
	KeyTypeHash            KeyType = "hash"
	KeyTypeContract        KeyType = "contract"
	KeyTypeAccountHash     KeyType = "account-hash"
	KeyTypeContractPackage KeyType = "contract-package"
)

var ErrUnsupportedKeyType = errors.New("unsupported asset key type")

// Asset is one priced asset, in configuration order.
type Asset struct {
	Symbol      string
	CoinGeckoID string
	Hash        address.Identity
	KeyType     KeyType
}

// Tag is the key tag the asset is addressed with on chain.
func (a Asset) Tag() address.Tag {
	if a.KeyType == KeyTypeAccountHash {
		return address.TagAccount
	}
	return address.TagContract
}

// Key is the asset as a Key CLValue.
func (a Asset) Key() chain.CLValue {
	return chain.Key(a.Tag(), a.Hash)
}

type assetEntry struct {
	CoinGeckoID string `json:"coingeckoId"`
	AssetHash   string `json:"assetHash"`
	AssetType   string `json:"assetType"`
}

// ParseAssetMap decodes {symbol: {coingeckoId, assetHash, assetType}},
// keeping the object's key order. A contract-package key type is rejected:
// packages cannot be addressed by a Key argument.
func ParseAssetMap(data []byte) ([]Asset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse asset map: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("parse asset map: expected an object")
	}

	var assets []Asset
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse asset map: %w", err)
		}
		symbol := strings.ToLower(tok.(string))

		var entry assetEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("asset %s: %w", symbol, err)
		}
		if seen[symbol] {
			return nil, fmt.Errorf("asset %s: duplicate symbol", symbol)
		}
		seen[symbol] = true

		asset, err := entry.asset(symbol)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", symbol, err)
		}
		assets = append(assets, asset)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse asset map: %w", err)
	}
	return assets, nil
}

func (e assetEntry) asset(symbol string) (Asset, error) {
	if strings.TrimSpace(e.CoinGeckoID) == "" {
		return Asset{}, errors.New("coingeckoId is required")
	}
	keyType := KeyType(strings.TrimSpace(e.AssetType))
	switch keyType {
	case "":
		keyType = KeyTypeHash
	case KeyTypeHash, KeyTypeContract, KeyTypeAccountHash:
	case KeyTypeContractPackage:
		return Asset{}, fmt.Errorf("%w: %s is not an addressable key", ErrUnsupportedKeyType, keyType)
	default:
		return Asset{}, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, keyType)
	}
	hash, err := address.NormalizeIdentity(e.AssetHash)
	if err != nil {
		return Asset{}, fmt.Errorf("assetHash: %w", err)
	}
	return Asset{
		Symbol:      symbol,
		CoinGeckoID: strings.TrimSpace(e.CoinGeckoID),
		Hash:        hash,
		KeyType:     keyType,
	}, nil
}

// LoadAssetMap parses inline when set, else the file at path. With neither
// the list is empty.
func LoadAssetMap(inline, path string) ([]Asset, error) {
	switch {
	case strings.TrimSpace(inline) != "":
		return ParseAssetMap([]byte(inline))
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read asset map: %w", err)
		}
		return ParseAssetMap(data)
	default:
		return nil, nil
	}
}

// FindAsset looks a symbol up case-insensitively.
func FindAsset(assets []Asset, symbol string) (Asset, bool) {
	for _, a := range assets {
		if strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return Asset{}, false
}
