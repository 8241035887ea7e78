// Package address holds EVM address validation and the BIP32/BIP44 key
// derivation used for mnemonic based hot wallet secrets.
package address

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

// DefaultDerivationPath is the first external EVM account (BIP44 coin type 60).
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

const hardenedOffset uint32 = 0x80000000

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrZeroAddress    = errors.New("zero address")
	ErrInvalidPath    = errors.New("invalid BIP44 path")
)

// Parse validates a hex encoded EVM address. Mixed-case input must carry a
// valid EIP-55 checksum. The zero address is rejected since tokens sent there
// are burned.
func Parse(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(ErrInvalidAddress, "%q", s)
	}

	addr := common.HexToAddress(s)
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if isMixedCase(body) && addr.Hex()[2:] != body {
		return common.Address{}, errors.Wrapf(ErrInvalidAddress, "%q: bad checksum", s)
	}

	if addr == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}

	return addr, nil
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}

// DerivePrivateKey derives a private key from seed and BIP44 path
// WARNING: Caller must clear the private key after use
func DerivePrivateKey(seed []byte, path string) ([]byte, error) {
	indices, err := ParseBIP44Path(path)
	if err != nil {
		return nil, err
	}

	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	key := masterKey
	for _, index := range indices {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	return key.Key, nil
}

// ParseBIP44Path parses a BIP44 path string into indices
// Example: "m/44'/60'/0'/0/0" -> [2147483692, 2147483708, 2147483648, 0, 0]
func ParseBIP44Path(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) < 2 || parts[0] != "m" {
		return nil, errors.Wrapf(ErrInvalidPath, "%q", path)
	}

	indices := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")

		index, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidPath, "segment %q", part)
		}

		//nolint:gosec // bounded to 31 bits by ParseUint
		value := uint32(index)
		if hardened {
			value += hardenedOffset
		}

		indices = append(indices, value)
	}

	return indices, nil
}
