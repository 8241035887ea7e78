package signer

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var ErrAddressMismatch = errors.New("signing key does not match the expected hot wallet address")

// VerifyAddress compares the address derived from the loaded key with the
// configured hot wallet address. An empty expected address skips the check.
func VerifyAddress(s Service, expected string) error {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return nil
	}

	if !common.IsHexAddress(expected) {
		return errors.Errorf("invalid expected hot wallet address %q", expected)
	}

	if s.Address() != common.HexToAddress(expected) {
		return errors.Wrapf(ErrAddressMismatch, "derived %s, expected %s", s.Address().Hex(), common.HexToAddress(expected).Hex())
	}

	return nil
}
