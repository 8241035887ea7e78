package keystore

import (
	"crypto/sha512"
	"strings"

	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/wallet/address"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 2048 // BIP39 standard iterations
	pbkdf2KeyLength  = 64   // BIP39 standard key length (512 bits)
)

var validMnemonicLengths = map[int]bool{12: true, 15: true, 18: true, 21: true, 24: true}

// looksLikeMnemonic reports whether content is a whitespace separated BIP39
// word list of a valid length.
func looksLikeMnemonic(content string) bool {
	words := strings.Fields(content)
	if !validMnemonicLengths[len(words)] {
		return false
	}

	for _, w := range words {
		for _, r := range w {
			if r < 'a' || r > 'z' {
				return false
			}
		}
	}

	return true
}

// keyFromMnemonic converts mnemonic to seed using PBKDF2 (BIP39) and derives
// the key at path.
// BIP39: seed = PBKDF2(mnemonic, "mnemonic" + passphrase, 2048, 64, SHA512)
func keyFromMnemonic(mnemonic, passphrase, path string) ([]byte, error) {
	if path == "" {
		path = address.DefaultDerivationPath
	}

	normalized := strings.Join(strings.Fields(mnemonic), " ")
	seed := pbkdf2.Key(
		[]byte(normalized),
		[]byte("mnemonic"+passphrase),
		pbkdf2Iterations,
		pbkdf2KeyLength,
		sha512.New,
	)
	defer zero(seed)

	key, err := address.DerivePrivateKey(seed, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key from mnemonic")
	}

	return key, nil
}
