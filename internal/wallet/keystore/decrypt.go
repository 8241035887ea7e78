package keystore

import (
	"crypto/ecdsa"
	"encoding/json"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/pkg/errors"
)

const keystoreVersion = 3

// parseKeystore checks the header of an Ethereum keystore v3 document before
// any password is asked for. Only version 3 with aes-128-ctr is accepted.
func parseKeystore(content []byte) (*KeystoreJSON, error) {
	var ks KeystoreJSON
	if err := json.Unmarshal(content, &ks); err != nil {
		return nil, errors.Wrap(ErrMalformedSecret, "keystore is not valid JSON")
	}

	if ks.Version != keystoreVersion {
		return nil, errors.Wrapf(ErrUnsupportedKeystore, "version %d", ks.Version)
	}
	if ks.Crypto.Cipher != "aes-128-ctr" {
		return nil, errors.Wrapf(ErrUnsupportedKeystore, "cipher %q", ks.Crypto.Cipher)
	}
	switch ks.Crypto.KDF {
	case "scrypt", "pbkdf2":
	default:
		return nil, errors.Wrapf(ErrUnsupportedKeystore, "kdf %q", ks.Crypto.KDF)
	}

	return &ks, nil
}

func decryptKeystore(content []byte, password string) (*ecdsa.PrivateKey, error) {
	key, err := gethkeystore.DecryptKey(content, password)
	switch {
	case errors.Is(err, gethkeystore.ErrDecrypt):
		return nil, ErrInvalidPassword
	case err != nil:
		return nil, errors.Wrapf(ErrMalformedSecret, "keystore: %v", err)
	}

	return key.PrivateKey, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
