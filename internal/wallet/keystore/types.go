package keystore

import "github.com/pkg/errors"

// Format identifies how the hot wallet secret is encoded on disk.
type Format string

const (
	FormatHexKey     Format = "hex"
	FormatKeystoreV3 Format = "keystore-v3"
	FormatMnemonic   Format = "mnemonic"
)

var (
	ErrKeyFileUnset         = errors.New("signing key file path is not set")
	ErrKeyFileUnreadable    = errors.New("signing key file is unreadable")
	ErrInsecurePermissions  = errors.New("signing key file is accessible by group or others")
	ErrMalformedSecret      = errors.New("signing key file content is malformed")
	ErrPasswordRequired     = errors.New("keystore password is required")
	ErrInvalidPassword      = errors.New("invalid keystore password")
	ErrUnsupportedKeystore  = errors.New("unsupported keystore parameters")
	ErrPasswordFileInsecure = errors.New("password file is accessible by group or others")
)

// Options controls how a secret file is opened.
type Options struct {
	// PasswordFile holds the keystore v3 password or the BIP39 passphrase.
	PasswordFile string
	// DerivationPath is used for mnemonic secrets only.
	DerivationPath string
	// Prompt reads a password interactively. It is only consulted for keystore
	// files without PasswordFile; nil disables prompting.
	Prompt func(prompt string) (string, error)
}

// KeystoreJSON represents the Ethereum keystore v3 JSON structure
//
//nolint:revive // KeystoreJSON is the standard name for Ethereum keystore JSON structure
type KeystoreJSON struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Address string `json:"address"`
	Crypto  struct {
		Ciphertext   string `json:"ciphertext"`
		CipherParams struct {
			IV string `json:"iv"`
		} `json:"cipherparams"`
		Cipher    string    `json:"cipher"`
		KDF       string    `json:"kdf"`
		KDFParams KDFParams `json:"kdfparams"`
		MAC       string    `json:"mac"`
	} `json:"crypto"`
}

// KDFParams covers both scrypt (n, r, p) and pbkdf2 (c, prf) parameters.
type KDFParams struct {
	DKLen int    `json:"dklen"`
	Salt  string `json:"salt"`
	N     int    `json:"n,omitempty"`
	R     int    `json:"r,omitempty"`
	P     int    `json:"p,omitempty"`
	C     int    `json:"c,omitempty"`
	PRF   string `json:"prf,omitempty"`
}
