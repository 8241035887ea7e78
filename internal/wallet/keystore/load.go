// Package keystore opens the hot wallet signing secret from a restricted file.
//
// Three encodings are accepted: a bare 32 byte hex private key, an Ethereum
// keystore v3 JSON document and a BIP39 mnemonic. Secrets are never taken
// from environment variables.
package keystore

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

const (
	permMaskGroupOther os.FileMode = 0o077
	hexKeyLength                   = 64
)

// Load reads the secret at path and returns the decoded private key and the
// detected format. The file must not be accessible by group or others.
func Load(path string, opts Options) (*ecdsa.PrivateKey, Format, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", ErrKeyFileUnset
	}

	raw, err := readRestricted(path, ErrInsecurePermissions)
	if err != nil {
		return nil, "", err
	}
	defer zero(raw)

	content := bytes.TrimSpace(raw)

	switch {
	case len(content) > 0 && content[0] == '{':
		key, err := loadKeystore(content, opts)
		return key, FormatKeystoreV3, err
	case looksLikeMnemonic(string(content)):
		key, err := loadMnemonic(string(content), opts)
		return key, FormatMnemonic, err
	default:
		key, err := parseHexKey(content)
		return key, FormatHexKey, err
	}
}

func readRestricted(path string, insecureErr error) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(ErrKeyFileUnreadable, "%s: %v", path, err)
	}

	if info.IsDir() {
		return nil, errors.Wrapf(ErrKeyFileUnreadable, "%s is a directory", path)
	}

	if info.Mode().Perm()&permMaskGroupOther != 0 {
		return nil, errors.Wrapf(insecureErr, "%s has mode %04o", path, info.Mode().Perm())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrKeyFileUnreadable, "%s: %v", path, err)
	}

	return raw, nil
}

func parseHexKey(content []byte) (*ecdsa.PrivateKey, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(string(content), "0x"), "0X")
	if len(s) != hexKeyLength {
		return nil, errors.Wrap(ErrMalformedSecret, "expected 32 byte hex private key")
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedSecret, "private key is not valid hex")
	}
	defer zero(b)

	return toECDSA(b)
}

func loadKeystore(content []byte, opts Options) (*ecdsa.PrivateKey, error) {
	ks, err := parseKeystore(content)
	if err != nil {
		return nil, err
	}

	password, err := readPassword(opts, true)
	if err != nil {
		return nil, err
	}

	key, err := decryptKeystore(content, password)
	if err != nil {
		return nil, err
	}

	if ks.Address != "" {
		expected := strings.ToLower(strings.TrimPrefix(ks.Address, "0x"))
		actual := strings.ToLower(strings.TrimPrefix(crypto.PubkeyToAddress(key.PublicKey).Hex(), "0x"))
		if expected != actual {
			return nil, errors.Wrap(ErrMalformedSecret, "keystore address does not match decrypted key")
		}
	}

	return key, nil
}

func loadMnemonic(content string, opts Options) (*ecdsa.PrivateKey, error) {
	passphrase, err := readPassword(opts, false)
	if err != nil {
		return nil, err
	}

	b, err := keyFromMnemonic(content, passphrase, opts.DerivationPath)
	if err != nil {
		return nil, err
	}
	defer zero(b)

	return toECDSA(b)
}

// readPassword returns the content of opts.PasswordFile. Without a password
// file the interactive prompt is used when required.
func readPassword(opts Options, required bool) (string, error) {
	if opts.PasswordFile != "" {
		raw, err := readRestricted(opts.PasswordFile, ErrPasswordFileInsecure)
		if err != nil {
			return "", err
		}
		defer zero(raw)

		return strings.TrimRight(string(raw), "\r\n"), nil
	}

	if !required {
		return "", nil
	}

	if opts.Prompt == nil {
		return "", ErrPasswordRequired
	}

	password, err := opts.Prompt("Enter hot wallet keystore password: ")
	if err != nil {
		return "", errors.Wrap(err, "failed to read password")
	}

	return password, nil
}

func toECDSA(b []byte) (*ecdsa.PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		// do not wrap err, it may echo key material
		return nil, errors.Wrap(ErrMalformedSecret, "invalid secp256k1 private key")
	}

	return key, nil
}

// TerminalPrompt reads a password from the controlling terminal without echo.
// It returns ErrPasswordRequired when stdin is not a terminal.
//
//nolint:forbidigo // Password input requires direct terminal I/O
func TerminalPrompt(prompt string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // stdin descriptor fits into int
	if !term.IsTerminal(fd) {
		return "", ErrPasswordRequired
	}

	fmt.Fprint(os.Stderr, prompt)
	passwordBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "failed to read password from terminal")
	}

	return string(passwordBytes), nil
}
