package keystore_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/wallet/keystore"
)

// well-known development key (hardhat/anvil account #0)
const (
	devKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	devMnemonic = "test test test test test test test test test test test junk"
)

func writeSecret(t *testing.T, name string, content []byte, mode os.FileMode) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, mode))
	require.NoError(t, os.Chmod(path, mode))

	return path
}

func TestLoadHexKey(t *testing.T) {
	for _, content := range []string{devKeyHex, "0x" + devKeyHex, devKeyHex + "\n"} {
		path := writeSecret(t, "key.hex", []byte(content), 0o600)

		key, format, err := keystore.Load(path, keystore.Options{})
		require.NoError(t, err)
		assert.Equal(t, keystore.FormatHexKey, format)
		assert.Equal(t, common.HexToAddress(devAddress), crypto.PubkeyToAddress(key.PublicKey))
	}
}

func TestLoadMnemonic(t *testing.T) {
	path := writeSecret(t, "mnemonic.txt", []byte(devMnemonic+"\n"), 0o400)

	key, format, err := keystore.Load(path, keystore.Options{})
	require.NoError(t, err)
	assert.Equal(t, keystore.FormatMnemonic, format)
	assert.Equal(t, common.HexToAddress(devAddress), crypto.PubkeyToAddress(key.PublicKey))

	// second account on the same mnemonic
	key, _, err = keystore.Load(path, keystore.Options{DerivationPath: "m/44'/60'/0'/0/1"})
	require.NoError(t, err)
	assert.Equal(t,
		common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		crypto.PubkeyToAddress(key.PublicKey))
}

func writeKeystoreV3(t *testing.T, password string) string {
	t.Helper()

	privateKey, err := crypto.HexToECDSA(devKeyHex)
	require.NoError(t, err)

	id, err := uuid.NewRandom()
	require.NoError(t, err)

	encrypted, err := gethkeystore.EncryptKey(&gethkeystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}, password, gethkeystore.LightScryptN, gethkeystore.LightScryptP)
	require.NoError(t, err)

	return writeSecret(t, "keystore.json", encrypted, 0o600)
}

func TestLoadKeystoreV3(t *testing.T) {
	path := writeKeystoreV3(t, "correct horse")
	passwordFile := writeSecret(t, "password", []byte("correct horse\n"), 0o600)

	key, format, err := keystore.Load(path, keystore.Options{PasswordFile: passwordFile})
	require.NoError(t, err)
	assert.Equal(t, keystore.FormatKeystoreV3, format)
	assert.Equal(t, common.HexToAddress(devAddress), crypto.PubkeyToAddress(key.PublicKey))
}

func TestLoadKeystoreV3Prompt(t *testing.T) {
	path := writeKeystoreV3(t, "correct horse")

	prompted := 0
	key, _, err := keystore.Load(path, keystore.Options{Prompt: func(string) (string, error) {
		prompted++
		return "correct horse", nil
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, prompted)
	assert.Equal(t, common.HexToAddress(devAddress), crypto.PubkeyToAddress(key.PublicKey))
}

func TestLoadKeystoreV3WrongPassword(t *testing.T) {
	path := writeKeystoreV3(t, "correct horse")
	passwordFile := writeSecret(t, "password", []byte("battery staple"), 0o600)

	_, _, err := keystore.Load(path, keystore.Options{PasswordFile: passwordFile})
	require.ErrorIs(t, err, keystore.ErrInvalidPassword)
}

func TestLoadKeystoreV3NoPassword(t *testing.T) {
	path := writeKeystoreV3(t, "correct horse")

	_, _, err := keystore.Load(path, keystore.Options{})
	require.ErrorIs(t, err, keystore.ErrPasswordRequired)
}

func TestLoadKeystoreV3Unsupported(t *testing.T) {
	path := writeKeystoreV3(t, "pw")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(doc map[string]any)
	}{
		{name: "version", modify: func(doc map[string]any) { doc["version"] = 1 }},
		{name: "cipher", modify: func(doc map[string]any) { doc["crypto"].(map[string]any)["cipher"] = "aes-256-gcm" }},
		{name: "kdf", modify: func(doc map[string]any) { doc["crypto"].(map[string]any)["kdf"] = "argon2id" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc map[string]any
			require.NoError(t, json.Unmarshal(raw, &doc))
			tt.modify(doc)

			modified, err := json.Marshal(doc)
			require.NoError(t, err)

			prompted := false
			path := writeSecret(t, tt.name+".json", modified, 0o600)
			_, _, err = keystore.Load(path, keystore.Options{Prompt: func(string) (string, error) {
				prompted = true
				return "pw", nil
			}})
			require.ErrorIs(t, err, keystore.ErrUnsupportedKeystore)
			assert.False(t, prompted, "no password prompt for an unusable file")
		})
	}
}

func TestLoadFailsFast(t *testing.T) {
	_, _, err := keystore.Load("", keystore.Options{})
	require.ErrorIs(t, err, keystore.ErrKeyFileUnset)

	_, _, err = keystore.Load(filepath.Join(t.TempDir(), "missing"), keystore.Options{})
	require.ErrorIs(t, err, keystore.ErrKeyFileUnreadable)

	_, _, err = keystore.Load(t.TempDir(), keystore.Options{})
	require.ErrorIs(t, err, keystore.ErrKeyFileUnreadable)

	path := writeSecret(t, "world.hex", []byte(devKeyHex), 0o644)
	_, _, err = keystore.Load(path, keystore.Options{})
	require.ErrorIs(t, err, keystore.ErrInsecurePermissions)
	assert.NotContains(t, err.Error(), devKeyHex)

	for name, content := range map[string]string{
		"short.hex":  devKeyHex[:62],
		"nothex.hex": "zz" + devKeyHex[2:],
		"zero.hex":   "0000000000000000000000000000000000000000000000000000000000000000",
		"words.txt":  "not a mnemonic at all",
		"json.json":  "{not json",
		"empty.txt":  "",
	} {
		path := writeSecret(t, name, []byte(content), 0o600)
		_, _, err := keystore.Load(path, keystore.Options{})
		require.ErrorIs(t, err, keystore.ErrMalformedSecret, name)
	}
}

func TestLoadPasswordFilePermissions(t *testing.T) {
	path := writeKeystoreV3(t, "pw")
	passwordFile := writeSecret(t, "password", []byte("pw"), 0o644)

	_, _, err := keystore.Load(path, keystore.Options{PasswordFile: passwordFile})
	require.ErrorIs(t, err, keystore.ErrPasswordFileInsecure)
}
