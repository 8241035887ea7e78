package test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/wallet/signer"
)

// Well-known development key, never funded on a real network.
const HotWalletKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var HotWalletAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// WriteKeyFile stores the development key in a 0600 file below t.TempDir().
func WriteKeyFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hot-wallet.key")
	require.NoError(t, os.WriteFile(path, []byte(HotWalletKeyHex+"\n"), 0o600))

	return path
}

// NewSigner returns a signer for the development key on ChainID.
//
//nolint:ireturn
func NewSigner(t *testing.T) signer.Service {
	t.Helper()

	s, err := signer.NewService(t.Context(), signer.Config{
		KeyFile: WriteKeyFile(t),
		ChainID: ChainID,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
