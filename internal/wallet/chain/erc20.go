package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ERC-20 selectors
var (
	transferMethodID  = common.Hex2Bytes("a9059cbb") // transfer(address,uint256)
	balanceOfMethodID = common.Hex2Bytes("70a08231") // balanceOf(address)
	decimalsMethodID  = common.Hex2Bytes("313ce567") // decimals()
)

const abiWordLength = 32

// TransferData encodes transfer(to, amount).
func TransferData(to common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New("transfer amount must be positive")
	}
	if amount.BitLen() > abiWordLength*8 {
		return nil, errors.New("transfer amount overflows uint256")
	}

	data := make([]byte, 0, len(transferMethodID)+2*abiWordLength)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), abiWordLength)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), abiWordLength)...)

	return data, nil
}

// DecodeTransferData is the inverse of TransferData.
func DecodeTransferData(data []byte) (common.Address, *big.Int, error) {
	if len(data) != len(transferMethodID)+2*abiWordLength || string(data[:4]) != string(transferMethodID) {
		return common.Address{}, nil, errors.New("not an ERC-20 transfer payload")
	}

	args := data[len(transferMethodID):]

	return common.BytesToAddress(args[:abiWordLength]), new(big.Int).SetBytes(args[abiWordLength:]), nil
}

func balanceOfData(owner common.Address) []byte {
	data := make([]byte, 0, len(balanceOfMethodID)+abiWordLength)
	data = append(data, balanceOfMethodID...)

	return append(data, common.LeftPadBytes(owner.Bytes(), abiWordLength)...)
}

func decodeUint256(resp []byte) (*big.Int, error) {
	if len(resp) != abiWordLength {
		return nil, errors.Errorf("unexpected return data length %d", len(resp))
	}

	return new(big.Int).SetBytes(resp), nil
}
