package test

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github/chapool/gem-payout/internal/wallet/chain"
)

const ChainID = 137

// FakeChain is an in-memory chain.Client. It keeps a mempool, mines on
// demand and counts calls per method.
type FakeChain struct {
	mu sync.Mutex

	balances  map[common.Address]*big.Int
	decimals  map[common.Address]uint8
	gasPrice  *big.Int
	tipCap    *big.Int
	gasUsed   uint64
	confirmed uint64
	head      uint64
	pool      map[common.Hash]*types.Transaction
	receipts  map[common.Hash]*fakeReceipt
	submitted []*types.Transaction
	calls     map[string]int

	// AutoMine mines every accepted transaction right away.
	AutoMine bool
	// Revert makes AutoMine produce reverted receipts.
	Revert bool
	// SubmitHook runs before the default Submit logic, n counts from 0. A
	// non-nil error is returned instead of accepting the transaction.
	SubmitHook func(n int, tx *types.Transaction) error
	// ReadErr is returned by every read while set.
	ReadErr error
	// EstimateGasErr is returned by EstimateGas while set.
	EstimateGasErr error
}

type fakeReceipt struct {
	block    uint64
	reverted bool
}

var _ chain.Client = (*FakeChain)(nil)

func NewFakeChain() *FakeChain {
	return &FakeChain{
		balances: make(map[common.Address]*big.Int),
		decimals: make(map[common.Address]uint8),
		gasPrice: big.NewInt(100_000_000_000),
		tipCap:   big.NewInt(30_000_000_000),
		gasUsed:  50_000,
		head:     1000,
		pool:     make(map[common.Hash]*types.Transaction),
		receipts: make(map[common.Hash]*fakeReceipt),
		calls:    make(map[string]int),
	}
}

func (f *FakeChain) SetBalance(token common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[token] = new(big.Int).Set(amount)
}

func (f *FakeChain) SetDecimals(token common.Address, decimals uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimals[token] = decimals
}

func (f *FakeChain) SetFees(gasPrice, tipCap *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasPrice, f.tipCap = gasPrice, tipCap
}

// SetConfirmedNonce simulates transactions sent by someone else.
func (f *FakeChain) SetConfirmedNonce(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = n
}

// Calls returns how often method was called, "" sums all methods.
func (f *FakeChain) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if method != "" {
		return f.calls[method]
	}

	total := 0
	for _, n := range f.calls {
		total += n
	}

	return total
}

// Submitted returns every transaction accepted by Submit, rebroadcasts included.
func (f *FakeChain) Submitted() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.submitted...)
}

// Mine includes the pooled transaction hash in a new block unless an earlier
// nonce is still missing.
func (f *FakeChain) Mine(hash common.Hash, reverted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mine(hash, reverted)
}

// AdvanceBlocks appends n empty blocks.
func (f *FakeChain) AdvanceBlocks(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head += n
}

// Drop removes every pooled transaction without mining it.
func (f *FakeChain) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pool = make(map[common.Hash]*types.Transaction)
}

func (f *FakeChain) mine(hash common.Hash, reverted bool) {
	tx, ok := f.pool[hash]
	if !ok || tx.Nonce() != f.confirmed {
		// unknown, or queued behind a nonce gap
		return
	}

	f.head++
	f.receipts[hash] = &fakeReceipt{block: f.head, reverted: reverted}
	f.confirmed = tx.Nonce() + 1

	// same-nonce siblings can no longer land
	for h, other := range f.pool {
		if other.Nonce() == tx.Nonce() {
			delete(f.pool, h)
		}
	}
}

// mineReady mines pooled transactions in nonce order until a gap.
func (f *FakeChain) mineReady() {
	for {
		var next *types.Transaction
		for _, tx := range f.pool {
			if tx.Nonce() == f.confirmed {
				next = tx
				break
			}
		}

		if next == nil {
			return
		}

		f.mine(next.Hash(), f.Revert)
	}
}

func (f *FakeChain) read(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.ReadErr
}

func (f *FakeChain) ChainID(_ context.Context) (*big.Int, error) {
	if err := f.read("ChainID"); err != nil {
		return nil, err
	}

	return big.NewInt(ChainID), nil
}

func (f *FakeChain) TokenBalance(_ context.Context, token, _ common.Address) (*big.Int, error) {
	if err := f.read("TokenBalance"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	balance, ok := f.balances[token]
	if !ok {
		return new(big.Int), nil
	}

	return new(big.Int).Set(balance), nil
}

func (f *FakeChain) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	if err := f.read("TokenDecimals"); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	decimals, ok := f.decimals[token]
	if !ok {
		return 0, &chain.RejectedError{Reason: chain.RejectOther, Message: "execution reverted"}
	}

	return decimals, nil
}

func (f *FakeChain) FeeEstimate(_ context.Context) (*chain.FeeEstimate, error) {
	if err := f.read("FeeEstimate"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return &chain.FeeEstimate{GasPrice: new(big.Int).Set(f.gasPrice), TipCap: new(big.Int).Set(f.tipCap)}, nil
}

func (f *FakeChain) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if err := f.read("EstimateGas"); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.EstimateGasErr != nil {
		return 0, f.EstimateGasErr
	}

	return f.gasUsed, nil
}

func (f *FakeChain) PendingNonce(_ context.Context, _ common.Address) (uint64, error) {
	if err := f.read("PendingNonce"); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.confirmed
	for _, tx := range f.pool {
		if tx.Nonce()+1 > pending {
			pending = tx.Nonce() + 1
		}
	}

	return pending, nil
}

func (f *FakeChain) ConfirmedNonce(_ context.Context, _ common.Address) (uint64, error) {
	if err := f.read("ConfirmedNonce"); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.confirmed, nil
}

func (f *FakeChain) Submit(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	f.mu.Lock()
	n := f.calls["Submit"]
	f.calls["Submit"]++
	hook := f.SubmitHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(n, tx); err != nil {
			return common.Hash{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, mined := f.receipts[tx.Hash()]; mined {
		return tx.Hash(), nil
	}
	if tx.Nonce() < f.confirmed {
		return common.Hash{}, &chain.RejectedError{Reason: chain.RejectNonceTooLow, Message: "nonce too low"}
	}

	f.pool[tx.Hash()] = tx
	f.submitted = append(f.submitted, tx)

	if f.AutoMine {
		f.mineReady()
	}

	return tx.Hash(), nil
}

func (f *FakeChain) AwaitConfirmation(_ context.Context, txHash common.Hash, minConfirmations uint64) (*chain.Confirmation, error) {
	if err := f.read("AwaitConfirmation"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	receipt, ok := f.receipts[txHash]
	if !ok {
		return &chain.Confirmation{Status: chain.ConfirmationPending}, nil
	}

	c := &chain.Confirmation{
		Status:        chain.ConfirmationPending,
		Confirmations: f.head - receipt.block + 1,
		BlockNumber:   receipt.block,
		GasUsed:       f.gasUsed,
	}

	if c.Confirmations >= minConfirmations {
		c.Status = chain.ConfirmationConfirmed
		if receipt.reverted {
			c.Status = chain.ConfirmationFailed
		}
	}

	return c, nil
}

func (f *FakeChain) Close() {}
