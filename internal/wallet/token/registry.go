package token

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/util"
)

// Registry is an immutable symbol -> descriptor table. Unknown symbols fail closed.
type Registry struct {
	bySymbol map[string]Descriptor
}

type registryFile struct {
	Token []struct {
		Symbol   string `toml:"symbol"`
		Contract string `toml:"contract"`
		Decimals int    `toml:"decimals"`
	} `toml:"token"`
}

// NewRegistry validates descriptors and builds the lookup table.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, errors.Wrap(ErrInvalidDescriptor, "registry is empty")
	}

	r := &Registry{bySymbol: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		d.Symbol = strings.TrimSpace(d.Symbol)
		if d.Symbol == "" {
			return nil, errors.Wrap(ErrInvalidDescriptor, "empty symbol")
		}
		if d.Contract == (common.Address{}) {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "%s: zero contract address", d.Symbol)
		}
		if d.Decimals > maxDecimals {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "%s: decimals %d out of range", d.Symbol, d.Decimals)
		}

		key := strings.ToUpper(d.Symbol)
		if _, ok := r.bySymbol[key]; ok {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "duplicate symbol %s", d.Symbol)
		}
		r.bySymbol[key] = d
	}

	return r, nil
}

// DefaultRegistry returns the Polygon mainnet stablecoins.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(PolygonUSDC, PolygonUSDT)
	if err != nil {
		panic(err)
	}

	return r
}

// LoadRegistry reads a TOML registry file:
//
//	[[token]]
//	symbol = "USDC"
//	contract = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
//	decimals = 6
//
// An empty path returns DefaultRegistry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read token registry %s", path)
	}

	var file registryFile
	if _, err := toml.Decode(string(raw), &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse token registry %s", path)
	}

	descriptors := make([]Descriptor, 0, len(file.Token))
	for _, t := range file.Token {
		if !common.IsHexAddress(t.Contract) {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "%s: invalid contract address %q", t.Symbol, t.Contract)
		}
		if t.Decimals < 0 || t.Decimals > maxDecimals {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "%s: decimals %d out of range", t.Symbol, t.Decimals)
		}

		descriptors = append(descriptors, Descriptor{
			Symbol:   t.Symbol,
			Contract: common.HexToAddress(t.Contract),
			Decimals: uint8(t.Decimals), //nolint:gosec // range checked above
		})
	}

	return NewRegistry(descriptors...)
}

// Resolve looks a symbol up case-insensitively.
func (r *Registry) Resolve(symbol string) (Descriptor, error) {
	d, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Descriptor{}, errors.Wrapf(ErrUnsupportedToken, "%q", symbol)
	}

	return d, nil
}

// Symbols returns the registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.bySymbol))
	for _, d := range r.bySymbol {
		symbols = append(symbols, d.Symbol)
	}
	sort.Strings(symbols)

	return symbols
}

// Descriptors returns all entries sorted by symbol.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.bySymbol))
	for _, s := range r.Symbols() {
		out = append(out, r.bySymbol[strings.ToUpper(s)])
	}

	return out
}

// VerifyDecimals compares every configured precision with the contract's decimals().
func (r *Registry) VerifyDecimals(ctx context.Context, reader DecimalsReader) error {
	for _, d := range r.Descriptors() {
		onChain, err := reader.TokenDecimals(ctx, d.Contract)
		if err != nil {
			return errors.Wrapf(err, "failed to read decimals of %s", d.Symbol)
		}

		if onChain != d.Decimals {
			return errors.Wrapf(ErrDecimalsMismatch, "%s: configured %d, contract %d", d.Symbol, d.Decimals, onChain)
		}

		util.LogFromContext(ctx).Debug().
			Str("token", d.Symbol).
			Str("contract", d.Contract.Hex()).
			Uint8("decimals", onChain).
			Msg("Token decimals verified")
	}

	return nil
}
