package asset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeDecimals is the fixed precision of the platform's native currency.
const NativeDecimals = 18

const nativeKey = "native"

// ErrInvalidAsset is returned when an asset identifier cannot be parsed.
var ErrInvalidAsset = errors.New("invalid asset identifier")

// Kind discriminates the two asset variants.
type Kind uint8

const (
	KindNative Kind = iota + 1
	KindToken
)

// ID identifies a custody asset: either the native currency or a token contract.
// The zero value is invalid. IDs are comparable and safe to use as map keys.
type ID struct {
	kind  Kind
	token common.Address
}

// Native returns the identifier of the native currency.
func Native() ID {
	return ID{kind: KindNative}
}

// Token returns the identifier of the token deployed at addr.
func Token(addr common.Address) ID {
	return ID{kind: KindToken, token: addr}
}

// Parse accepts "native" or a hex token address.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, nativeKey) {
		return Native(), nil
	}
	if !common.IsHexAddress(s) {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return ID{}, fmt.Errorf("%w: zero token address", ErrInvalidAsset)
	}
	return Token(addr), nil
}

func (id ID) Kind() Kind { return id.kind }

func (id ID) IsNative() bool { return id.kind == KindNative }

// TokenAddress returns the contract address for token assets.
func (id ID) TokenAddress() (common.Address, bool) {
	if id.kind != KindToken {
		return common.Address{}, false
	}
	return id.token, true
}

// Valid reports whether id was built through Native, Token or Parse with a non-zero address.
func (id ID) Valid() bool {
	switch id.kind {
	case KindNative:
		return true
	case KindToken:
		return id.token != (common.Address{})
	default:
		return false
	}
}

// String renders the stable storage key: "native" or the checksummed token address.
func (id ID) String() string {
	switch id.kind {
	case KindNative:
		return nativeKey
	case KindToken:
		return id.token.Hex()
	default:
		return "invalid"
	}
}
