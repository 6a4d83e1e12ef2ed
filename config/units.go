package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"gopkg.in/yaml.v3"
)

var units = map[string]*big.Int{
	"":      big.NewInt(params.Wei),
	"wei":   big.NewInt(params.Wei),
	"gwei":  big.NewInt(params.GWei),
	"ether": big.NewInt(params.Ether),
	"eth":   big.NewInt(params.Ether),
	// Token amounts use 18 decimals like ether.
	"token":  big.NewInt(params.Ether),
	"tokens": big.NewInt(params.Ether),
}

// Amount is a non-negative integer amount in base units. Text forms accept an
// optional unit suffix: "2000000000000000", "2 gwei", "0.002 ether".
type Amount struct {
	v *big.Int
}

// ParseAmount parses a decimal amount with an optional unit suffix.
func ParseAmount(raw string) (Amount, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 || len(fields) > 2 {
		return Amount{}, fmt.Errorf("invalid amount %q", raw)
	}
	unitName := ""
	if len(fields) == 2 {
		unitName = strings.ToLower(fields[1])
	}
	unit, ok := units[unitName]
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q: unknown unit %q", raw, fields[1])
	}
	value, ok := new(big.Rat).SetString(strings.ReplaceAll(fields[0], "_", ""))
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", raw)
	}
	value.Mul(value, new(big.Rat).SetInt(unit))
	if !value.IsInt() {
		return Amount{}, fmt.Errorf("invalid amount %q: fractional base units", raw)
	}
	if value.Sign() < 0 {
		return Amount{}, fmt.Errorf("invalid amount %q: negative", raw)
	}
	return Amount{v: new(big.Int).Set(value.Num())}, nil
}

// MustAmount is ParseAmount for constants; it panics on malformed input.
func MustAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// Big returns a copy of the amount.
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.v)
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

func (a Amount) String() string { return a.Big().String() }

// UnmarshalText implements encoding.TextUnmarshaler (used by TOML).
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalYAML accepts both quoted strings and bare integers.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be a scalar")
	}
	return a.UnmarshalText([]byte(value.Value))
}

// Address is a hex encoded 20 byte address.
type Address struct {
	common.Address
}

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return Address{common.HexToAddress(trimmed)}, nil
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a.Address == (common.Address{}) }

// Bytes20 returns the raw address.
func (a Address) Bytes20() [20]byte { return [20]byte(a.Address) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalYAML decodes a scalar address.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("address must be a scalar")
	}
	return a.UnmarshalText([]byte(value.Value))
}
