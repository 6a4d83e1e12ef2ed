package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	tokenBalancePrefix = []byte("token/balance/")
	tokenSupplyKey     = []byte("token/supply")
)

func tokenBalanceKey(addr []byte) []byte {
	buf := make([]byte, len(tokenBalancePrefix)+len(addr))
	copy(buf, tokenBalancePrefix)
	copy(buf[len(tokenBalancePrefix):], addr)
	return buf
}

func (m *Manager) loadUint256(key []byte) (*uint256.Int, error) {
	var stored *big.Int
	ok, err := m.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored == nil {
		return uint256.NewInt(0), nil
	}
	value, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, fmt.Errorf("state: stored amount overflows 256 bits")
	}
	return value, nil
}

func (m *Manager) storeUint256(key []byte, value *uint256.Int) error {
	if value == nil {
		value = uint256.NewInt(0)
	}
	return m.KVPut(key, value.ToBig())
}

// TokenBalance returns the token balance held by addr.
func (m *Manager) TokenBalance(addr []byte) (*uint256.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	return m.loadUint256(tokenBalanceKey(addr))
}

// SetTokenBalance overwrites the token balance of addr.
func (m *Manager) SetTokenBalance(addr []byte, amount *uint256.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	return m.storeUint256(tokenBalanceKey(addr), amount)
}

// TokenSupply returns the total token supply.
func (m *Manager) TokenSupply() (*uint256.Int, error) {
	return m.loadUint256(tokenSupplyKey)
}

// SetTokenSupply overwrites the total token supply.
func (m *Manager) SetTokenSupply(amount *uint256.Int) error {
	return m.storeUint256(tokenSupplyKey, amount)
}
