package rico

import (
	"fmt"
	"math/big"
)

// TokenDecimals is the number of decimals of the sold token; prices are per
// 10^TokenDecimals base units.
const TokenDecimals = 18

var tokenUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)

// StageAtBlock returns the id of the stage whose inclusive block range
// contains block.
func (s *Schedule) StageAtBlock(block uint64) (int, error) {
	if !s.InPeriod(block) {
		return 0, fmt.Errorf("%w: block %d", ErrOutOfRange, block)
	}
	commitEnd := s.CommitPhaseEndBlock()
	if block <= commitEnd {
		return 0, nil
	}
	// Every buy-phase stage covers StageBlockCount+1 heights.
	span := s.StageBlockCount + 1
	id := int((block-commitEnd-1)/span) + 1
	if id > s.StageCount() {
		id = s.StageCount()
	}
	return id, nil
}

// PriceAtBlock returns the token price of the stage active at block.
func (s *Schedule) PriceAtBlock(block uint64) (*big.Int, error) {
	id, err := s.StageAtBlock(block)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(s.Stages[id].TokenPrice), nil
}

// TokensForEth converts an ETH amount to tokens at the stage price, truncating
// toward zero so that a buyer is never over-allocated.
func (s *Schedule) TokensForEth(eth *big.Int, stageID int) (*big.Int, error) {
	if stageID < 0 || stageID >= len(s.Stages) {
		return nil, fmt.Errorf("rico: unknown stage %d", stageID)
	}
	return s.tokensForEth(eth, stageID), nil
}

// EthForTokens converts a token amount to ETH at the stage price. The result
// truncates, so EthForTokens(TokensForEth(x)) <= x.
func (s *Schedule) EthForTokens(tokens *big.Int, stageID int) (*big.Int, error) {
	if stageID < 0 || stageID >= len(s.Stages) {
		return nil, fmt.Errorf("rico: unknown stage %d", stageID)
	}
	return s.ethForTokens(tokens, stageID), nil
}

func (s *Schedule) tokensForEth(eth *big.Int, stageID int) *big.Int {
	out := new(big.Int).Mul(bigOrZero(eth), tokenUnit)
	return out.Quo(out, s.Stages[stageID].TokenPrice)
}

func (s *Schedule) ethForTokens(tokens *big.Int, stageID int) *big.Int {
	out := new(big.Int).Mul(bigOrZero(tokens), s.Stages[stageID].TokenPrice)
	return out.Quo(out, tokenUnit)
}
