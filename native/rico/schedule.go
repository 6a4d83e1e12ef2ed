package rico

import (
	"fmt"
	"math/big"
	"math/bits"
)

// MaxStageCount bounds the number of buy-phase stages so that per-participant
// stage records stay small.
const MaxStageCount = 255

// ScheduleParams are the deployment inputs the stage table is derived from.
// Prices are expressed in wei per whole token (10^18 base units).
type ScheduleParams struct {
	StartBlockDelay    uint64
	BlocksPerDay       uint64
	CommitPhaseDays    uint64
	StageCount         uint64
	StageDays          uint64
	CommitPhasePrice   *big.Int
	StagePriceIncrease *big.Int
}

// Stage is a contiguous, inclusive block range sold at a fixed price.
type Stage struct {
	StartBlock uint64   `json:"startBlock"`
	EndBlock   uint64   `json:"endBlock"`
	TokenPrice *big.Int `json:"tokenPrice"`
}

// Schedule is the immutable stage table. Stages[0] is the commit phase and
// Stages[1:] form the buy phase.
type Schedule struct {
	Stages                []Stage `json:"stages"`
	CommitPhaseBlockCount uint64  `json:"commitPhaseBlockCount"`
	StageBlockCount       uint64  `json:"stageBlockCount"`
}

// NewSchedule derives the stage table for a sale initialised at currentBlock.
// The commit phase starts StartBlockDelay blocks later; every stage ends
// BlockCount blocks after it starts and the next stage begins on the following
// block.
func NewSchedule(currentBlock uint64, p ScheduleParams) (*Schedule, error) {
	if p.BlocksPerDay == 0 || p.CommitPhaseDays == 0 || p.StageCount == 0 || p.StageDays == 0 {
		return nil, fmt.Errorf("%w: block and stage counts must be positive", ErrConfig)
	}
	if p.StageCount > MaxStageCount {
		return nil, fmt.Errorf("%w: stage count %d exceeds %d", ErrConfig, p.StageCount, MaxStageCount)
	}
	if p.CommitPhasePrice == nil || p.CommitPhasePrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: commit phase price must be positive", ErrConfig)
	}
	increase := cloneBigInt(p.StagePriceIncrease)
	if increase.Sign() < 0 {
		return nil, fmt.Errorf("%w: stage price increase must not be negative", ErrConfig)
	}
	commitCount, ok := mulUint64(p.BlocksPerDay, p.CommitPhaseDays)
	if !ok {
		return nil, fmt.Errorf("%w: commit phase block count overflows", ErrConfig)
	}
	stageCount, ok := mulUint64(p.BlocksPerDay, p.StageDays)
	if !ok {
		return nil, fmt.Errorf("%w: stage block count overflows", ErrConfig)
	}
	start, ok := addUint64(currentBlock, p.StartBlockDelay)
	if !ok {
		return nil, fmt.Errorf("%w: start block overflows", ErrConfig)
	}
	end, ok := addUint64(start, commitCount)
	if !ok {
		return nil, fmt.Errorf("%w: commit phase end overflows", ErrConfig)
	}

	s := &Schedule{
		Stages:                make([]Stage, 0, p.StageCount+1),
		CommitPhaseBlockCount: commitCount,
		StageBlockCount:       stageCount,
	}
	s.Stages = append(s.Stages, Stage{
		StartBlock: start,
		EndBlock:   end,
		TokenPrice: new(big.Int).Set(p.CommitPhasePrice),
	})
	for i := uint64(1); i <= p.StageCount; i++ {
		prev := s.Stages[i-1]
		stageStart, ok := addUint64(prev.EndBlock, 1)
		if !ok {
			return nil, fmt.Errorf("%w: stage %d start overflows", ErrConfig, i)
		}
		stageEnd, ok := addUint64(stageStart, stageCount)
		if !ok {
			return nil, fmt.Errorf("%w: stage %d end overflows", ErrConfig, i)
		}
		price := new(big.Int).Mul(increase, new(big.Int).SetUint64(i))
		price.Add(price, p.CommitPhasePrice)
		s.Stages = append(s.Stages, Stage{StartBlock: stageStart, EndBlock: stageEnd, TokenPrice: price})
	}
	return s, nil
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Stages = make([]Stage, len(s.Stages))
	for i, st := range s.Stages {
		clone.Stages[i] = Stage{StartBlock: st.StartBlock, EndBlock: st.EndBlock, TokenPrice: cloneBigInt(st.TokenPrice)}
	}
	return &clone
}

// StageCount returns the number of buy-phase stages (the commit phase excluded).
func (s *Schedule) StageCount() int { return len(s.Stages) - 1 }

// CommitPhaseStartBlock is the first block accepting contributions.
func (s *Schedule) CommitPhaseStartBlock() uint64 { return s.Stages[0].StartBlock }

// CommitPhaseEndBlock is the last block of stage 0, inclusive.
func (s *Schedule) CommitPhaseEndBlock() uint64 { return s.Stages[0].EndBlock }

// BuyPhaseStartBlock is the first block of stage 1, where unlocking begins.
func (s *Schedule) BuyPhaseStartBlock() uint64 { return s.Stages[1].StartBlock }

// BuyPhaseEndBlock is the last block of the sale; everything is unlocked
// from here on.
func (s *Schedule) BuyPhaseEndBlock() uint64 { return s.Stages[len(s.Stages)-1].EndBlock }

// Stage returns a copy of the stage with the given id.
func (s *Schedule) Stage(id int) (Stage, error) {
	if id < 0 || id >= len(s.Stages) {
		return Stage{}, fmt.Errorf("rico: unknown stage %d", id)
	}
	st := s.Stages[id]
	return Stage{StartBlock: st.StartBlock, EndBlock: st.EndBlock, TokenPrice: cloneBigInt(st.TokenPrice)}, nil
}

// InPeriod reports whether block lies within the commit or buy phase.
func (s *Schedule) InPeriod(block uint64) bool {
	return block >= s.CommitPhaseStartBlock() && block <= s.BuyPhaseEndBlock()
}

func (s *Schedule) validate() error {
	if s == nil || len(s.Stages) < 2 {
		return fmt.Errorf("%w: schedule needs a commit phase and at least one stage", ErrConfig)
	}
	for i := 1; i < len(s.Stages); i++ {
		if s.Stages[i].StartBlock != s.Stages[i-1].EndBlock+1 {
			return fmt.Errorf("%w: stage %d is not contiguous", ErrConfig, i)
		}
		if s.Stages[i].TokenPrice.Cmp(s.Stages[i-1].TokenPrice) < 0 {
			return fmt.Errorf("%w: stage %d price decreases", ErrConfig, i)
		}
	}
	return nil
}

func mulUint64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

func addUint64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}
