package rico

import "math/big"

// Roles identifies the privileged addresses of a sale.
type Roles struct {
	Deployer            [20]byte `json:"deployer"`
	WhitelistController [20]byte `json:"whitelistController"`
	ProjectWallet       [20]byte `json:"projectWallet"`
}

// Sale is the immutable deployment record written once by Initialize.
type Sale struct {
	Address   [20]byte  `json:"address"`
	Roles     Roles     `json:"roles"`
	Schedule  *Schedule `json:"schedule"`
	InitBlock uint64    `json:"initBlock"`
}

// Clone returns a deep copy of the sale record.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Schedule = s.Schedule.Clone()
	return &clone
}

// Totals aggregates the sale-wide ETH counters. CommittedETH is cumulative;
// the committed ETH still held for participants is CommittedETH-WithdrawnETH.
type Totals struct {
	TotalReceivedETH       *big.Int `json:"totalReceivedETH"`
	CommittedETH           *big.Int `json:"committedETH"`
	WithdrawnETH           *big.Int `json:"withdrawnETH"`
	ReturnedETH            *big.Int `json:"returnedETH"`
	ProjectAllocatedETH    *big.Int `json:"projectAllocatedETH"`
	ProjectWithdrawnETH    *big.Int `json:"projectWithdrawnETH"`
	ProjectWithdrawCount   uint64   `json:"projectWithdrawCount"`
	ProjectCheckpointBlock uint64   `json:"projectCheckpointBlock"`
	ContributorCount       uint64   `json:"contributorCount"`
}

func newTotals() *Totals {
	return &Totals{
		TotalReceivedETH:    big.NewInt(0),
		CommittedETH:        big.NewInt(0),
		WithdrawnETH:        big.NewInt(0),
		ReturnedETH:         big.NewInt(0),
		ProjectAllocatedETH: big.NewInt(0),
		ProjectWithdrawnETH: big.NewInt(0),
	}
}

// Clone returns a deep copy of the totals.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return nil
	}
	clone := *t
	clone.TotalReceivedETH = cloneBigInt(t.TotalReceivedETH)
	clone.CommittedETH = cloneBigInt(t.CommittedETH)
	clone.WithdrawnETH = cloneBigInt(t.WithdrawnETH)
	clone.ReturnedETH = cloneBigInt(t.ReturnedETH)
	clone.ProjectAllocatedETH = cloneBigInt(t.ProjectAllocatedETH)
	clone.ProjectWithdrawnETH = cloneBigInt(t.ProjectWithdrawnETH)
	return &clone
}

// StageRecord holds the ETH and token accounting of a participant, either for
// a single stage or aggregated over all stages.
//
// ReservedTokens are provisional (awaiting whitelist acceptance) and were
// never sent. BoughtTokens were sent to the participant and are net of
// returns. LockedTokens is the part of BoughtTokens still locked as of the
// participant's checkpoint block.
type StageRecord struct {
	TotalReceivedETH *big.Int `json:"totalReceivedETH"`
	ReturnedETH      *big.Int `json:"returnedETH"`
	CommittedETH     *big.Int `json:"committedETH"`
	WithdrawnETH     *big.Int `json:"withdrawnETH"`
	AllocatedETH     *big.Int `json:"allocatedETH"`
	ReservedTokens   *big.Int `json:"reservedTokens"`
	BoughtTokens     *big.Int `json:"boughtTokens"`
	ReturnedTokens   *big.Int `json:"returnedTokens"`
	LockedTokens     *big.Int `json:"lockedTokens"`
}

func newStageRecord() StageRecord {
	return StageRecord{
		TotalReceivedETH: big.NewInt(0),
		ReturnedETH:      big.NewInt(0),
		CommittedETH:     big.NewInt(0),
		WithdrawnETH:     big.NewInt(0),
		AllocatedETH:     big.NewInt(0),
		ReservedTokens:   big.NewInt(0),
		BoughtTokens:     big.NewInt(0),
		ReturnedTokens:   big.NewInt(0),
		LockedTokens:     big.NewInt(0),
	}
}

// Clone returns a deep copy of the record.
func (r StageRecord) Clone() StageRecord {
	return StageRecord{
		TotalReceivedETH: cloneBigInt(r.TotalReceivedETH),
		ReturnedETH:      cloneBigInt(r.ReturnedETH),
		CommittedETH:     cloneBigInt(r.CommittedETH),
		WithdrawnETH:     cloneBigInt(r.WithdrawnETH),
		AllocatedETH:     cloneBigInt(r.AllocatedETH),
		ReservedTokens:   cloneBigInt(r.ReservedTokens),
		BoughtTokens:     cloneBigInt(r.BoughtTokens),
		ReturnedTokens:   cloneBigInt(r.ReturnedTokens),
		LockedTokens:     cloneBigInt(r.LockedTokens),
	}
}

// PendingETH is the received ETH that was neither committed nor returned yet.
func (r StageRecord) PendingETH() *big.Int {
	pending := cloneBigInt(r.TotalReceivedETH)
	pending.Sub(pending, bigOrZero(r.CommittedETH))
	pending.Sub(pending, bigOrZero(r.ReturnedETH))
	if pending.Sign() < 0 {
		return big.NewInt(0)
	}
	return pending
}

// Participant is the per-address sale record. ByStage has one entry per stage
// and Totals mirrors the sum over ByStage.
type Participant struct {
	Address            [20]byte      `json:"address"`
	Whitelisted        bool          `json:"whitelisted"`
	ContributionsCount uint64        `json:"contributionsCount"`
	CheckpointBlock    uint64        `json:"checkpointBlock"`
	UnlockedTokens     *big.Int      `json:"unlockedTokens"`
	Totals             StageRecord   `json:"totals"`
	ByStage            []StageRecord `json:"byStage"`
}

func newParticipant(addr [20]byte, stageCount int) *Participant {
	p := &Participant{
		Address:        addr,
		UnlockedTokens: big.NewInt(0),
		Totals:         newStageRecord(),
		ByStage:        make([]StageRecord, stageCount+1),
	}
	for i := range p.ByStage {
		p.ByStage[i] = newStageRecord()
	}
	return p
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	clone := *p
	clone.UnlockedTokens = cloneBigInt(p.UnlockedTokens)
	clone.Totals = p.Totals.Clone()
	clone.ByStage = make([]StageRecord, len(p.ByStage))
	for i := range p.ByStage {
		clone.ByStage[i] = p.ByStage[i].Clone()
	}
	return &clone
}

// PendingETH returns the participant's ETH still awaiting a whitelist decision.
func (p *Participant) PendingETH() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return p.Totals.PendingETH()
}

// normalize replaces nil amounts decoded from storage and pads ByStage to the
// schedule size.
func (p *Participant) normalize(stageCount int) {
	if p.UnlockedTokens == nil {
		p.UnlockedTokens = big.NewInt(0)
	}
	p.Totals = p.Totals.Clone()
	for len(p.ByStage) < stageCount+1 {
		p.ByStage = append(p.ByStage, newStageRecord())
	}
	for i := range p.ByStage {
		p.ByStage[i] = p.ByStage[i].Clone()
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
