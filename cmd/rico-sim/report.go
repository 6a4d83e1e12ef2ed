package main

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rico/core"
)

// Report is the JSON document printed after a run.
type Report struct {
	Scenario     string              `json:"scenario"`
	Sale         string              `json:"sale"`
	Block        uint64              `json:"block"`
	Stage        int                 `json:"stage"`
	Failed       int                 `json:"failed"`
	Steps        []StepResult        `json:"steps"`
	Totals       totalsReport        `json:"totals"`
	Participants []participantReport `json:"participants"`
}

type totalsReport struct {
	TotalReceivedETH    string `json:"totalReceivedETH"`
	CommittedETH        string `json:"committedETH"`
	WithdrawnETH        string `json:"withdrawnETH"`
	ReturnedETH         string `json:"returnedETH"`
	ProjectWithdrawnETH string `json:"projectWithdrawnETH"`
	ProjectAvailableETH string `json:"projectAvailableETH"`
	Contributors        uint64 `json:"contributors"`
	TokenSupply         string `json:"tokenSupply"`
	SaleTokenBalance    string `json:"saleTokenBalance"`
	SaleETHBalance      string `json:"saleETHBalance"`
}

type participantReport struct {
	Address        string `json:"address"`
	Whitelisted    bool   `json:"whitelisted"`
	PendingETH     string `json:"pendingETH"`
	CommittedETH   string `json:"committedETH"`
	WithdrawnETH   string `json:"withdrawnETH"`
	TokenBalance   string `json:"tokenBalance"`
	LockedTokens   string `json:"lockedTokens"`
	UnlockedTokens string `json:"unlockedTokens"`
	ETHBalance     string `json:"ethBalance"`
}

func buildReport(proc *core.SaleProcessor, name string, steps []StepResult) (*Report, error) {
	report := &Report{Scenario: name, Block: proc.CurrentBlock(), Steps: steps, Stage: -1}
	for _, step := range steps {
		if !step.OK {
			report.Failed++
		}
	}
	sale, err := proc.Sale()
	if err != nil {
		return nil, err
	}
	report.Sale = common.Address(sale.Address).Hex()
	if stage, err := sale.Schedule.StageAtBlock(report.Block); err == nil {
		report.Stage = stage
	}

	totals, err := proc.Totals()
	if err != nil {
		return nil, err
	}
	available, err := proc.AvailableProjectETH()
	if err != nil {
		return nil, err
	}
	saleTokens, err := proc.TokenBalance(sale.Address)
	if err != nil {
		return nil, err
	}
	supply, err := proc.TokenSupply()
	if err != nil {
		return nil, err
	}
	saleAcc, err := proc.Account(sale.Address)
	if err != nil {
		return nil, err
	}
	report.Totals = totalsReport{
		TotalReceivedETH:    str(totals.TotalReceivedETH),
		CommittedETH:        str(totals.CommittedETH),
		WithdrawnETH:        str(totals.WithdrawnETH),
		ReturnedETH:         str(totals.ReturnedETH),
		ProjectWithdrawnETH: str(totals.ProjectWithdrawnETH),
		ProjectAvailableETH: str(available),
		Contributors:        totals.ContributorCount,
		TokenSupply:         str(supply),
		SaleTokenBalance:    str(saleTokens),
		SaleETHBalance:      str(saleAcc.Balance),
	}

	addrs, err := proc.Participants()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		p, err := proc.Participant(addr)
		if err != nil {
			return nil, err
		}
		balance, err := proc.TokenBalance(addr)
		if err != nil {
			return nil, err
		}
		locked, err := proc.LockedTokens(addr)
		if err != nil {
			return nil, err
		}
		unlocked, err := proc.UnlockedBalance(addr)
		if err != nil {
			return nil, err
		}
		acc, err := proc.Account(addr)
		if err != nil {
			return nil, err
		}
		report.Participants = append(report.Participants, participantReport{
			Address:        common.Address(addr).Hex(),
			Whitelisted:    p.Whitelisted,
			PendingETH:     str(p.PendingETH()),
			CommittedETH:   str(p.Totals.CommittedETH),
			WithdrawnETH:   str(p.Totals.WithdrawnETH),
			TokenBalance:   str(balance),
			LockedTokens:   str(locked),
			UnlockedTokens: str(unlocked),
			ETHBalance:     str(acc.Balance),
		})
	}
	return report, nil
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
