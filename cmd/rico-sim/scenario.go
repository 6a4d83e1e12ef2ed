package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"rico/config"
	"rico/core"
	"rico/native/rico"
)

// Scenario is a scripted sequence of sale calls.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one scenario action. Addresses are hex or one of the role aliases
// deployer, controller and project.
type Step struct {
	Action      string        `yaml:"action"`
	Blocks      uint64        `yaml:"blocks"`
	Block       uint64        `yaml:"block"`
	From        string        `yaml:"from"`
	To          string        `yaml:"to"`
	Addresses   []string      `yaml:"addresses"`
	Amount      config.Amount `yaml:"amount"`
	ExpectError bool          `yaml:"expect_error"`
}

const (
	actionAdvance         = "advance"
	actionAt              = "at"
	actionCredit          = "credit"
	actionCommit          = "commit"
	actionWhitelist       = "whitelist"
	actionReject          = "reject"
	actionCancel          = "cancel"
	actionReturn          = "return"
	actionTransfer        = "transfer"
	actionProjectWithdraw = "project-withdraw"
)

var knownActions = map[string]struct{}{
	actionAdvance: {}, actionAt: {}, actionCredit: {}, actionCommit: {},
	actionWhitelist: {}, actionReject: {}, actionCancel: {}, actionReturn: {},
	actionTransfer: {}, actionProjectWithdraw: {},
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("scenario: no steps")
	}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		step.Action = strings.ToLower(strings.TrimSpace(step.Action))
		if _, ok := knownActions[step.Action]; !ok {
			return fmt.Errorf("scenario step %d: unknown action %q", i, step.Action)
		}
	}
	return nil
}

// StepResult reports the outcome of one step.
type StepResult struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	Block  uint64 `json:"block"`
	OK     bool   `json:"ok"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type runner struct {
	proc  *core.SaleProcessor
	roles rico.Roles
}

func (r *runner) resolve(name string) ([20]byte, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "deployer":
		return r.roles.Deployer, nil
	case "controller":
		return r.roles.WhitelistController, nil
	case "project":
		return r.roles.ProjectWallet, nil
	}
	if !common.IsHexAddress(name) {
		return [20]byte{}, fmt.Errorf("invalid address %q", name)
	}
	return [20]byte(common.HexToAddress(name)), nil
}

// run executes every step; a failing step does not stop the scenario.
func (r *runner) run(ctx context.Context, sc *Scenario) []StepResult {
	results := make([]StepResult, 0, len(sc.Steps))
	for i, step := range sc.Steps {
		res := StepResult{Index: i, Action: step.Action, Block: r.proc.CurrentBlock()}
		out, err := r.apply(ctx, step)
		res.Result = out
		if err != nil {
			res.Error = err.Error()
		}
		res.OK = (err != nil) == step.ExpectError
		results = append(results, res)
	}
	return results
}

func (r *runner) apply(ctx context.Context, step Step) (string, error) {
	switch step.Action {
	case actionAdvance:
		height, err := r.proc.Advance(step.Blocks)
		return fmt.Sprint(height), err
	case actionAt:
		return fmt.Sprint(step.Block), r.proc.SetBlock(step.Block)
	}

	from, err := r.resolve(step.From)
	if err != nil {
		return "", err
	}
	amount := step.Amount.Big()
	switch step.Action {
	case actionCredit:
		return "", r.proc.Credit(ctx, from, amount)
	case actionCommit:
		p, err := r.proc.Commit(ctx, from, amount)
		if err != nil {
			return "", err
		}
		return "pending " + p.PendingETH().String(), nil
	case actionWhitelist, actionReject:
		addrs := make([][20]byte, 0, len(step.Addresses))
		for _, raw := range step.Addresses {
			addr, err := r.resolve(raw)
			if err != nil {
				return "", err
			}
			addrs = append(addrs, addr)
		}
		return "", r.proc.Whitelist(ctx, from, addrs, step.Action == actionWhitelist)
	case actionCancel:
		refund, err := r.proc.Cancel(ctx, from)
		return bigString(refund), err
	case actionReturn:
		refund, err := r.proc.ReturnTokens(ctx, from, amount)
		return bigString(refund), err
	case actionTransfer:
		to, err := r.resolve(step.To)
		if err != nil {
			return "", err
		}
		return "", r.proc.TransferTokens(ctx, from, to, amount)
	case actionProjectWithdraw:
		remaining, err := r.proc.ProjectWithdraw(ctx, from, amount)
		return bigString(remaining), err
	}
	return "", fmt.Errorf("unknown action %q", step.Action)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
