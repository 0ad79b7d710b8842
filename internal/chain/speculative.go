package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"LendingLedger/internal/address"
)

// Effect is one execution effect: a key and its transform, normalized from
// both the 1.x ("transforms") and 2.x ("effects") result shapes.
type Effect struct {
	Key       string          `json:"key"`
	Transform json.RawMessage `json:"transform"`
}

// ExecutionOutcome is the result of a speculative execution. A chain-side
// failure is reported here with Success false, not as an error.
type ExecutionOutcome struct {
	Success      bool
	ErrorMessage string
	Cost         string
	Effects      []Effect
	Raw          json.RawMessage
}

// CallResult is the outcome of a speculative contract call.
type CallResult struct {
	Raw           json.RawMessage `json:"raw"`
	Success       bool            `json:"success"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	CLValue       *CLValueJSON    `json:"clValue,omitempty"`
	CLValueString string          `json:"clValueString,omitempty"`
}

// Invoker builds, signs and sends deploys. Speculative executions go to the
// speculative endpoint, real submissions to the main one.
type Invoker struct {
	main        Caller
	speculative Caller
	signer      Signer
	chainName   string
	payment     *big.Int
	now         func() time.Time
}

// InvokerConfig configures an Invoker. Speculative defaults to Main and
// Payment to DefaultSpeculativePayment.
type InvokerConfig struct {
	Main        Caller
	Speculative Caller
	Signer      Signer
	ChainName   string
	Payment     *big.Int
	Now         func() time.Time
}

func NewInvoker(cfg InvokerConfig) *Invoker {
	inv := &Invoker{
		main:        cfg.Main,
		speculative: cfg.Speculative,
		signer:      cfg.Signer,
		chainName:   cfg.ChainName,
		payment:     cfg.Payment,
		now:         cfg.Now,
	}
	if inv.speculative == nil {
		inv.speculative = cfg.Main
	}
	if inv.payment == nil {
		inv.payment = DefaultSpeculativePayment
	}
	if inv.now == nil {
		inv.now = time.Now
	}
	return inv
}

// Signer returns the key the invoker signs with.
func (inv *Invoker) Signer() Signer {
	return inv.signer
}

// BuildDeploy builds and signs a deploy calling entryPoint on contract.
// A nil payment uses the invoker's default.
func (inv *Invoker) BuildDeploy(contract address.Identity, entryPoint string, args RuntimeArgs, payment *big.Int) (*Deploy, error) {
	if inv.signer == nil {
		return nil, fmt.Errorf("%w: no signing key configured", ErrKeyLoad)
	}
	if payment == nil {
		payment = inv.payment
	}
	return BuildDeploy(inv.signer, inv.chainName, contract, entryPoint, args, payment, inv.now())
}

// SpeculativeExecute runs deploy without committing it. Transport and RPC
// failures return ErrSpeculativeCallFailed.
func (inv *Invoker) SpeculativeExecute(ctx context.Context, deploy *Deploy) (*ExecutionOutcome, error) {
	var raw json.RawMessage
	if err := inv.speculative.Call(ctx, "speculative_exec", map[string]any{"deploy": deploy}, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpeculativeCallFailed, err)
	}
	outcome, err := parseExecutionOutcome(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpeculativeCallFailed, err)
	}
	return outcome, nil
}

// PutDeploy submits deploy to the main endpoint and returns its hash.
func (inv *Invoker) PutDeploy(ctx context.Context, deploy *Deploy) (string, error) {
	var res struct {
		DeployHash string `json:"deploy_hash"`
	}
	if err := inv.main.Call(ctx, "account_put_deploy", map[string]any{"deploy": deploy}, &res); err != nil {
		return "", fmt.Errorf("put deploy: %w", err)
	}
	if res.DeployHash == "" {
		return deploy.Hash, nil
	}
	return res.DeployHash, nil
}

// Submit builds, signs and puts a deploy.
func (inv *Invoker) Submit(ctx context.Context, contract address.Identity, entryPoint string, args RuntimeArgs, payment *big.Int) (string, error) {
	deploy, err := inv.BuildDeploy(contract, entryPoint, args, payment)
	if err != nil {
		return "", err
	}
	return inv.PutDeploy(ctx, deploy)
}

// Call speculatively executes entryPoint on contract and extracts the first
// written value, if any.
func (inv *Invoker) Call(ctx context.Context, contract address.Identity, entryPoint string, args RuntimeArgs) (*CallResult, error) {
	deploy, err := inv.BuildDeploy(contract, entryPoint, args, nil)
	if err != nil {
		return nil, err
	}
	outcome, err := inv.SpeculativeExecute(ctx, deploy)
	if err != nil {
		return nil, err
	}

	res := &CallResult{
		Raw:          outcome.Raw,
		Success:      outcome.Success,
		ErrorMessage: outcome.ErrorMessage,
	}
	if v, ok := ExtractWrittenValue(outcome); ok {
		res.CLValue = v
		res.CLValueString = v.String()
	}
	return res, nil
}

// ExtractWrittenValue returns the first effect that writes a CLValue.
func ExtractWrittenValue(outcome *ExecutionOutcome) (*CLValueJSON, bool) {
	if outcome == nil {
		return nil, false
	}
	for _, eff := range outcome.Effects {
		var t map[string]json.RawMessage
		if err := json.Unmarshal(eff.Transform, &t); err != nil {
			continue
		}
		if raw, ok := t["WriteCLValue"]; ok {
			if v, ok := decodeCLValue(raw); ok {
				return v, true
			}
			continue
		}
		if raw, ok := t["Write"]; ok {
			var w map[string]json.RawMessage
			if err := json.Unmarshal(raw, &w); err != nil {
				continue
			}
			if inner, ok := w["CLValue"]; ok {
				if v, ok := decodeCLValue(inner); ok {
					return v, true
				}
			}
		}
	}
	return nil, false
}

func decodeCLValue(raw json.RawMessage) (*CLValueJSON, bool) {
	var v CLValueJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// executionResult covers the 1.x {Success|Failure: {effect: {transforms}}}
// shape and the 2.x {error_message, effects: [{key, kind}]} shape, with or
// without a Version1/Version2 wrapper.
type executionResult struct {
	Success  *v1Result `json:"Success"`
	Failure  *v1Result `json:"Failure"`
	Version1 *executionResult `json:"Version1"`
	Version2 *executionResult `json:"Version2"`

	ErrorMessage *string `json:"error_message"`
	Cost         any     `json:"cost"`
	Effects      []struct {
		Key  string          `json:"key"`
		Kind json.RawMessage `json:"kind"`
	} `json:"effects"`
}

type v1Result struct {
	Effect struct {
		Transforms []Effect `json:"transforms"`
	} `json:"effect"`
	ErrorMessage string `json:"error_message"`
	Cost         any    `json:"cost"`
}

func parseExecutionOutcome(raw json.RawMessage) (*ExecutionOutcome, error) {
	var body struct {
		ExecutionResult *executionResult `json:"execution_result"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode execution result: %w", err)
	}
	if body.ExecutionResult == nil {
		return nil, fmt.Errorf("response has no execution_result")
	}

	out := &ExecutionOutcome{Raw: raw}
	r := body.ExecutionResult
	for r.Version1 != nil || r.Version2 != nil {
		if r.Version2 != nil {
			r = r.Version2
		} else {
			r = r.Version1
		}
	}

	switch {
	case r.Success != nil:
		out.Success = true
		out.Cost = costString(r.Success.Cost)
		out.Effects = r.Success.Effect.Transforms
	case r.Failure != nil:
		out.ErrorMessage = r.Failure.ErrorMessage
		out.Cost = costString(r.Failure.Cost)
		out.Effects = r.Failure.Effect.Transforms
	default:
		out.Success = r.ErrorMessage == nil || *r.ErrorMessage == ""
		if r.ErrorMessage != nil {
			out.ErrorMessage = *r.ErrorMessage
		}
		out.Cost = costString(r.Cost)
		for _, e := range r.Effects {
			out.Effects = append(out.Effects, Effect{Key: e.Key, Transform: e.Kind})
		}
	}
	return out, nil
}

func costString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
