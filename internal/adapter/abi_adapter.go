package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
)

// Definition 是 adapters.yaml 中的一个适配器条目。
type Definition struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Types       []string  `yaml:"types"`
	Risk        string    `yaml:"risk"`
	Target      string    `yaml:"target"`
	ABI         string    `yaml:"abi"`
	Method      string    `yaml:"method"`
	Args        []Binding `yaml:"args"`
	Approve     bool      `yaml:"approve"`
	Value       string    `yaml:"value"`
	Networks    []string  `yaml:"networks"`
}

// ABIAdapter 根据配置打包任意合约方法调用。
type ABIAdapter struct {
	name        string
	description string
	types       map[intent.Type]struct{}
	risk        mandate.RiskLevel
	target      common.Address
	abi         abi.ABI
	method      abi.Method
	args        []Binding
	approve     bool
	value       string
	networks    map[string]struct{}
}

// NewABIAdapter 校验定义并创建适配器，所有字面量绑定在此阶段即被检查。
func NewABIAdapter(def Definition) (*ABIAdapter, error) {
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" {
		return nil, configError(def.Name, "name is required")
	}
	if len(def.Types) == 0 {
		return nil, configError(name, "at least one intent type is required")
	}
	types := make(map[intent.Type]struct{}, len(def.Types))
	for _, raw := range def.Types {
		t, err := intent.ParseType(raw)
		if err != nil {
			return nil, configError(name, err.Error())
		}
		types[t] = struct{}{}
	}
	risk, err := mandate.ParseRiskLevel(def.Risk)
	if err != nil {
		return nil, configError(name, err.Error())
	}
	if !common.IsHexAddress(def.Target) {
		return nil, configError(name, fmt.Sprintf("target %q is not an address", def.Target))
	}
	parsed, err := abi.JSON(strings.NewReader(def.ABI))
	if err != nil {
		return nil, configError(name, "parse abi: "+err.Error())
	}
	method, ok := parsed.Methods[def.Method]
	if !ok {
		return nil, configError(name, fmt.Sprintf("method %q not found in abi", def.Method))
	}
	if len(def.Args) != len(method.Inputs) {
		return nil, configError(name, fmt.Sprintf("method %s takes %d arguments, %d bindings configured",
			method.Name, len(method.Inputs), len(def.Args)))
	}

	a := &ABIAdapter{
		name:        name,
		description: def.Description,
		types:       types,
		risk:        risk,
		target:      common.HexToAddress(def.Target),
		abi:         parsed,
		method:      method,
		args:        def.Args,
		approve:     def.Approve,
		value:       strings.TrimSpace(def.Value),
	}
	if len(def.Networks) > 0 {
		a.networks = make(map[string]struct{}, len(def.Networks))
		for _, n := range def.Networks {
			a.networks[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
		}
	}

	if _, _, err := a.pack(a.placeholderContext()); err != nil {
		return nil, configError(name, err.Error())
	}
	return a, nil
}

// Name 实现 Adapter 接口。
func (a *ABIAdapter) Name() string { return a.name }

// Description 返回配置中的描述。
func (a *ABIAdapter) Description() string { return a.description }

// Target 返回目标合约地址。
func (a *ABIAdapter) Target() common.Address { return a.target }

// Supports 实现 Adapter 接口。
func (a *ABIAdapter) Supports(t intent.Type) bool {
	_, ok := a.types[t]
	return ok
}

// Risk 实现 Adapter 接口。
func (a *ABIAdapter) Risk() mandate.RiskLevel { return a.risk }

// SupportsNetwork 实现 NetworkAware，未配置网络时不限制。
func (a *ABIAdapter) SupportsNetwork(network string) bool {
	if len(a.networks) == 0 {
		return true
	}
	_, ok := a.networks[strings.ToLower(strings.TrimSpace(network))]
	return ok
}

// Build 实现 Adapter 接口。
func (a *ABIAdapter) Build(_ context.Context, in BuildInput) ([]Call, error) {
	if in.Intent == nil {
		return nil, buildFailed(a.name, fmt.Errorf("intent is required"))
	}
	if !a.Supports(in.Intent.Type) {
		return nil, buildFailed(a.name, fmt.Errorf("intent type %s is not supported", in.Intent.Type))
	}
	ctx := a.contextFor(in)
	data, value, err := a.pack(ctx)
	if err != nil {
		return nil, buildFailed(a.name, err)
	}

	calls := make([]Call, 0, 2)
	tokenIn := common.HexToAddress(in.Intent.TokenIn)
	if a.approve && in.Intent.TokenIn != "" && tokenIn != NativeToken {
		approval, err := ApproveCall(tokenIn, a.target, in.Intent.AmountIn.Big())
		if err != nil {
			return nil, buildFailed(a.name, err)
		}
		calls = append(calls, approval)
	}
	calls = append(calls, Call{
		To:          a.target,
		Data:        data,
		Value:       value,
		Description: fmt.Sprintf("%s.%s via %s", a.target.Hex(), a.method.Name, a.name),
	})
	return calls, nil
}

func (a *ABIAdapter) pack(ctx *bindContext) ([]byte, *big.Int, error) {
	values := make([]any, len(a.method.Inputs))
	for i, input := range a.method.Inputs {
		v, err := convert(a.args[i], input.Type, ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("argument %d (%s): %w", i, input.Name, err)
		}
		values[i] = v
	}
	data, err := a.abi.Pack(a.method.Name, values...)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s: %w", a.method.Name, err)
	}
	value := new(big.Int)
	if a.value != "" {
		if value, err = ctx.integer(a.value); err != nil {
			return nil, nil, fmt.Errorf("value: %w", err)
		}
		if value.Sign() < 0 {
			return nil, nil, fmt.Errorf("value must not be negative")
		}
	}
	return data, value, nil
}

func (a *ABIAdapter) contextFor(in BuildInput) *bindContext {
	it := in.Intent
	return &bindContext{
		addresses: map[string]common.Address{
			RefTokenIn:   common.HexToAddress(it.TokenIn),
			RefTokenOut:  common.HexToAddress(it.TokenOut),
			RefRecipient: common.HexToAddress(it.Recipient),
			RefAgent:     common.HexToAddress(it.Agent),
			RefTarget:    a.target,
		},
		integers: map[string]*big.Int{
			RefAmountIn:     it.AmountIn.Big(),
			RefMinAmountOut: in.MinAmountOut.Big(),
			RefDeadline:     big.NewInt(it.Deadline),
		},
	}
}

func (a *ABIAdapter) placeholderContext() *bindContext {
	one := common.BigToAddress(big.NewInt(1))
	return &bindContext{
		addresses: map[string]common.Address{
			RefTokenIn: one, RefTokenOut: one, RefRecipient: one, RefAgent: one, RefTarget: a.target,
		},
		integers: map[string]*big.Int{
			RefAmountIn: big.NewInt(1), RefMinAmountOut: big.NewInt(1), RefDeadline: big.NewInt(1),
		},
	}
}

func configError(name, message string) error {
	return xerrors.New(CodeAdapterConfig, fmt.Sprintf("adapter %q: %s", name, message),
		xerrors.WithMetadata("adapter", name))
}

var (
	_ Adapter      = (*ABIAdapter)(nil)
	_ NetworkAware = (*ABIAdapter)(nil)
)
