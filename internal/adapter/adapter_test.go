package adapter

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/pkg/units"
)

const (
	agentAddr  = "0x2222222222222222222222222222222222222222"
	tokenA     = "0x3333333333333333333333333333333333333333"
	tokenB     = "0x4444444444444444444444444444444444444444"
	routerAddr = "0x5555555555555555555555555555555555555555"
	vaultAddr  = "0x6666666666666666666666666666666666666666"
)

const routerCatalog = `
adapters:
  - name: Router-V2
    description: generic constant-product router
    types: [swap]
    risk: medium
    target: "0x5555555555555555555555555555555555555555"
    approve: true
    method: swapExactTokensForTokens
    args: [$amount_in, $min_amount_out, [$token_in, $token_out], $recipient, $deadline]
    networks: [mainnet]
    abi: |
      [{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable",
        "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
                  {"name":"path","type":"address[]"},{"name":"to","type":"address"},
                  {"name":"deadline","type":"uint256"}],
        "outputs":[{"name":"amounts","type":"uint256[]"}]}]
  - name: vault
    types: [deposit, withdraw]
    risk: low
    target: "0x6666666666666666666666666666666666666666"
    method: deposit
    args: [$token_in, $amount_in, $recipient, "0", true]
    abi: |
      [{"type":"function","name":"deposit","stateMutability":"nonpayable",
        "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
                  {"name":"onBehalfOf","type":"address"},{"name":"referral","type":"uint16"},
                  {"name":"flag","type":"bool"}],
        "outputs":[]}]
`

func swapIntent() *intent.Intent {
	return &intent.Intent{
		ID:        "i1",
		MandateID: "m1",
		Agent:     agentAddr,
		Type:      intent.TypeSwap,
		TokenIn:   tokenA,
		TokenOut:  tokenB,
		AmountIn:  units.FromUint64(1_000_000),
		Recipient: agentAddr,
		Deadline:  1_900_000_000,
	}
}

func loadTestCatalog(t *testing.T) *Registry {
	t.Helper()
	catalog, err := ParseCatalog([]byte(routerCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	registry, err := NewRegistry(TransferAdapter{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	for _, def := range catalog.Adapters {
		a, err := NewABIAdapter(def)
		if err != nil {
			t.Fatalf("adapter %s: %v", def.Name, err)
		}
		if err := registry.Register(a); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return registry
}

func TestABIAdapterBuildsApproveAndSwap(t *testing.T) {
	registry := loadTestCatalog(t)
	a, ok := registry.Get("router-v2")
	if !ok {
		t.Fatalf("adapter not registered, names=%v", registry.Names())
	}
	if a.Risk() != mandate.RiskMedium {
		t.Fatalf("unexpected risk %s", a.Risk())
	}

	calls, err := a.Build(context.Background(), BuildInput{
		Intent:       swapIntent(),
		MinAmountOut: units.FromUint64(990_000),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected approve + swap, got %d calls", len(calls))
	}

	approveMethod := erc20ABI.Methods["approve"]
	if calls[0].To != common.HexToAddress(tokenA) || !strings.HasPrefix(string(calls[0].Data), string(approveMethod.ID)) {
		t.Fatalf("first call should approve token_in: %+v", calls[0])
	}
	approveArgs, err := approveMethod.Inputs.Unpack(calls[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack approve: %v", err)
	}
	if approveArgs[0].(common.Address) != common.HexToAddress(routerAddr) {
		t.Fatalf("approve spender should be router, got %v", approveArgs[0])
	}

	abiAdapter := a.(*ABIAdapter)
	swapArgs, err := abiAdapter.method.Inputs.Unpack(calls[1].Data[4:])
	if err != nil {
		t.Fatalf("unpack swap: %v", err)
	}
	if swapArgs[1].(*big.Int).Uint64() != 990_000 {
		t.Fatalf("min out not bound, got %v", swapArgs[1])
	}
	path := swapArgs[2].([]common.Address)
	if len(path) != 2 || path[1] != common.HexToAddress(tokenB) {
		t.Fatalf("unexpected path %v", path)
	}
	if swapArgs[4].(*big.Int).Int64() != 1_900_000_000 {
		t.Fatalf("deadline not bound, got %v", swapArgs[4])
	}
}

func TestABIAdapterSmallIntegerAndLiteralBindings(t *testing.T) {
	registry := loadTestCatalog(t)
	a, _ := registry.Get("vault")
	in := swapIntent()
	in.Type = intent.TypeDeposit
	in.TokenOut = ""

	calls, err := a.Build(context.Background(), BuildInput{Intent: in})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(calls) != 1 || calls[0].To != common.HexToAddress(vaultAddr) {
		t.Fatalf("unexpected calls %+v", calls)
	}
	args, err := a.(*ABIAdapter).method.Inputs.Unpack(calls[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[3].(uint16) != 0 || args[4].(bool) != true {
		t.Fatalf("unexpected literal args %v", args)
	}
}

func TestNewABIAdapterRejectsBadDefinitions(t *testing.T) {
	catalog, err := ParseCatalog([]byte(routerCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base := catalog.Adapters[0]

	cases := map[string]func(*Definition){
		"missing method":  func(d *Definition) { d.Method = "swap" },
		"arity mismatch":  func(d *Definition) { d.Args = d.Args[:2] },
		"scalar for list": func(d *Definition) { d.Args[2] = Binding{Value: RefTokenIn} },
		"unknown ref":     func(d *Definition) { d.Args[3] = Binding{Value: "$owner"} },
		"bad target":      func(d *Definition) { d.Target = "router" },
		"bad type":        func(d *Definition) { d.Types = []string{"borrow"} },
		"bad risk":        func(d *Definition) { d.Risk = "wild" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := base
			def.Args = append([]Binding(nil), base.Args...)
			mutate(&def)
			if _, err := NewABIAdapter(def); !xerrors.HasCode(err, CodeAdapterConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestFitIntegerRanges(t *testing.T) {
	registry := loadTestCatalog(t)
	vault := registry.adapters["vault"].(*ABIAdapter)
	uint16Type := vault.method.Inputs[3].Type

	if _, err := fitInteger(big.NewInt(65_535), uint16Type); err != nil {
		t.Fatalf("max uint16 should fit: %v", err)
	}
	if _, err := fitInteger(big.NewInt(65_536), uint16Type); err == nil {
		t.Fatal("expected overflow")
	}
	if _, err := fitInteger(big.NewInt(-1), uint16Type); err == nil {
		t.Fatal("expected negative rejection")
	}
}

func TestTransferAdapter(t *testing.T) {
	in := swapIntent()
	in.Type = intent.TypeTransfer
	in.TokenOut = ""
	in.Recipient = vaultAddr

	calls, err := TransferAdapter{}.Build(context.Background(), BuildInput{Intent: in})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	args, err := erc20ABI.Methods["transfer"].Inputs.Unpack(calls[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != common.HexToAddress(vaultAddr) || args[1].(*big.Int).Uint64() != 1_000_000 {
		t.Fatalf("unexpected transfer args %v", args)
	}

	in.TokenIn = NativeToken.Hex()
	calls, err = TransferAdapter{}.Build(context.Background(), BuildInput{Intent: in})
	if err != nil {
		t.Fatalf("native build: %v", err)
	}
	if calls[0].To != common.HexToAddress(vaultAddr) || calls[0].Value.Uint64() != 1_000_000 || len(calls[0].Data) != 0 {
		t.Fatalf("unexpected native transfer %+v", calls[0])
	}
}

func TestRegistrySelect(t *testing.T) {
	registry := loadTestCatalog(t)

	a, err := registry.Select(intent.TypeSwap, "mainnet", nil)
	if err != nil || a.Name() != "router-v2" {
		t.Fatalf("expected router-v2, got %v %v", a, err)
	}
	if _, err := registry.Select(intent.TypeSwap, "sepolia", nil); !xerrors.HasCode(err, CodeAdapterNotFound) {
		t.Fatalf("network filter should exclude router, got %v", err)
	}
	_, err = registry.Select(intent.TypeDeposit, "", func(a Adapter) bool { return a.Name() != "vault" })
	if !xerrors.HasCode(err, CodeAdapterNotFound) {
		t.Fatalf("allow filter should exclude vault, got %v", err)
	}
	if err := registry.Register(TransferAdapter{}); !xerrors.HasCode(err, CodeAdapterConfig) {
		t.Fatalf("duplicate registration should fail, got %v", err)
	}
}

func TestCallJSONUsesHex(t *testing.T) {
	call := Call{To: common.HexToAddress(routerAddr), Data: []byte{0xab, 0xcd}, Value: big.NewInt(255)}
	encoded, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"data":"0xabcd"`) || !strings.Contains(string(encoded), `"value":"0xff"`) {
		t.Fatalf("unexpected json %s", encoded)
	}
	var decoded Call
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Value.Int64() != 255 || decoded.To != call.To {
		t.Fatalf("unexpected decoded call %+v", decoded)
	}
}

func TestLoadCatalogShippedConfig(t *testing.T) {
	registry, err := LoadCatalog("../../configs/adapters.yaml")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	want := []string{"aave-v3", "aave-v3-withdraw", TransferAdapterName, "uniswap-v2"}
	names := registry.Names()
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected adapters %v", names)
	}

	a, err := registry.Select(intent.TypeDeposit, "sepolia", nil)
	if err != nil || a.Name() != "aave-v3" {
		t.Fatalf("expected aave-v3 for deposits, got %v, %v", a, err)
	}
	if _, err := registry.Select(intent.TypeSwap, "base-sepolia", nil); err == nil {
		t.Fatal("uniswap-v2 is only deployed on sepolia")
	}
}
