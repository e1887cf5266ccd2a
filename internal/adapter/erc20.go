package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
)

const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

// NativeToken 是表示链原生资产的约定地址。
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// ApproveCall 构造 ERC-20 approve(spender, amount) 调用。
func ApproveCall(token, spender common.Address, amount *big.Int) (Call, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return Call{}, err
	}
	return Call{
		To:          token,
		Data:        data,
		Value:       new(big.Int),
		Description: fmt.Sprintf("approve %s to spend %s", spender.Hex(), amount),
	}, nil
}

// TransferAdapter 是内置的转账适配器：ERC-20 走 transfer，原生资产直接转账。
type TransferAdapter struct{}

// TransferAdapterName 是内置转账适配器的名称。
const TransferAdapterName = "erc20-transfer"

// Name 实现 Adapter 接口。
func (TransferAdapter) Name() string { return TransferAdapterName }

// Supports 实现 Adapter 接口。
func (TransferAdapter) Supports(t intent.Type) bool { return t == intent.TypeTransfer }

// Risk 实现 Adapter 接口。
func (TransferAdapter) Risk() mandate.RiskLevel { return mandate.RiskLow }

// Build 实现 Adapter 接口。
func (a TransferAdapter) Build(_ context.Context, in BuildInput) ([]Call, error) {
	if in.Intent == nil {
		return nil, buildFailed(a.Name(), fmt.Errorf("intent is required"))
	}
	token := common.HexToAddress(in.Intent.TokenIn)
	recipient := common.HexToAddress(in.Intent.Recipient)
	amount := in.Intent.AmountIn.Big()

	if token == NativeToken {
		return []Call{{
			To:          recipient,
			Value:       amount,
			Description: fmt.Sprintf("transfer %s wei to %s", amount, recipient.Hex()),
		}}, nil
	}

	data, err := erc20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return nil, buildFailed(a.Name(), err)
	}
	return []Call{{
		To:          token,
		Data:        data,
		Value:       new(big.Int),
		Description: fmt.Sprintf("transfer %s of %s to %s", amount, token.Hex(), recipient.Hex()),
	}}, nil
}

var _ Adapter = TransferAdapter{}
