package adapter

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/pkg/units"
)

const (
	CodeAdapterNotFound    xerrors.Code = "ADAPTER_NOT_FOUND"
	CodeAdapterBuildFailed xerrors.Code = "ADAPTER_BUILD_FAILED"
	CodeAdapterConfig      xerrors.Code = "ADAPTER_CONFIG_INVALID"
)

func init() {
	xerrors.Register(CodeAdapterNotFound, xerrors.Attributes{Message: "no adapter can serve the intent", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAdapterBuildFailed, xerrors.Attributes{Message: "adapter failed to build calls", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeAdapterConfig, xerrors.Attributes{Message: "adapter configuration is invalid", Severity: xerrors.SeverityCritical, Alert: true})
}

// Call 是一次待发送的合约调用。
type Call struct {
	To          common.Address
	Data        []byte
	Value       *big.Int
	Description string
}

type callJSON struct {
	To          common.Address `json:"to"`
	Data        hexutil.Bytes  `json:"data"`
	Value       *hexutil.Big   `json:"value"`
	Description string         `json:"description,omitempty"`
}

// MarshalJSON 以十六进制编码 data 与 value。
func (c Call) MarshalJSON() ([]byte, error) {
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}
	return json.Marshal(callJSON{
		To:          c.To,
		Data:        c.Data,
		Value:       (*hexutil.Big)(value),
		Description: c.Description,
	})
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (c *Call) UnmarshalJSON(data []byte) error {
	var raw callJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.To = raw.To
	c.Data = raw.Data
	c.Value = new(big.Int)
	if raw.Value != nil {
		c.Value = raw.Value.ToInt()
	}
	c.Description = raw.Description
	return nil
}

// BuildInput 是适配器构建调用所需的上下文。
type BuildInput struct {
	Intent       *intent.Intent
	Network      string
	SlippageBps  int
	MinAmountOut units.Amount
}

// Adapter 把某类意图翻译成特定协议的调用序列。
type Adapter interface {
	Name() string
	Supports(t intent.Type) bool
	Risk() mandate.RiskLevel
	Build(ctx context.Context, in BuildInput) ([]Call, error)
}

// NetworkAware 由只部署在部分网络上的适配器实现。
type NetworkAware interface {
	SupportsNetwork(network string) bool
}

func buildFailed(name string, err error) error {
	return xerrors.Wrap(CodeAdapterBuildFailed, err, "adapter "+name+" failed to build calls",
		xerrors.WithMetadata("adapter", name))
}
