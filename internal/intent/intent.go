package intent

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/pkg/units"
)

// Type 表示意图的动作类型。
type Type string

const (
	TypeSwap     Type = "swap"
	TypeDeposit  Type = "deposit"
	TypeWithdraw Type = "withdraw"
	TypeTransfer Type = "transfer"
)

// Types 返回全部支持的意图类型。
func Types() []Type {
	return []Type{TypeSwap, TypeDeposit, TypeWithdraw, TypeTransfer}
}

// ParseType 解析意图类型，大小写不敏感。
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if t.Valid() {
		return t, nil
	}
	return "", xerrors.New(CodeIntentInvalid, fmt.Sprintf("unsupported intent type %q", raw),
		xerrors.WithMetadata("field", "type"))
}

// Valid 判断类型是否受支持。
func (t Type) Valid() bool {
	switch t {
	case TypeSwap, TypeDeposit, TypeWithdraw, TypeTransfer:
		return true
	default:
		return false
	}
}

const (
	CodeIntentInvalid xerrors.Code = "INTENT_INVALID"
	CodeIntentExpired xerrors.Code = "INTENT_EXPIRED"
)

func init() {
	xerrors.Register(CodeIntentInvalid, xerrors.Attributes{
		Message:  "intent validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeIntentExpired, xerrors.Attributes{
		Message:  "intent deadline has passed",
		Severity: xerrors.SeverityInfo,
	})
}

// Intent 是代理提交的声明式金融动作。
type Intent struct {
	ID                string            `json:"id,omitempty"`
	MandateID         string            `json:"mandate_id"`
	Agent             string            `json:"agent"`
	Type              Type              `json:"type"`
	Protocol          string            `json:"protocol,omitempty"`
	TokenIn           string            `json:"token_in,omitempty"`
	TokenOut          string            `json:"token_out,omitempty"`
	AmountIn          units.Amount      `json:"amount_in"`
	ExpectedAmountOut units.Amount      `json:"expected_amount_out"`
	MinAmountOut      units.Amount      `json:"min_amount_out"`
	SlippageBps       *int              `json:"slippage_bps,omitempty"`
	Recipient         string            `json:"recipient,omitempty"`
	Deadline          int64             `json:"deadline,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Decode 严格解析 JSON 意图，拒绝未知字段。
func Decode(r io.Reader) (*Intent, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	var in Intent
	if err := decoder.Decode(&in); err != nil {
		return nil, xerrors.Wrap(CodeIntentInvalid, err, "decode intent")
	}
	return &in, nil
}

// Normalize 整理字段：裁剪空白、统一类型大小写、地址转为校验和格式，
// 并为缺省的 Recipient 与 Deadline 补默认值。
func (in *Intent) Normalize(now time.Time, defaultTTL time.Duration) {
	in.ID = strings.TrimSpace(in.ID)
	in.MandateID = strings.TrimSpace(in.MandateID)
	in.Type = Type(strings.ToLower(strings.TrimSpace(string(in.Type))))
	in.Protocol = strings.ToLower(strings.TrimSpace(in.Protocol))
	in.Agent = checksum(in.Agent)
	in.TokenIn = checksum(in.TokenIn)
	in.TokenOut = checksum(in.TokenOut)
	in.Recipient = checksum(in.Recipient)
	if in.Recipient == "" {
		in.Recipient = in.Agent
	}
	if in.Deadline == 0 && defaultTTL > 0 {
		in.Deadline = now.Add(defaultTTL).Unix()
	}
}

// Validate 检查结构性规则，不涉及授权书约束。
func (in *Intent) Validate(now time.Time) error {
	if in == nil {
		return xerrors.New(CodeIntentInvalid, "intent is required")
	}
	if in.MandateID == "" {
		return invalid("mandate_id", "mandate_id is required")
	}
	if !in.Type.Valid() {
		return invalid("type", fmt.Sprintf("unsupported intent type %q", in.Type))
	}
	if err := requireAddress("agent", in.Agent); err != nil {
		return err
	}
	if in.AmountIn.IsZero() {
		return invalid("amount_in", "amount_in must be greater than zero")
	}
	if err := requireAddress("token_in", in.TokenIn); err != nil {
		return err
	}

	switch in.Type {
	case TypeSwap:
		if err := requireAddress("token_out", in.TokenOut); err != nil {
			return err
		}
		if strings.EqualFold(in.TokenIn, in.TokenOut) {
			return invalid("token_out", "token_in and token_out must differ")
		}
	case TypeTransfer:
		if err := requireAddress("recipient", in.Recipient); err != nil {
			return err
		}
		if in.TokenOut != "" {
			return invalid("token_out", "transfer does not take token_out")
		}
	default:
		if in.TokenOut != "" {
			return invalid("token_out", fmt.Sprintf("%s does not take token_out", in.Type))
		}
	}
	if in.Recipient != "" && !common.IsHexAddress(in.Recipient) {
		return invalid("recipient", "recipient is not a valid address")
	}

	if in.SlippageBps != nil && (*in.SlippageBps < 0 || *in.SlippageBps > units.BpsDenominator) {
		return invalid("slippage_bps", "slippage_bps must be within 0..10000")
	}
	if !in.MinAmountOut.IsZero() && !in.ExpectedAmountOut.IsZero() && in.MinAmountOut.Cmp(in.ExpectedAmountOut) > 0 {
		return invalid("min_amount_out", "min_amount_out exceeds expected_amount_out")
	}
	if in.Deadline > 0 && in.Deadline <= now.Unix() {
		return xerrors.New(CodeIntentExpired, fmt.Sprintf("deadline %d already passed", in.Deadline),
			xerrors.WithMetadata("field", "deadline"))
	}
	return nil
}

// Slippage 返回意图的滑点，未指定时使用 fallback。
func (in *Intent) Slippage(fallback int) int {
	if in.SlippageBps != nil {
		return *in.SlippageBps
	}
	return fallback
}

// MinOut 计算最小可接受输出：优先使用显式 MinAmountOut，
// 否则由 ExpectedAmountOut 按滑点折算，两者都缺省时为 0。
func (in *Intent) MinOut(slippageBps int) units.Amount {
	if !in.MinAmountOut.IsZero() {
		return in.MinAmountOut
	}
	if in.ExpectedAmountOut.IsZero() {
		return units.Amount{}
	}
	return in.ExpectedAmountOut.MulBps(units.BpsDenominator - slippageBps)
}

// Tokens 返回该意图涉及的全部代币地址。
func (in *Intent) Tokens() []string {
	tokens := make([]string, 0, 2)
	if in.TokenIn != "" {
		tokens = append(tokens, in.TokenIn)
	}
	if in.TokenOut != "" {
		tokens = append(tokens, in.TokenOut)
	}
	return tokens
}

// Clone 返回深拷贝。
func (in *Intent) Clone() *Intent {
	if in == nil {
		return nil
	}
	out := *in
	if in.SlippageBps != nil {
		v := *in.SlippageBps
		out.SlippageBps = &v
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Checksum 将地址规范化为 EIP-55 格式，非法地址原样返回（去除空白）。
func Checksum(addr string) string {
	return checksum(addr)
}

func checksum(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}

func requireAddress(field, value string) error {
	if value == "" {
		return invalid(field, field+" is required")
	}
	if !common.IsHexAddress(value) {
		return invalid(field, fmt.Sprintf("%s %q is not a valid address", field, value))
	}
	if common.HexToAddress(value) == (common.Address{}) {
		return invalid(field, field+" must not be the zero address")
	}
	return nil
}

func invalid(field, message string) error {
	return xerrors.New(CodeIntentInvalid, message, xerrors.WithMetadata("field", field))
}
