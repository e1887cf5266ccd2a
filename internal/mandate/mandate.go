package mandate

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/pkg/units"
)

// RiskLevel 表示授权书允许的协议风险等级，low < medium < high。
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel 解析风险等级，空值视为 low。
func ParseRiskLevel(raw string) (RiskLevel, error) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(raw)))
	if level == "" {
		return RiskLow, nil
	}
	if level.Rank() == 0 {
		return "", fmt.Errorf("unknown risk level %q", raw)
	}
	return level, nil
}

// Rank 返回风险等级的序数，未知等级返回 0。
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Permits 判断当前等级是否覆盖 other。
func (r RiskLevel) Permits(other RiskLevel) bool {
	return other.Rank() > 0 && other.Rank() <= r.Rank()
}

// Status 表示授权书状态。
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

const (
	CodeMandateNotFound xerrors.Code = "MANDATE_NOT_FOUND"
	CodeMandateInvalid  xerrors.Code = "MANDATE_INVALID"
	CodeMandateConflict xerrors.Code = "MANDATE_CONFLICT"
	CodeMandateInactive xerrors.Code = "MANDATE_INACTIVE"
	CodeBudgetExceeded  xerrors.Code = "RISK_BUDGET_EXCEEDED"
)

var (
	// ErrMandateNotFound 表示授权书不存在。
	ErrMandateNotFound = xerrors.New(CodeMandateNotFound, "mandate not found")
	// ErrMandateConflict 表示授权书 ID 已被占用。
	ErrMandateConflict = xerrors.New(CodeMandateConflict, "mandate already exists")
	// ErrBudgetExceeded 表示当日风险额度不足。
	ErrBudgetExceeded = xerrors.New(CodeBudgetExceeded, "daily risk budget exceeded")
)

func init() {
	xerrors.Register(CodeMandateNotFound, xerrors.Attributes{Message: "mandate not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeMandateInvalid, xerrors.Attributes{Message: "mandate validation failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeMandateConflict, xerrors.Attributes{Message: "mandate already exists", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeMandateInactive, xerrors.Attributes{Message: "mandate is revoked or expired", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeBudgetExceeded, xerrors.Attributes{Message: "daily risk budget exceeded", Severity: xerrors.SeverityWarning})
}

// Mandate 是所有者为交易代理设置的策略对象。
type Mandate struct {
	ID                 string            `json:"id"`
	Owner              string            `json:"owner"`
	Agent              string            `json:"agent"`
	Network            string            `json:"network,omitempty"`
	MaxSpendPerIntent  units.Amount      `json:"max_spend_per_intent"`
	DailySpendLimit    units.Amount      `json:"daily_spend_limit"`
	AllowedTokens      []string          `json:"allowed_tokens,omitempty"`
	AllowedProtocols   []string          `json:"allowed_protocols,omitempty"`
	AllowedIntentTypes []intent.Type     `json:"allowed_intent_types,omitempty"`
	RiskLevel          RiskLevel         `json:"risk_level"`
	MaxSlippageBps     int               `json:"max_slippage_bps"`
	ExpiresAt          int64             `json:"expires_at,omitempty"`
	Status             Status            `json:"status"`
	RevokeReason       string            `json:"revoke_reason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          int64             `json:"created_at"`
	UpdatedAt          int64             `json:"updated_at"`
}

// Validate 检查授权书字段合法性。
func (m *Mandate) Validate() error {
	if m == nil {
		return invalid("mandate", "mandate is required")
	}
	if strings.TrimSpace(m.ID) == "" {
		return invalid("id", "id is required")
	}
	if err := validAddress("owner", m.Owner); err != nil {
		return err
	}
	if err := validAddress("agent", m.Agent); err != nil {
		return err
	}
	if m.MaxSpendPerIntent.IsZero() {
		return invalid("max_spend_per_intent", "max_spend_per_intent must be greater than zero")
	}
	if !m.DailySpendLimit.IsZero() && m.DailySpendLimit.Cmp(m.MaxSpendPerIntent) < 0 {
		return invalid("daily_spend_limit", "daily_spend_limit must not be lower than max_spend_per_intent")
	}
	for _, token := range m.AllowedTokens {
		if err := validAddress("allowed_tokens", token); err != nil {
			return err
		}
	}
	for _, protocol := range m.AllowedProtocols {
		if strings.TrimSpace(protocol) == "" {
			return invalid("allowed_protocols", "protocol names must not be empty")
		}
	}
	for _, t := range m.AllowedIntentTypes {
		if !t.Valid() {
			return invalid("allowed_intent_types", fmt.Sprintf("unsupported intent type %q", t))
		}
	}
	if m.RiskLevel.Rank() == 0 {
		return invalid("risk_level", fmt.Sprintf("unknown risk level %q", m.RiskLevel))
	}
	if m.MaxSlippageBps < 0 || m.MaxSlippageBps > units.BpsDenominator {
		return invalid("max_slippage_bps", "max_slippage_bps must be within 0..10000")
	}
	if m.ExpiresAt < 0 {
		return invalid("expires_at", "expires_at must not be negative")
	}
	switch m.Status {
	case StatusActive, StatusRevoked:
	default:
		return invalid("status", fmt.Sprintf("unknown status %q", m.Status))
	}
	return nil
}

// Active 判断授权书在 now 时刻是否有效。
func (m *Mandate) Active(now time.Time) bool {
	if m == nil || m.Status != StatusActive {
		return false
	}
	return m.ExpiresAt == 0 || now.Unix() < m.ExpiresAt
}

// CheckActive 返回授权书不可用的具体原因。
func (m *Mandate) CheckActive(now time.Time) error {
	if m.Status == StatusRevoked {
		return xerrors.New(CodeMandateInactive, fmt.Sprintf("mandate %s has been revoked", m.ID))
	}
	if m.ExpiresAt != 0 && now.Unix() >= m.ExpiresAt {
		return xerrors.New(CodeMandateInactive, fmt.Sprintf("mandate %s expired at %d", m.ID, m.ExpiresAt))
	}
	return nil
}

// AllowsToken 判断代币是否在白名单内，白名单为空表示不限制。
func (m *Mandate) AllowsToken(token string) bool {
	if len(m.AllowedTokens) == 0 {
		return true
	}
	for _, allowed := range m.AllowedTokens {
		if strings.EqualFold(allowed, token) {
			return true
		}
	}
	return false
}

// AllowsProtocol 判断适配器是否在白名单内。
func (m *Mandate) AllowsProtocol(name string) bool {
	if len(m.AllowedProtocols) == 0 {
		return true
	}
	for _, allowed := range m.AllowedProtocols {
		if strings.EqualFold(allowed, name) {
			return true
		}
	}
	return false
}

// AllowsType 判断意图类型是否被允许。
func (m *Mandate) AllowsType(t intent.Type) bool {
	if len(m.AllowedIntentTypes) == 0 {
		return true
	}
	for _, allowed := range m.AllowedIntentTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// Clone 返回深拷贝。
func (m *Mandate) Clone() *Mandate {
	if m == nil {
		return nil
	}
	out := *m
	out.AllowedTokens = append([]string(nil), m.AllowedTokens...)
	out.AllowedProtocols = append([]string(nil), m.AllowedProtocols...)
	out.AllowedIntentTypes = append([]intent.Type(nil), m.AllowedIntentTypes...)
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// IsNotFound 判断错误是否表示授权书不存在。
func IsNotFound(err error) bool {
	return stdErrors.Is(err, ErrMandateNotFound)
}

func validAddress(field, value string) error {
	if !common.IsHexAddress(value) {
		return invalid(field, fmt.Sprintf("%s %q is not a valid address", field, value))
	}
	if common.HexToAddress(value) == (common.Address{}) {
		return invalid(field, field+" must not be the zero address")
	}
	return nil
}

func invalid(field, message string) error {
	return xerrors.New(CodeMandateInvalid, message, xerrors.WithMetadata("field", field))
}
