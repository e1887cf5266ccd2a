package mandate

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/pkg/units"
)

// RegisterRequest 是注册授权书的入参，金额为最小单位的十进制字符串。
type RegisterRequest struct {
	ID                 string            `json:"id,omitempty"`
	Owner              string            `json:"owner"`
	Agent              string            `json:"agent"`
	Network            string            `json:"network,omitempty"`
	MaxSpendPerIntent  string            `json:"max_spend_per_intent"`
	DailySpendLimit    string            `json:"daily_spend_limit,omitempty"`
	AllowedTokens      []string          `json:"allowed_tokens,omitempty"`
	AllowedProtocols   []string          `json:"allowed_protocols,omitempty"`
	AllowedIntentTypes []string          `json:"allowed_intent_types,omitempty"`
	RiskLevel          string            `json:"risk_level,omitempty"`
	MaxSlippageBps     *int              `json:"max_slippage_bps,omitempty"`
	ExpiresAt          int64             `json:"expires_at,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Build 将请求转换为待校验的授权书。
func (r RegisterRequest) Build(now time.Time, defaultSlippage int) (*Mandate, error) {
	maxSpend, err := units.ParseAmount(r.MaxSpendPerIntent)
	if err != nil {
		return nil, invalid("max_spend_per_intent", err.Error())
	}
	daily, err := units.ParseAmount(r.DailySpendLimit)
	if err != nil {
		return nil, invalid("daily_spend_limit", err.Error())
	}
	risk, err := ParseRiskLevel(r.RiskLevel)
	if err != nil {
		return nil, invalid("risk_level", err.Error())
	}

	types := make([]intent.Type, 0, len(r.AllowedIntentTypes))
	for _, raw := range r.AllowedIntentTypes {
		t, err := intent.ParseType(raw)
		if err != nil {
			return nil, invalid("allowed_intent_types", err.Error())
		}
		types = appendUniqueType(types, t)
	}

	tokens := make([]string, 0, len(r.AllowedTokens))
	for _, token := range r.AllowedTokens {
		tokens = appendUniqueFold(tokens, intent.Checksum(token))
	}
	protocols := make([]string, 0, len(r.AllowedProtocols))
	for _, p := range r.AllowedProtocols {
		protocols = appendUniqueFold(protocols, strings.ToLower(strings.TrimSpace(p)))
	}

	slippage := defaultSlippage
	if r.MaxSlippageBps != nil {
		slippage = *r.MaxSlippageBps
	}

	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = uuid.NewString()
	}

	ts := now.Unix()
	m := &Mandate{
		ID:                 id,
		Owner:              intent.Checksum(r.Owner),
		Agent:              intent.Checksum(r.Agent),
		Network:            strings.TrimSpace(r.Network),
		MaxSpendPerIntent:  maxSpend,
		DailySpendLimit:    daily,
		AllowedTokens:      nilIfEmpty(tokens),
		AllowedProtocols:   nilIfEmpty(protocols),
		AllowedIntentTypes: types,
		RiskLevel:          risk,
		MaxSlippageBps:     slippage,
		ExpiresAt:          r.ExpiresAt,
		Status:             StatusActive,
		Metadata:           r.Metadata,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if len(m.AllowedIntentTypes) == 0 {
		m.AllowedIntentTypes = nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.ExpiresAt != 0 && m.ExpiresAt <= ts {
		return nil, invalid("expires_at", "expires_at must be in the future")
	}
	return m, nil
}

func appendUniqueFold(list []string, value string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, value) {
			return list
		}
	}
	return append(list, value)
}

func appendUniqueType(list []intent.Type, value intent.Type) []intent.Type {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func nilIfEmpty(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	return list
}
