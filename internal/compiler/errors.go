package compiler

import (
	"fmt"
	"strings"

	xerrors "IntentLayer-Lite/internal/errors"
)

// CodeConstraintViolation 表示意图违反授权书约束。
const CodeConstraintViolation xerrors.Code = "CONSTRAINT_VIOLATION"

func init() {
	xerrors.Register(CodeConstraintViolation, xerrors.Attributes{
		Message:  "intent violates mandate constraints",
		Severity: xerrors.SeverityInfo,
	})
}

// 约束规则名称。
const (
	RuleAgent        = "agent_mismatch"
	RuleIntentType   = "intent_type_not_allowed"
	RuleToken        = "token_not_allowed"
	RuleProtocol     = "protocol_not_allowed"
	RuleRiskLevel    = "risk_level_exceeded"
	RuleNetwork      = "network_not_supported"
	RuleSlippage     = "slippage_exceeded"
	RuleMaxSpend     = "max_spend_exceeded"
	RuleMinAmountOut = "min_amount_out_required"
	RuleRecipient    = "recipient_not_allowed"
)

// Violation 描述一条未满足的约束。
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ConstraintError 汇总一次编译中的全部违规项。
type ConstraintError struct {
	IntentID   string
	MandateID  string
	Violations []Violation
}

// Error 实现 error 接口。
func (e *ConstraintError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Rule + ": " + v.Message
	}
	return fmt.Sprintf("intent violates mandate %s: %s", e.MandateID, strings.Join(parts, "; "))
}

// Unwrap 暴露统一错误码，供 errors.Is 与 HTTP 映射使用。
func (e *ConstraintError) Unwrap() error {
	return xerrors.New(CodeConstraintViolation, e.Error(),
		xerrors.WithRetryable(false),
		xerrors.WithMetadata("mandate_id", e.MandateID))
}

// Rules 返回违规规则名称列表。
func (e *ConstraintError) Rules() []string {
	rules := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		rules[i] = v.Rule
	}
	return rules
}
