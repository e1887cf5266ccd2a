package router

import (
	stdErrors "errors"

	"IntentLayer-Lite/internal/adapter"
	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/executor"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/pkg/units"
)

// Status 表示意图在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompiled  Status = "compiled"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Statuses 返回全部状态。
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompiled, StatusSubmitted, StatusConfirmed, StatusRejected, StatusFailed}
}

// IsValidStatus 检查给定状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	for _, s := range Statuses() {
		if s == status {
			return true
		}
	}
	return false
}

// Succeeded 报告状态是否代表成功完成。
func (s Status) Succeeded() bool {
	return s == StatusCompiled || s == StatusSubmitted || s == StatusConfirmed
}

// Result 保存一次成功（或部分成功）的编译与执行结果。
type Result struct {
	Adapter      string         `json:"adapter"`
	Network      string         `json:"network,omitempty"`
	Calls        []adapter.Call `json:"calls"`
	SlippageBps  int            `json:"slippage_bps"`
	MinAmountOut units.Amount   `json:"min_amount_out"`
	ChainID      string         `json:"chain_id,omitempty"`
	From         string         `json:"from,omitempty"`
	TxHashes     []string       `json:"tx_hashes,omitempty"`
	BlockNumber  uint64         `json:"block_number,omitempty"`
	GasUsed      uint64         `json:"gas_used,omitempty"`
	DryRun       bool           `json:"dry_run"`
	CompiledAt   int64          `json:"compiled_at"`
}

// NewResult 由编译计划与执行结果组装 Result，exec 可以为空。
func NewResult(plan *compiler.Plan, exec *executor.Execution) *Result {
	if plan == nil {
		return nil
	}
	res := &Result{
		Adapter:      plan.Adapter,
		Network:      plan.Network,
		Calls:        plan.Calls,
		SlippageBps:  plan.SlippageBps,
		MinAmountOut: plan.MinAmountOut,
		CompiledAt:   plan.CompiledAt,
	}
	if exec != nil {
		if exec.Network != "" {
			res.Network = exec.Network
		}
		res.ChainID = exec.ChainID
		res.From = exec.From
		res.TxHashes = append([]string(nil), exec.TxHashes...)
		res.BlockNumber = exec.BlockNumber
		res.GasUsed = exec.GasUsed
		res.DryRun = exec.DryRun
	}
	return res
}

// Record 描述排队处理的意图及其执行状态。
type Record struct {
	ID         string               `json:"id"`
	MandateID  string               `json:"mandate_id"`
	Agent      string               `json:"agent"`
	Type       intent.Type          `json:"type"`
	Intent     *intent.Intent       `json:"intent"`
	Status     Status               `json:"status"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"max_retries"`
	Terminal   bool                 `json:"terminal"`
	LastError  string               `json:"last_error,omitempty"`
	ErrorCode  string               `json:"error_code,omitempty"`
	Violations []compiler.Violation `json:"violations,omitempty"`
	Result     *Result              `json:"result,omitempty"`
	CreatedAt  int64                `json:"created_at"`
	UpdatedAt  int64                `json:"updated_at"`
}

// Final 报告记录是否不会再发生状态变化。
func (r *Record) Final() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case StatusCompiled, StatusSubmitted, StatusConfirmed, StatusRejected:
		return true
	case StatusFailed:
		return r.Terminal
	default:
		return false
	}
}

// Clone 返回深拷贝。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Intent = r.Intent.Clone()
	if r.Violations != nil {
		out.Violations = append([]compiler.Violation(nil), r.Violations...)
	}
	if r.Result != nil {
		res := *r.Result
		res.Calls = append([]adapter.Call(nil), r.Result.Calls...)
		res.TxHashes = append([]string(nil), r.Result.TxHashes...)
		out.Result = &res
	}
	return &out
}

const (
	CodeIntentNotFound   xerrors.Code = "INTENT_NOT_FOUND"
	CodeIntentConflict   xerrors.Code = "INTENT_CONFLICT"
	CodeIntentCompleted  xerrors.Code = "INTENT_COMPLETED"
	CodeIntentExhausted  xerrors.Code = "INTENT_RETRIES_EXHAUSTED"
	CodeIntentPublish    xerrors.Code = "INTENT_PUBLISH_FAILED"
	CodeIntentProcessing xerrors.Code = "INTENT_PROCESSING_FAILED"
)

var (
	// ErrIntentNotFound 表示指定的意图不存在。
	ErrIntentNotFound = xerrors.New(CodeIntentNotFound, "intent not found")
	// ErrIntentConflict 表示意图在当前状态下无法进行所请求的操作。
	ErrIntentConflict = xerrors.New(CodeIntentConflict, "intent conflict")
	// ErrIntentCompleted 表示意图已经处理完成。
	ErrIntentCompleted = xerrors.New(CodeIntentCompleted, "intent already completed")
	// ErrIntentExhausted 表示意图的重试次数已经耗尽。
	ErrIntentExhausted = xerrors.New(CodeIntentExhausted, "intent retries exhausted")
)

func init() {
	xerrors.Register(CodeIntentNotFound, xerrors.Attributes{
		Message:  "intent not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeIntentConflict, xerrors.Attributes{
		Message:  "intent conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeIntentCompleted, xerrors.Attributes{
		Message:  "intent already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeIntentExhausted, xerrors.Attributes{
		Message:  "intent retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeIntentPublish, xerrors.Attributes{
		Message:   "failed to publish intent",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeIntentProcessing, xerrors.Attributes{
		Message:   "intent processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsNotFound 判断错误是否表示意图不存在。
func IsNotFound(err error) bool {
	return stdErrors.Is(err, ErrIntentNotFound)
}
