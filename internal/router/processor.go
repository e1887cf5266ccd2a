package router

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/executor"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/internal/observability/alerting"
	"IntentLayer-Lite/internal/observability/metrics"
	"IntentLayer-Lite/pkg/logger"
)

// Compiler 定义了处理器所需的编译能力。
type Compiler interface {
	Compile(ctx context.Context, in *intent.Intent) (*compiler.Plan, error)
	Release(ctx context.Context, plan *compiler.Plan) error
}

// Executor 定义了处理器所需的链上执行能力。
type Executor interface {
	Execute(ctx context.Context, plan *compiler.Plan) (*executor.Execution, error)
}

// rejectionCodes 是策略层面的拒绝，重试不会改变结果。
var rejectionCodes = []xerrors.Code{
	compiler.CodeConstraintViolation,
	mandate.CodeBudgetExceeded,
	mandate.CodeMandateNotFound,
	mandate.CodeMandateInactive,
	intent.CodeIntentInvalid,
	intent.CodeIntentExpired,
}

// Processor 负责从队列消费意图，编译后交给执行器。
type Processor struct {
	compiler    Compiler
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(comp Compiler, exec Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		compiler:    comp,
		executor:    exec,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动意图处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置意图消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单个意图，可直接用于同步场景。
func (p *Processor) Handle(ctx context.Context, intentID string) error {
	if p.store == nil || p.compiler == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	record, err := p.store.Claim(ctx, intentID)
	if err != nil {
		if stdErrors.Is(err, ErrIntentNotFound) || stdErrors.Is(err, ErrIntentCompleted) || stdErrors.Is(err, ErrIntentExhausted) {
			p.logDebug("跳过意图", slog.String("intent_id", intentID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrIntentConflict) {
			p.logDebug("意图正在处理", slog.String("intent_id", intentID))
			return nil
		}
		logger.L().Error("领取意图失败", slog.Any("error", err), slog.String("intent_id", intentID))
		p.emitAlert(ctx, &Record{ID: intentID}, CodeIntentProcessing, err, "claim")
		return err
	}

	started := time.Now()
	plan, err := p.compiler.Compile(ctx, record.Intent)
	if err != nil {
		if isRejection(err) {
			return p.reject(ctx, record, err, started)
		}
		return p.handleFailure(ctx, record, err, nil, nil, started)
	}

	exec, err := p.executor.Execute(ctx, plan)
	if err != nil {
		return p.handleFailure(ctx, record, err, plan, exec, started)
	}

	status := StatusCompiled
	switch exec.Status {
	case executor.StatusSubmitted:
		status = StatusSubmitted
	case executor.StatusConfirmed:
		status = StatusConfirmed
	}
	result := NewResult(plan, exec)
	if err := p.store.MarkSucceeded(ctx, record.ID, status, *result); err != nil {
		logger.L().Error("标记意图成功状态失败", slog.Any("error", err), slog.String("intent_id", record.ID))
		p.emitAlert(ctx, record, xerrors.CodeStorageFailure, err, "persist_result")
		return err
	}
	metrics.ObserveIntent(string(status), "", time.Since(started))
	logger.Audit().Info("intent "+string(status),
		slog.String("intent_id", record.ID),
		slog.String("mandate_id", record.MandateID),
		slog.String("adapter", result.Adapter),
		slog.String("network", result.Network),
		slog.Any("tx_hashes", result.TxHashes),
		slog.Bool("dry_run", result.DryRun),
	)
	return nil
}

func (p *Processor) reject(ctx context.Context, record *Record, cause error, started time.Time) error {
	code := xerrors.CodeOf(cause)
	var violations []compiler.Violation
	if ce, ok := compiler.IsConstraintError(cause); ok {
		code = compiler.CodeConstraintViolation
		violations = ce.Violations
	}
	if err := p.store.MarkRejected(ctx, record.ID, code, cause.Error(), violations); err != nil {
		logger.L().Error("标记意图拒绝状态出错", slog.Any("error", err), slog.String("intent_id", record.ID))
		return err
	}
	metrics.ObserveIntent(string(StatusRejected), string(code), time.Since(started))
	logger.Audit().Warn("intent rejected",
		slog.String("intent_id", record.ID),
		slog.String("mandate_id", record.MandateID),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
	)
	if xerrors.ShouldAlert(cause) {
		p.emitAlert(ctx, record, code, cause, "rejected")
	}
	return nil
}

// handleFailure 记录失败并决定是否重投。未广播任何交易时归还额度。
func (p *Processor) handleFailure(ctx context.Context, record *Record, cause error, plan *compiler.Plan, exec *executor.Execution, started time.Time) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeIntentProcessing
	}
	retryable := xerrors.RetryableError(cause)
	if !isCoded(cause) {
		retryable = xerrors.AttributesOf(code).Retryable
	}
	broadcast := exec != nil && len(exec.TxHashes) > 0
	if broadcast {
		retryable = false
	}
	terminal := !retryable || record.Attempts >= record.MaxRetries

	if plan != nil && !broadcast {
		if err := p.compiler.Release(ctx, plan); err != nil {
			logger.L().Error("归还额度失败", slog.Any("error", err), slog.String("intent_id", record.ID))
		}
	}

	var result *Result
	if plan != nil {
		result = NewResult(plan, exec)
	}
	if storeErr := p.store.MarkFailed(ctx, record.ID, code, cause.Error(), terminal, result); storeErr != nil {
		logger.L().Error("标记意图失败状态出错", slog.Any("error", storeErr), slog.String("intent_id", record.ID))
		return storeErr
	}
	if terminal {
		metrics.ObserveIntent(string(StatusFailed), string(code), time.Since(started))
	}
	logger.Audit().Warn("intent failed",
		slog.String("intent_id", record.ID),
		slog.String("mandate_id", record.MandateID),
		slog.Bool("terminal", terminal),
		slog.Bool("broadcast", broadcast),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", record.Attempts),
		slog.Int("max_retries", record.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
		if !retryable {
			stage = "non_retryable"
		}
	}
	p.emitAlert(ctx, record, code, cause, stage)

	if !terminal {
		if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
			return xerrors.Wrap(CodeIntentPublish, pubErr, fmt.Sprintf("意图 %s 重投失败", record.ID))
		}
		p.logDebug("意图已重新排队", slog.String("intent_id", record.ID), slog.Int("attempts", record.Attempts))
	}
	return nil
}

func isRejection(err error) bool {
	for _, code := range rejectionCodes {
		if xerrors.HasCode(err, code) {
			return true
		}
	}
	return false
}

func isCoded(err error) bool {
	_, ok := xerrors.From(err)
	return ok
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, record *Record, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || record == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.SeverityOf(cause),
		Stage:      stage,
		IntentID:   record.ID,
		MandateID:  record.MandateID,
		Attempts:   record.Attempts,
		MaxRetries: record.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if !isCoded(cause) {
		event.Severity = attrs.Severity
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("intent_id", record.ID),
			slog.String("stage", stage),
		)
	}
}
