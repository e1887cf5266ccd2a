package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"IntentLayer-Lite/internal/adapter"
	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/executor"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/internal/observability/alerting"
	"IntentLayer-Lite/pkg/units"
)

const (
	ownerAddr     = "0x1111111111111111111111111111111111111111"
	agentAddr     = "0x2222222222222222222222222222222222222222"
	tokenAddr     = "0x3333333333333333333333333333333333333333"
	recipientAddr = "0x7777777777777777777777777777777777777777"
)

type fakeCompiler struct {
	err      error
	compiled atomic.Int32
	released atomic.Int32
}

func (f *fakeCompiler) Compile(_ context.Context, in *intent.Intent) (*compiler.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.compiled.Add(1)
	return &compiler.Plan{
		IntentID:    in.ID,
		MandateID:   in.MandateID,
		Adapter:     "fake",
		Network:     "devnet",
		Reservation: &compiler.Reservation{MandateID: in.MandateID, Window: "20260101", Amount: in.AmountIn},
	}, nil
}

func (f *fakeCompiler) Release(_ context.Context, plan *compiler.Plan) error {
	if plan != nil && plan.Reservation != nil {
		f.released.Add(1)
		plan.Reservation = nil
	}
	return nil
}

// scriptedExecutor 依次返回预设错误，耗尽后成功确认。
type scriptedExecutor struct {
	mu      sync.Mutex
	errs    []error
	partial bool
	calls   int
}

func (s *scriptedExecutor) Execute(_ context.Context, plan *compiler.Plan) (*executor.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		exec := &executor.Execution{Network: plan.Network, Status: executor.StatusCompiled}
		if s.partial {
			exec.Status = executor.StatusSubmitted
			exec.TxHashes = []string{"0xaaaa"}
		}
		return exec, err
	}
	return &executor.Execution{
		Network:  plan.Network,
		ChainID:  "1337",
		TxHashes: []string{"0xbbbb"},
		Status:   executor.StatusConfirmed,
	}, nil
}

type recordingProducer struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (r *recordingProducer) Publish(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, id)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func (r *recordingProducer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingDispatcher) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, event := range r.events {
		out[i] = event.Stage
	}
	return out
}

func transferIntent(mandateID string) *intent.Intent {
	return &intent.Intent{
		MandateID: mandateID,
		Agent:     agentAddr,
		Type:      intent.TypeTransfer,
		TokenIn:   tokenAddr,
		AmountIn:  units.FromUint64(400),
		Recipient: recipientAddr,
	}
}

func submit(t *testing.T, service *Service, in *intent.Intent) *Record {
	t.Helper()
	record, err := service.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return record
}

func mustGet(t *testing.T, store Store, id string) *Record {
	t.Helper()
	record, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return record
}

func TestProcessorRetriesTransientFailures(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	comp := &fakeCompiler{}
	exec := &scriptedExecutor{errs: []error{xerrors.New(xerrors.CodeChainFailure, "rpc unavailable")}}
	alerts := &recordingDispatcher{}

	service := NewService(store, producer, WithMaxRetries(3))
	processor := NewProcessor(comp, exec, store, nil, producer, WithAlertDispatcher(alerts))
	record := submit(t, service, transferIntent("m-1"))

	if err := processor.Handle(context.Background(), record.ID); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	got := mustGet(t, store, record.ID)
	if got.Status != StatusFailed || got.Terminal || got.Attempts != 1 {
		t.Fatalf("expected retryable failure, got %+v", got)
	}
	if got.ErrorCode != string(xerrors.CodeChainFailure) {
		t.Fatalf("unexpected error code %s", got.ErrorCode)
	}
	if comp.released.Load() != 1 {
		t.Fatal("reservation should be released when nothing was broadcast")
	}
	if producer.count() != 2 {
		t.Fatalf("expected intent to be republished, got %d publishes", producer.count())
	}

	if err := processor.Handle(context.Background(), record.ID); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	got = mustGet(t, store, record.ID)
	if got.Status != StatusConfirmed || got.Attempts != 2 || !got.Final() {
		t.Fatalf("expected confirmed on retry, got %+v", got)
	}
	if got.Result == nil || len(got.Result.TxHashes) != 1 || got.Result.ChainID != "1337" {
		t.Fatalf("unexpected result %+v", got.Result)
	}
	if got.LastError != "" {
		t.Fatalf("success should clear last error, got %q", got.LastError)
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "retry" {
		t.Fatalf("unexpected alert stages %v", stages)
	}
}

func TestProcessorStopsAfterMaxRetries(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	exec := &scriptedExecutor{errs: []error{
		xerrors.New(xerrors.CodeChainFailure, "rpc unavailable"),
		xerrors.New(xerrors.CodeChainFailure, "rpc unavailable"),
	}}

	service := NewService(store, producer, WithMaxRetries(2))
	processor := NewProcessor(&fakeCompiler{}, exec, store, nil, producer)
	record := submit(t, service, transferIntent("m-1"))

	for i := 0; i < 3; i++ {
		if err := processor.Handle(context.Background(), record.ID); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	got := mustGet(t, store, record.ID)
	if got.Status != StatusFailed || !got.Terminal || got.Attempts != 2 {
		t.Fatalf("expected terminal failure after 2 attempts, got %+v", got)
	}
	if exec.calls != 2 {
		t.Fatalf("exhausted intent must not execute again, calls=%d", exec.calls)
	}
}

func TestProcessorNeverRetriesBroadcastPlans(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	comp := &fakeCompiler{}
	exec := &scriptedExecutor{
		errs:    []error{xerrors.New(xerrors.CodeChainFailure, "connection reset")},
		partial: true,
	}

	service := NewService(store, producer)
	processor := NewProcessor(comp, exec, store, nil, producer)
	record := submit(t, service, transferIntent("m-1"))

	if err := processor.Handle(context.Background(), record.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := mustGet(t, store, record.ID)
	if got.Status != StatusFailed || !got.Terminal {
		t.Fatalf("partially executed plan must fail terminally, got %+v", got)
	}
	if got.Result == nil || len(got.Result.TxHashes) != 1 || got.Result.TxHashes[0] != "0xaaaa" {
		t.Fatalf("broadcast hashes should be kept, got %+v", got.Result)
	}
	if comp.released.Load() != 0 {
		t.Fatal("reservation must be kept once a transaction is broadcast")
	}
	if producer.count() != 1 {
		t.Fatalf("terminal failure must not be republished, got %d publishes", producer.count())
	}
}

func TestProcessorRejectsConstraintViolations(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	comp := &fakeCompiler{err: &compiler.ConstraintError{
		MandateID:  "m-1",
		Violations: []compiler.Violation{{Rule: compiler.RuleToken, Message: "token not whitelisted"}},
	}}
	exec := &scriptedExecutor{}

	service := NewService(store, producer)
	processor := NewProcessor(comp, exec, store, nil, producer)
	record := submit(t, service, transferIntent("m-1"))

	if err := processor.Handle(context.Background(), record.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := mustGet(t, store, record.ID)
	if got.Status != StatusRejected || got.ErrorCode != string(compiler.CodeConstraintViolation) {
		t.Fatalf("expected rejection, got %+v", got)
	}
	if len(got.Violations) != 1 || got.Violations[0].Rule != compiler.RuleToken {
		t.Fatalf("violations should be persisted, got %+v", got.Violations)
	}
	if exec.calls != 0 || producer.count() != 1 {
		t.Fatalf("rejected intents must not execute or requeue (calls=%d publishes=%d)", exec.calls, producer.count())
	}

	if err := processor.Handle(context.Background(), record.ID); err != nil {
		t.Fatalf("redelivery should be skipped: %v", err)
	}
	if again := mustGet(t, store, record.ID); again.Attempts != 1 {
		t.Fatalf("redelivered rejection must not be claimed again, attempts=%d", again.Attempts)
	}
}

func TestProcessorEndToEndWithDryRunSubmitter(t *testing.T) {
	ctx := context.Background()
	ledger := mandate.NewMemoryLedger()
	registry := mandate.NewRegistry(mandate.NewMemoryStore(), ledger)
	adapters, err := adapter.NewRegistry(adapter.TransferAdapter{})
	if err != nil {
		t.Fatalf("adapters: %v", err)
	}
	comp := compiler.New(registry, adapters, ledger)
	submitter := executor.NewSubmitter(nil, nil, executor.Options{})

	m, err := registry.Register(ctx, mandate.RegisterRequest{
		Owner:             ownerAddr,
		Agent:             agentAddr,
		MaxSpendPerIntent: "500",
		DailySpendLimit:   "1000",
		AllowedTokens:     []string{tokenAddr},
		RiskLevel:         "low",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	queue := NewMemoryQueue(8)
	store := NewMemoryStore()
	service := NewService(store, queue)
	processor := NewProcessor(comp, submitter, store, queue, queue, WithWorkerCount(2))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.Start(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ok := submit(t, service, transferIntent(m.ID))
	tooLarge := transferIntent(m.ID)
	tooLarge.AmountIn = units.FromUint64(900)
	rejected := submit(t, service, tooLarge)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()

	final, err := service.WaitUntilFinal(waitCtx, ok.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusCompiled || final.Result == nil || !final.Result.DryRun {
		t.Fatalf("expected dry-run compiled result, got %+v", final)
	}
	if final.Result.Adapter != adapter.TransferAdapterName || len(final.Result.Calls) != 1 {
		t.Fatalf("unexpected result %+v", final.Result)
	}

	final, err = service.WaitUntilFinal(waitCtx, rejected.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait rejected: %v", err)
	}
	if final.Status != StatusRejected || len(final.Violations) != 1 || final.Violations[0].Rule != compiler.RuleMaxSpend {
		t.Fatalf("expected max spend rejection, got %+v", final)
	}

	spent, err := ledger.Spent(ctx, m.ID, mandate.WindowOf(time.Now()))
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if spent.String() != "400" {
		t.Fatalf("only the compiled intent should reserve budget, got %s", spent)
	}
}

func TestProcessorConcurrentWorkers(t *testing.T) {
	queue := NewMemoryQueue(64)
	store := NewMemoryStore()
	comp := &fakeCompiler{}
	service := NewService(store, queue)
	processor := NewProcessor(comp, &scriptedExecutor{}, store, queue, queue, WithWorkerCount(4))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	const total = 40
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		in := transferIntent(fmt.Sprintf("m-%d", i%5))
		ids = append(ids, submit(t, service, in).ID)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	for _, id := range ids {
		record, err := service.WaitUntilFinal(waitCtx, id, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("wait %s: %v", id, err)
		}
		if record.Status != StatusConfirmed || record.Attempts != 1 {
			t.Fatalf("intent %s processed incorrectly: %+v", id, record)
		}
	}
	if comp.compiled.Load() != total {
		t.Fatalf("each intent should compile once, got %d", comp.compiled.Load())
	}
}
