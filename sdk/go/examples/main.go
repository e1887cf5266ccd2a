package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"IntentLayer-Lite/internal/adapter"
	"IntentLayer-Lite/internal/api"
	"IntentLayer-Lite/internal/compiler"
	"IntentLayer-Lite/internal/executor"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/internal/router"
	"IntentLayer-Lite/sdk/go/intentlayer"
)

const (
	owner     = "0x1111111111111111111111111111111111111111"
	agent     = "0x2222222222222222222222222222222222222222"
	usdc      = "0x3333333333333333333333333333333333333333"
	recipient = "0x7777777777777777777777777777777777777777"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 内存版路由器，执行器处于 dry-run 模式。
	ledger := mandate.NewMemoryLedger()
	registry := mandate.NewRegistry(mandate.NewMemoryStore(), ledger)
	adapters, err := adapter.NewRegistry(adapter.TransferAdapter{})
	if err != nil {
		panic(err)
	}
	comp := compiler.New(registry, adapters, ledger)
	queue := router.NewMemoryQueue(16)
	store := router.NewMemoryStore()
	service := router.NewService(store, queue, router.WithPreviewer(comp))
	processor := router.NewProcessor(comp, executor.NewSubmitter(nil, nil, executor.Options{}), store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	srv := httptest.NewServer(api.NewServer(":0", registry, service, api.WithMetrics(false)).Handler())
	defer srv.Close()

	client, err := intentlayer.NewClient(intentlayer.Options{RPCURL: srv.URL, Network: "devnet", HTTPClient: srv.Client()})
	if err != nil {
		panic(err)
	}

	m, err := client.RegisterMandate(ctx, intentlayer.MandateRequest{
		Owner:             owner,
		Agent:             agent,
		MaxSpendPerIntent: "1000000",
		DailySpendLimit:   "5000000",
		AllowedTokens:     []string{usdc},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered mandate %s (risk=%s)\n", m.ID, m.RiskLevel)

	receipt, err := client.SubmitIntent(ctx, intentlayer.IntentRequest{
		MandateID: m.ID,
		Agent:     agent,
		Type:      "transfer",
		TokenIn:   usdc,
		AmountIn:  "250000",
		Recipient: recipient,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted intent %s (status=%s)\n", receipt.ID, receipt.Status)

	final, err := client.WaitForIntent(ctx, receipt.ID, 50*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("intent %s is %s via %s with %d call(s)\n", final.ID, final.Status, final.Result.Adapter, len(final.Result.Calls))

	budget, err := client.MandateBudget(ctx, m.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("spent %s of %s today\n", budget.Spent, budget.Limit)
}
