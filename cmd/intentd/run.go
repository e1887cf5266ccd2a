package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"IntentLayer-Lite/internal/adapter"
	"IntentLayer-Lite/internal/api"
	"IntentLayer-Lite/internal/auth"
	"IntentLayer-Lite/internal/compiler"
	"IntentLayer-Lite/internal/config"
	"IntentLayer-Lite/internal/executor"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/internal/observability/alerting"
	"IntentLayer-Lite/internal/router"
	"IntentLayer-Lite/internal/storage/mysql"
	"IntentLayer-Lite/internal/storage/redis"
	"IntentLayer-Lite/internal/web3"
	"IntentLayer-Lite/internal/web3/provider"
	"IntentLayer-Lite/pkg/logger"
)

func initLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	defer logger.Sync()
	log := logger.Named("intentd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var redisClient goredis.UniversalClient
	if cfg.Redis.Enabled() {
		client, err := redis.NewClient(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	}

	var (
		mandateStore mandate.Store
		intentStore  router.Store
	)
	switch cfg.Storage.Driver {
	case "memory", "":
		mandateStore = mandate.NewMemoryStore()
		intentStore = router.NewMemoryStore()
	case "mysql":
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		mandateStore = mandate.NewMySQLStore(db)
		intentStore = router.NewMySQLStore(db)
	default:
		return mysql.ErrUnsupportedDriver
	}
	if cfg.Storage.MandateCache.Enabled && redisClient != nil {
		ttl := time.Duration(cfg.Storage.MandateCache.TTLSeconds) * time.Second
		mandateStore = mandate.NewCachedStore(mandateStore, redisClient, cfg.Redis.Prefix, ttl)
	}

	var ledger mandate.Ledger
	switch cfg.Storage.LedgerDriver {
	case "memory", "":
		ledger = mandate.NewMemoryLedger()
	case "redis":
		ledger = mandate.NewRedisLedger(redisClient, cfg.Redis.Prefix)
	default:
		return fmt.Errorf("未知的额度账本驱动: %s", cfg.Storage.LedgerDriver)
	}

	queue, err := openQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭意图队列失败", "error", err)
		}
	}()

	adapters, err := adapter.LoadCatalog(cfg.Adapters.Catalog)
	if err != nil {
		return err
	}
	log.Info("协议适配器已加载", "adapters", adapters.Names())

	chains, err := openChains(ctx, cfg)
	if err != nil {
		return err
	}
	var resolver web3.Resolver
	defaultNetwork := cfg.Web3.DefaultChain
	if chains != nil {
		defer chains.Close()
		resolver = chains
		defaultNetwork = chains.DefaultChain()
		log.Info("链客户端已就绪", "chains", chains.Chains(), "default", defaultNetwork)
	}

	var signer *executor.Signer
	if key := cfg.Executor.Key(); key != "" {
		signer, err = executor.NewSigner(key)
		if err != nil {
			return err
		}
		log.Info("签名账户已加载", "address", signer.Address().Hex())
	}
	submitter := executor.NewSubmitter(resolver, signer, executor.Options{
		Confirmations:  cfg.Executor.ConfirmationCount(),
		ReceiptTimeout: cfg.Executor.ReceiptTimeout(),
		PollInterval:   cfg.Executor.PollInterval(),
		GasMultiplier:  cfg.Executor.GasMultiplier,
	})
	if submitter.DryRun() {
		log.Warn("未配置签名私钥或链端点，意图只编译不广播")
	}

	mandates := mandate.NewRegistry(mandateStore, ledger,
		mandate.WithDefaultSlippage(cfg.Router.DefaultMaxSlippageBps),
	)
	comp := compiler.New(mandates, adapters, ledger,
		compiler.WithDefaultTTL(cfg.Router.DefaultIntentTTL()),
		compiler.WithDefaultNetwork(defaultNetwork),
	)

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		timeout := time.Duration(cfg.Alerting.TimeoutSeconds) * time.Second
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, timeout))
	}
	alerts := alerting.NewFanout(notifiers...)

	intents := router.NewService(intentStore, queue,
		router.WithMaxRetries(cfg.Router.MaxRetries),
		router.WithDefaultTTL(cfg.Router.DefaultIntentTTL()),
		router.WithPreviewer(comp),
	)
	processor := router.NewProcessor(comp, submitter, intentStore, queue, queue,
		router.WithWorkerCount(cfg.Queue.Workers),
		router.WithProcessorLogger(logger.Named("processor")),
		router.WithAlertDispatcher(alerts),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("意图处理器异常退出", "error", err)
		}
	}()

	authService, err := auth.NewService(authConfig(cfg))
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithAuth(authService),
		api.WithMetrics(cfg.Server.Metrics()),
		api.WithTimeouts(cfg.Server.ReadTimeout(), cfg.Server.WriteTimeout()),
	}
	if chains != nil {
		opts = append(opts, api.WithChains(chains))
	}
	server := api.NewServer(cfg.Server.Address, mandates, intents, opts...)

	log.Info("intentd 已启动",
		"address", cfg.Server.Address,
		"storage", cfg.Storage.Driver,
		"queue", cfg.Queue.Driver,
		"ledger", cfg.Storage.LedgerDriver,
		"auth", string(authService.Mode()),
		"alert_channels", alerts.Channels(),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openChains 构建链客户端注册表。没有任何可用 RPC 端点时返回 nil，执行器进入只编译模式。
func openChains(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	if cfg.Web3.ChainConfig == "" && cfg.Web3.RPCURL == "" {
		return nil, nil
	}
	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	if errors.Is(err, provider.ErrNoEndpoints) {
		logger.Named("intentd").Warn("没有可用的链 RPC 端点，进入只编译模式")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chains, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	return mysql.Open(ctx, mysql.Config{
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Storage.ConnMaxIdleTimeSeconds) * time.Second,
	})
}

func openQueue(cfg *config.Config, client goredis.UniversalClient) (router.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return router.NewMemoryQueue(cfg.Queue.Capacity), nil
	case "redis":
		if client == nil {
			return nil, errors.New("queue.driver=redis 需要配置 redis.address")
		}
		return router.NewRedisQueue(client, router.RedisQueueConfig{
			Queue:     redis.Key(cfg.Redis.Prefix, queueName(cfg.Queue.Redis.Queue)),
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return router.NewRabbitMQQueue(router.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func queueName(name string) string {
	if name == "" {
		return "intents"
	}
	return name
}

func authConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		Mode:     auth.Mode(cfg.Auth.Mode),
		Secret:   cfg.Auth.Secret(),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TokenTTL: cfg.Auth.TokenTTL(),
	}
}
