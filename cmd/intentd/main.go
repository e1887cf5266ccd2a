package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"IntentLayer-Lite/internal/config"
)

// main 是 intentd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("intentd 运行失败: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "intentd",
		Usage: "按授权书约束编译并执行 DeFi 代理意图",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
				EnvVars: []string{config.EnvConfigPath},
				Value:   config.Path(),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "启动 API 服务与意图处理器",
				Action: serveAction,
			},
			{
				Name:  "token",
				Usage: "签发 API 访问令牌",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Usage: "令牌主体，例如代理地址", Required: true},
					&cli.StringSliceFlag{Name: "scope", Usage: "授予的权限，可重复；缺省授予全部权限"},
					&cli.DurationFlag{Name: "ttl", Usage: "令牌有效期"},
				},
				Action: tokenAction,
			},
			{
				Name:   "migrate",
				Usage:  "对 MySQL 执行数据库迁移",
				Action: migrateAction,
			},
		},
		DefaultCommand: "serve",
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := initLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return run(c.Context, cfg)
}
