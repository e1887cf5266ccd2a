package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/urfave/cli/v2"

	"IntentLayer-Lite/internal/auth"
	"IntentLayer-Lite/pkg/logger"
)

// tokenAction 使用配置中的 JWT 密钥签发令牌并以 JSON 输出。
func tokenAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := auth.NewService(authConfig(cfg))
	if err != nil {
		return err
	}
	if svc.Mode() != auth.ModeJWT {
		return errors.New("签发令牌需要 auth.mode=jwt")
	}

	scopes := c.StringSlice("scope")
	if len(scopes) == 0 {
		scopes = auth.AllScopes()
	}
	token, err := svc.IssueToken(c.String("subject"), scopes, c.Duration("ttl"))
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(token)
}

// migrateAction 连接 MySQL 并应用尚未执行的迁移。
func migrateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Storage.Driver != "mysql" {
		return errors.New("迁移需要 storage.driver=mysql")
	}
	db, err := openDatabase(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Named("intentd").Info("数据库迁移完成")
	return nil
}
