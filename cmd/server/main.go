// cmd/server — 会话 API 服务主入口。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/agentchat/stream-core/internal/apiserver"
	"github.com/agentchat/stream-core/internal/config"
	"github.com/agentchat/stream-core/internal/database"
	"github.com/agentchat/stream-core/internal/runtime"
	"github.com/agentchat/stream-core/internal/store"
	"github.com/agentchat/stream-core/pkg/logger"
)

// toolDisplayNames 工具显示名表, 构造时注入时间线 (只读)。
var toolDisplayNames = map[string]string{
	"search":        "联网搜索",
	"browser":       "浏览器",
	"code_sandbox":  "代码沙箱",
	"deep_research": "深度研究",
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogEnv)

	var meta apiserver.MetadataStore
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}
		meta = store.NewSessionMetadataStore(pool)
	} else {
		// 无库部署: 历史不带 overlay, 反馈写入不可用
		logger.Warn("postgres not configured, metadata overlay disabled")
	}

	client := runtime.NewClient(cfg)
	pager := runtime.NewMemoryPager(cfg)

	srv := apiserver.NewServer(cfg, client, pager, meta, toolDisplayNames)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server exited", logger.FieldError, err)
	}
	logger.Info("server stopped")
}
