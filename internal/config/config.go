// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/agentchat/stream-core/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Agent Runtime (上游流式后端)
	RuntimeEndpoint   string `env:"AGENT_RUNTIME_ENDPOINT"`
	RuntimeQualifier  string `env:"AGENT_RUNTIME_QUALIFIER" default:"DEFAULT"`
	RuntimeTimeoutSec int    `env:"AGENT_RUNTIME_TIMEOUT_SEC" default:"300" min:"1"`
	StreamMaxRetries  int    `env:"STREAM_MAX_RETRIES" default:"3" min:"0"`

	// 会话记忆 (持久化事件日志)
	MemoryEndpoint    string `env:"AGENT_MEMORY_ENDPOINT"`
	MemoryPageSize    int    `env:"AGENT_MEMORY_PAGE_SIZE" default:"100" min:"1"`
	MemoryTimeoutSec  int    `env:"AGENT_MEMORY_FETCH_TIMEOUT_SEC" default:"30" min:"1"`

	// PostgreSQL (消息元数据 overlay)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// HTTP 服务
	Listen          string `env:"LISTEN_ADDR" default:":8080"`
	WSWriteWaitSec  int    `env:"WS_WRITE_WAIT_SEC" default:"10" min:"1"`
	WSPingPeriodSec int    `env:"WS_PING_PERIOD_SEC" default:"30" min:"1"`

	// 日志
	LogEnv string `env:"LOG_ENV" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
