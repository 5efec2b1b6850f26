// Package config 网关配置：YAML 文件 + 环境变量覆盖
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvKeySecret 签名私钥（hex seed）环境变量，不进配置文件
const EnvKeySecret = "GATEWAY_KEY"

// RPCConfig 链访问配置
type RPCConfig struct {
	// Endpoints HTTP endpoint 列表，首个为主，其余用于交易重播
	Endpoints []string `yaml:"endpoints"`
	// WSEndpoint 账户订阅 endpoint（为空则由主 endpoint 推导）
	WSEndpoint string `yaml:"wsEndpoint"`
	// Commitment 状态读取最终性级别
	Commitment string `yaml:"commitment"`
	// TxCommitment 交易确认最终性级别
	TxCommitment string `yaml:"txCommitment"`
	// TimeoutSeconds 单次 RPC 超时
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

// TxConfig 交易生命周期配置
type TxConfig struct {
	// TTLSeconds 默认重播窗口（请求可用 ?ttl= 覆盖）
	TTLSeconds int `yaml:"ttlSeconds"`
	// MaxTTLSeconds 请求级 ttl 覆盖的上限
	MaxTTLSeconds int `yaml:"maxTtlSeconds"`
	// RebroadcastMillis 重播间隔，独立配置，约等于链的出块节奏，不从 ttl 推导
	RebroadcastMillis int `yaml:"rebroadcastMillis"`
	// ComputeUnitLimit 默认 compute budget 上限
	ComputeUnitLimit uint32 `yaml:"computeUnitLimit"`
	// ComputeUnitPrice 默认 compute 单价（0 表示用链上 fee-market 估算）
	ComputeUnitPrice uint64 `yaml:"computeUnitPrice"`
}

// MarketConfig 启动时加载的市场
type MarketConfig struct {
	Index uint16 `yaml:"index"`
	Kind  string `yaml:"kind"`
}

// ServerConfig HTTP/WS 监听配置
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	WSPort int    `yaml:"wsPort"`
}

// WalletConfig 签名模式配置。私钥永远走环境变量 GATEWAY_KEY。
type WalletConfig struct {
	// Delegate 委托模式：被委托方（authority）公钥
	Delegate string `yaml:"delegate"`
	// Emulate 只读模式：模拟的 authority 公钥（与私钥互斥）
	Emulate string `yaml:"emulate"`
	// DefaultSubAccountID 未指定 subAccountId 时使用的默认子账户
	DefaultSubAccountID uint16 `yaml:"defaultSubAccountId"`
}

// SwapConfig 兑换路由服务配置
type SwapConfig struct {
	QuoteEndpoint string `yaml:"quoteEndpoint"`
	// SlippageBps 默认滑点（basis points）
	SlippageBps int `yaml:"slippageBps"`
}

// OrderbookConfig L2 盘口服务配置（为空则关闭 /v2/orderbook 代理）
type OrderbookConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"outputFile"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Config 网关配置根
type Config struct {
	RPC         RPCConfig       `yaml:"rpc"`
	Tx          TxConfig        `yaml:"tx"`
	Server      ServerConfig    `yaml:"server"`
	Wallet      WalletConfig    `yaml:"wallet"`
	Swap        SwapConfig      `yaml:"swap"`
	Orderbook   OrderbookConfig `yaml:"orderbook"`
	Log         LogConfig       `yaml:"log"`
	Markets     []MarketConfig  `yaml:"markets"`
	SubAccounts []uint16        `yaml:"subAccounts"`
	// StorePath badger 交易日志目录（为空则关闭落盘）
	StorePath string `yaml:"storePath"`
}

// Default 返回带默认值的配置
func Default() Config {
	return Config{
		RPC: RPCConfig{
			Commitment:     "confirmed",
			TxCommitment:   "confirmed",
			TimeoutSeconds: 15,
		},
		Tx: TxConfig{
			TTLSeconds:        30,
			MaxTTLSeconds:     120,
			RebroadcastMillis: 400,
			ComputeUnitLimit:  200_000,
		},
		Server: ServerConfig{
			Host:   "127.0.0.1",
			Port:   8080,
			WSPort: 1337,
		},
		Swap: SwapConfig{SlippageBps: 50},
		Log:  LogConfig{Level: "info"},
	}
}

// Load 读取 YAML 配置文件并应用环境变量覆盖。
// path 为空时只用默认值 + 环境变量。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_RPC_ENDPOINTS"); v != "" {
		cfg.RPC.Endpoints = splitAndTrim(v)
	}
	if v := os.Getenv("GATEWAY_WS_ENDPOINT"); v != "" {
		cfg.RPC.WSEndpoint = v
	}
	if v := os.Getenv("GATEWAY_COMMITMENT"); v != "" {
		cfg.RPC.Commitment = v
	}
	if v := os.Getenv("GATEWAY_TX_COMMITMENT"); v != "" {
		cfg.RPC.TxCommitment = v
	}
	if v := os.Getenv("GATEWAY_DELEGATE"); v != "" {
		cfg.Wallet.Delegate = v
	}
	if v := os.Getenv("GATEWAY_EMULATE"); v != "" {
		cfg.Wallet.Emulate = v
	}
	if v := os.Getenv("GATEWAY_DEFAULT_SUB_ACCOUNT"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Wallet.DefaultSubAccountID = uint16(id)
		}
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GATEWAY_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("rpc.endpoints is required")
	}
	if c.Tx.TTLSeconds <= 0 {
		return fmt.Errorf("tx.ttlSeconds must be positive")
	}
	if c.Tx.RebroadcastMillis <= 0 {
		return fmt.Errorf("tx.rebroadcastMillis must be positive")
	}
	return nil
}

// WSEndpointOrDerived 返回配置的 WS endpoint，缺省时从主 endpoint 推导
func (c *Config) WSEndpointOrDerived() string {
	if c.RPC.WSEndpoint != "" {
		return c.RPC.WSEndpoint
	}
	ep := c.RPC.Endpoints[0]
	ep = strings.Replace(ep, "https://", "wss://", 1)
	return strings.Replace(ep, "http://", "ws://", 1)
}

// TTL 默认重播窗口
func (c *Config) TTL() time.Duration { return time.Duration(c.Tx.TTLSeconds) * time.Second }

// MaxTTL 请求级 ttl 上限
func (c *Config) MaxTTL() time.Duration { return time.Duration(c.Tx.MaxTTLSeconds) * time.Second }

// RebroadcastInterval 重播间隔
func (c *Config) RebroadcastInterval() time.Duration {
	return time.Duration(c.Tx.RebroadcastMillis) * time.Millisecond
}
