package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WalletConfig 钱包配置
type WalletConfig struct {
	PrivateKey    string // 签名私钥（hex，可带 0x 前缀）
	FunderAddress string // 资金地址（Magic/代理钱包时与签名地址不同，可选）
}

// CopyConfig 跟单参数配置
type CopyConfig struct {
	TargetWallet       string  // 被跟单的目标钱包地址
	Multiplier         float64 // 仓位倍数，copyNotional = 原单金额 × Multiplier
	MinTradeSize       float64 // 单笔最小跟单金额（USDC）
	MaxTradeSize       float64 // 单笔最大跟单金额（USDC）
	MaxSlippage        float64 // 最大滑点（小数，例如 0.02 = 2%）
	MaxSessionNotional float64 // 本次运行累计跟单金额上限（0 = 不限制）
	MaxMarketNotional  float64 // 单市场持仓金额上限（0 = 不限制）
	OrderType          string  // 订单类型：GTC / FOK / FAK
	PollIntervalSec    int     // REST 轮询间隔（秒）
	WSMode             string  // 推送订阅模式：market / user / off
	MaxConsecutiveErrs int     // 连续下单失败熔断阈值（0 = 不熔断）
}

// ChainConfig 链上配置
type ChainConfig struct {
	RPCEndpoint string // Polygon RPC 节点
	AutoApprove bool   // 启动时自动补齐缺失的授权
}

// Config 应用配置
type Config struct {
	Wallet   WalletConfig
	Copy     CopyConfig
	Chain    ChainConfig
	LogLevel string // 日志级别
	LogFile  string // 日志文件路径（可选）
	DryRun   bool   // 纸交易模式：不真实下单，只打印订单信息
}

// configFile 配置文件结构（YAML 解析）
type configFile struct {
	Wallet struct {
		PrivateKey    string `yaml:"private_key"`
		FunderAddress string `yaml:"funder_address"`
	} `yaml:"wallet"`
	Copy struct {
		TargetWallet       string  `yaml:"target_wallet"`
		Multiplier         float64 `yaml:"multiplier"`
		MinTradeSize       float64 `yaml:"min_trade_size"`
		MaxTradeSize       float64 `yaml:"max_trade_size"`
		MaxSlippage        float64 `yaml:"max_slippage"`
		MaxSessionNotional float64 `yaml:"max_session_notional"`
		MaxMarketNotional  float64 `yaml:"max_market_notional"`
		OrderType          string  `yaml:"order_type"`
		PollIntervalSec    int     `yaml:"poll_interval_sec"`
		WSMode             string  `yaml:"ws_mode"`
		MaxConsecutiveErrs int     `yaml:"max_consecutive_errors"`
	} `yaml:"copy"`
	Chain struct {
		RPCEndpoint string `yaml:"rpc_endpoint"`
		AutoApprove bool   `yaml:"auto_approve"`
	} `yaml:"chain"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	DryRun   bool   `yaml:"dry_run"`
}

// Load 加载配置：先读 .env，再读 YAML 文件（可选），环境变量优先
func Load(filePath string) (*Config, error) {
	// .env 文件不存在不算错误
	_ = godotenv.Load()

	cf := &configFile{}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cf); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg := &Config{
		Wallet: WalletConfig{
			PrivateKey:    getEnv("PRIVATE_KEY", cf.Wallet.PrivateKey),
			FunderAddress: getEnv("FUNDER_ADDRESS", cf.Wallet.FunderAddress),
		},
		Copy: CopyConfig{
			TargetWallet:       getEnv("TARGET_WALLET", cf.Copy.TargetWallet),
			Multiplier:         getFloatEnv("COPY_MULTIPLIER", cf.Copy.Multiplier),
			MinTradeSize:       getFloatEnv("MIN_TRADE_SIZE", cf.Copy.MinTradeSize),
			MaxTradeSize:       getFloatEnv("MAX_TRADE_SIZE", cf.Copy.MaxTradeSize),
			MaxSlippage:        getFloatEnv("MAX_SLIPPAGE", cf.Copy.MaxSlippage),
			MaxSessionNotional: getFloatEnv("MAX_SESSION_NOTIONAL", cf.Copy.MaxSessionNotional),
			MaxMarketNotional:  getFloatEnv("MAX_MARKET_NOTIONAL", cf.Copy.MaxMarketNotional),
			OrderType:          getEnv("ORDER_TYPE", cf.Copy.OrderType),
			PollIntervalSec:    getIntEnv("POLL_INTERVAL_SEC", cf.Copy.PollIntervalSec),
			WSMode:             getEnv("WS_MODE", cf.Copy.WSMode),
			MaxConsecutiveErrs: getIntEnv("MAX_CONSECUTIVE_ERRORS", cf.Copy.MaxConsecutiveErrs),
		},
		Chain: ChainConfig{
			RPCEndpoint: getEnv("RPC_ENDPOINT", cf.Chain.RPCEndpoint),
			AutoApprove: getBoolEnv("AUTO_APPROVE", cf.Chain.AutoApprove),
		},
		LogLevel: getEnv("LOG_LEVEL", cf.LogLevel),
		LogFile:  getEnv("LOG_FILE", cf.LogFile),
		DryRun:   getBoolEnv("DRY_RUN", cf.DryRun),
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 填充未配置项的默认值
func (c *Config) applyDefaults() {
	if c.Copy.Multiplier == 0 {
		c.Copy.Multiplier = 1.0
	}
	if c.Copy.MinTradeSize == 0 {
		c.Copy.MinTradeSize = 1.0
	}
	if c.Copy.MaxTradeSize == 0 {
		c.Copy.MaxTradeSize = 100.0
	}
	if c.Copy.MaxSlippage == 0 {
		c.Copy.MaxSlippage = 0.02
	}
	if c.Copy.OrderType == "" {
		c.Copy.OrderType = "FAK"
	}
	if c.Copy.PollIntervalSec == 0 {
		c.Copy.PollIntervalSec = 5
	}
	if c.Copy.WSMode == "" {
		c.Copy.WSMode = "market"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("缺少私钥配置（PRIVATE_KEY 或 wallet.private_key）")
	}
	if c.Copy.TargetWallet == "" {
		return fmt.Errorf("缺少目标钱包配置（TARGET_WALLET 或 copy.target_wallet）")
	}
	if !strings.HasPrefix(c.Copy.TargetWallet, "0x") || len(c.Copy.TargetWallet) != 42 {
		return fmt.Errorf("目标钱包地址格式无效: %s", c.Copy.TargetWallet)
	}
	if c.Copy.Multiplier <= 0 {
		return fmt.Errorf("仓位倍数必须 > 0，当前: %f", c.Copy.Multiplier)
	}
	if c.Copy.MinTradeSize > c.Copy.MaxTradeSize {
		return fmt.Errorf("最小跟单金额 %.2f 不能大于最大跟单金额 %.2f",
			c.Copy.MinTradeSize, c.Copy.MaxTradeSize)
	}
	if c.Copy.MaxSlippage < 0 || c.Copy.MaxSlippage >= 1 {
		return fmt.Errorf("滑点必须在 [0, 1) 范围内，当前: %f", c.Copy.MaxSlippage)
	}
	switch strings.ToUpper(c.Copy.OrderType) {
	case "GTC", "FOK", "FAK":
	default:
		return fmt.Errorf("不支持的订单类型: %s（支持 GTC/FOK/FAK）", c.Copy.OrderType)
	}
	switch strings.ToLower(c.Copy.WSMode) {
	case "market", "user", "off":
	default:
		return fmt.Errorf("不支持的推送模式: %s（支持 market/user/off）", c.Copy.WSMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
