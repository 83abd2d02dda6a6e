package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/betbot/copybot/internal/copier"
	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/execution"
	"github.com/betbot/copybot/internal/metadata"
	"github.com/betbot/copybot/internal/monitor"
	"github.com/betbot/copybot/internal/position"
	"github.com/betbot/copybot/internal/risk"
	"github.com/betbot/copybot/pkg/chain"
	"github.com/betbot/copybot/pkg/config"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/sdk/api"
	"github.com/betbot/copybot/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（YAML，可选；环境变量优先）")
	dryRun := flag.Bool("dry-run", false, "纸交易模式：只打印订单不真实下单")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := initLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("启动跟单: target=%s multiplier=%.2f orderType=%s dryRun=%v",
		cfg.Copy.TargetWallet, cfg.Copy.Multiplier, cfg.Copy.OrderType, cfg.DryRun)

	if err := run(cfg); err != nil {
		logger.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
}

func initLogger(cfg *config.Config) error {
	if cfg.LogFile == "" {
		return logger.InitDefault()
	}
	return logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
	})
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ===== 签名与交易所客户端 =====
	auth, err := api.NewAuthFromKey(cfg.Wallet.PrivateKey)
	if err != nil {
		return fmt.Errorf("解析私钥失败: %w", err)
	}
	logger.Infof("签名地址: %s", auth.GetAddress().Hex())

	clob, err := api.NewClobClient("", auth)
	if err != nil {
		return fmt.Errorf("创建CLOB客户端失败: %w", err)
	}
	if cfg.Wallet.FunderAddress != "" {
		clob.SetFunder(cfg.Wallet.FunderAddress)
		clob.SetSignatureType(1)
	}
	if err := clob.EnsureAPICreds(ctx); err != nil {
		return fmt.Errorf("获取API凭证失败: %w", err)
	}

	// ===== 链上授权检查（可选自动补齐）=====
	if cfg.Chain.RPCEndpoint != "" {
		if err := checkApprovals(ctx, cfg, auth); err != nil {
			return err
		}
	} else {
		logger.Warn("未配置 RPC_ENDPOINT，跳过链上授权检查")
	}

	// ===== 核心组件 =====
	data := api.NewDataClient("")
	tracker := position.NewTracker()
	seedPositions(ctx, data, tracker, auth.GetAddress().Hex())

	riskMgr := risk.NewManager(risk.Config{
		MaxSessionNotional: cfg.Copy.MaxSessionNotional,
		MaxMarketNotional:  cfg.Copy.MaxMarketNotional,
	}, tracker)
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: int64(cfg.Copy.MaxConsecutiveErrs),
	})

	metaCache := metadata.NewCache(clob)
	engine := execution.NewEngine(clob, metaCache, execution.Config{
		Multiplier:   cfg.Copy.Multiplier,
		MinTradeSize: cfg.Copy.MinTradeSize,
		MaxTradeSize: cfg.Copy.MaxTradeSize,
		MaxSlippage:  cfg.Copy.MaxSlippage,
		OrderType:    api.OrderType(strings.ToUpper(cfg.Copy.OrderType)),
		DryRun:       cfg.DryRun,
	})

	// ===== 推送监控（按配置可关闭）=====
	// 推送回调指向 orchestrator，而 orchestrator 又要持有推送做惰性订阅，
	// 用一个延迟绑定的指针解开这个环
	var orch *copier.Orchestrator
	var watcher copier.Watcher
	var push *monitor.PushMonitor

	wsMode := strings.ToLower(cfg.Copy.WSMode)
	if wsMode != "off" {
		push, err = monitor.NewPushMonitor(
			monitor.Mode(wsMode),
			clob.APICreds(),
			cfg.Copy.TargetWallet,
			func(t *domain.Trade) {
				if orch != nil {
					orch.Submit(t)
				}
			},
		)
		if err != nil {
			return fmt.Errorf("创建推送监控失败: %w", err)
		}
		watcher = push
	}

	startTimeMs := time.Now().UnixMilli()
	orch = copier.NewOrchestrator(engine, riskMgr, breaker, tracker, watcher, startTimeMs)

	// ===== REST 监控 =====
	rest := monitor.NewRestMonitor(
		data,
		cfg.Copy.TargetWallet,
		time.Duration(cfg.Copy.PollIntervalSec)*time.Second,
		orch.Submit,
	)
	if push != nil {
		// 推送断线时立刻补一次轮询，缩小漏单窗口
		push.OnDisrupt(rest.Poke)
	}

	// ===== 启动 =====
	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		orch.Run(ctx)
	}()
	rest.Start(ctx)

	// ===== 信号与收尾 =====
	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		if push != nil {
			push.Stop()
		}
		metaCache.Close()
	})
	mgr.OnShutdown(func(shutdownCtx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		// 退出前撤掉可能还挂着的 GTC 单
		if !cfg.DryRun {
			if err := clob.CancelAll(shutdownCtx); err != nil {
				logger.Warnf("撤单失败: %v", err)
			}
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("收到信号 %s，开始退出", sig)

	cancel()
	<-orchDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)

	orch.PrintSummary()
	return nil
}

// checkApprovals 启动前确认链上授权就绪。缺授权时按配置自动补齐或直接退出。
func checkApprovals(ctx context.Context, cfg *config.Config, auth *api.Auth) error {
	svc, err := chain.NewApprovalService(cfg.Chain.RPCEndpoint, auth.GetPrivateKey())
	if err != nil {
		return fmt.Errorf("创建授权服务失败: %w", err)
	}
	defer svc.Close()

	status, err := svc.CheckAllowances(ctx)
	if err != nil {
		return fmt.Errorf("检查链上授权失败: %w", err)
	}
	logger.Infof("钱包 %s USDC余额 %s", status.Wallet, status.UsdcBalance)

	if status.TradingReady {
		logger.Info("链上授权已就绪")
		return nil
	}

	for _, issue := range status.Issues {
		logger.Warnf("授权缺失: %s", issue)
	}
	if !cfg.Chain.AutoApprove {
		return fmt.Errorf("链上授权不完整（设置 AUTO_APPROVE=true 可自动补齐）")
	}

	logger.Info("开始自动补齐授权...")
	result, err := svc.ApproveAll(ctx)
	if err != nil {
		return fmt.Errorf("补齐授权失败: %w", err)
	}
	if !result.AllApproved {
		return fmt.Errorf("部分授权交易失败，请检查钱包 gas 余额")
	}
	logger.Info("链上授权补齐完成")
	return nil
}

// seedPositions 用交易所侧的当前持仓初始化本地跟踪，保证单市场限额
// 从一开始就计入已有仓位。拉取失败只告警，从零开始跟踪。
func seedPositions(ctx context.Context, data *api.DataClient, tracker *position.Tracker, wallet string) {
	positions, err := data.GetOpenPositions(ctx, wallet)
	if err != nil {
		logger.Warnf("拉取当前持仓失败，从零开始跟踪: %v", err)
		return
	}
	for _, p := range positions {
		tracker.Seed(p.Asset, p.ConditionID, p.Size.Float64(), p.AvgPrice.Float64())
	}
	if len(positions) > 0 {
		logger.Infof("已载入 %d 个现有持仓", len(positions))
	}
}
