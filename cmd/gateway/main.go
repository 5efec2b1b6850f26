package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/gateway"
	"github.com/driftgate/driftgate/internal/orderbook"
	"github.com/driftgate/driftgate/internal/server"
	"github.com/driftgate/driftgate/internal/swap"
	"github.com/driftgate/driftgate/internal/txstore"
	"github.com/driftgate/driftgate/pkg/config"
	"github.com/driftgate/driftgate/pkg/logger"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("GATEWAY_CONFIG"), "config file path (yaml)")
		delegate   = flag.Bool("delegate", false, "sign as delegate for the configured authority")
		emulate    = flag.String("emulate", "", "emulation mode: watch the given authority read-only")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *emulate != "" {
		cfg.Wallet.Emulate = *emulate
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.OutputFile,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	log := logger.Logger

	wallet, err := buildWallet(cfg, *delegate)
	if err != nil {
		log.Fatalf("钱包初始化失败: %v", err)
	}
	log.Infof("authority: %s (delegated=%v readOnly=%v)",
		wallet.Authority(), wallet.IsDelegated(), wallet.IsReadOnly())

	stateCommit, err := chain.ParseCommitment(cfg.RPC.Commitment)
	if err != nil {
		log.Fatalf("commitment 配置无效: %v", err)
	}
	txCommit, err := chain.ParseCommitment(cfg.RPC.TxCommitment)
	if err != nil {
		log.Fatalf("txCommitment 配置无效: %v", err)
	}
	client, err := chain.NewRPCClient(chain.RPCConfig{
		Endpoints:       cfg.RPC.Endpoints,
		WSEndpoint:      cfg.WSEndpointOrDerived(),
		StateCommitment: stateCommit,
		TxCommitment:    txCommit,
		Timeout:         time.Duration(cfg.RPC.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("rpc 客户端初始化失败: %v", err)
	}

	var routes swap.RouteProvider
	if cfg.Swap.QuoteEndpoint != "" {
		routes = swap.NewHTTPProvider(cfg.Swap.QuoteEndpoint)
	}
	var book *orderbook.Client
	if cfg.Orderbook.Endpoint != "" {
		book = orderbook.NewClient(cfg.Orderbook.Endpoint)
	}

	gw := gateway.New(cfg, client, wallet, txCommit, routes, book)

	var store *txstore.Store
	if cfg.StorePath != "" {
		store, err = txstore.Open(cfg.StorePath)
		if err != nil {
			log.Fatalf("回执日志打开失败: %v", err)
		}
		defer store.Close()
		gw.Engine().SetJournal(store)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := gw.Start(bootCtx); err != nil {
		bootCancel()
		log.Fatalf("bootstrap 失败: %v", err)
	}
	bootCancel()
	defer gw.Close()

	httpSrv := server.New(gw, store, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	wsSrv := server.NewWS(gw.Registry(), fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WSPort))

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil {
			log.Errorf("http 服务异常退出: %v", err)
		}
	}()
	go func() {
		if err := wsSrv.ListenAndServe(); err != nil {
			log.Errorf("ws 服务异常退出: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = wsSrv.Shutdown(ctx)

	fmt.Println("gateway stopped")
}

// buildWallet 从环境变量装配钱包。
// GATEWAY_KEY 为 ed25519 seed（hex）；emulate 模式忽略私钥只读跟踪。
func buildWallet(cfg config.Config, delegate bool) (*chain.Wallet, error) {
	if cfg.Wallet.Emulate != "" {
		return chain.NewReadOnlyWallet(cfg.Wallet.Emulate), nil
	}
	seed := os.Getenv(config.EnvKeySecret)
	if seed == "" {
		return nil, fmt.Errorf("%s is not set", config.EnvKeySecret)
	}
	signer, err := chain.NewKeypairSigner(seed)
	if err != nil {
		return nil, err
	}
	if delegate || cfg.Wallet.Delegate != "" {
		if cfg.Wallet.Delegate == "" {
			return nil, fmt.Errorf("delegate mode requires wallet.delegate authority")
		}
		return chain.NewDelegatedWallet(signer, cfg.Wallet.Delegate), nil
	}
	return chain.NewWallet(signer), nil
}
