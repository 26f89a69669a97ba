package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"ionmandns/pkg/config"
	"ionmandns/pkg/firewall"
	"ionmandns/pkg/logging"
	"ionmandns/pkg/proxy"
	"ionmandns/pkg/querylog"
	"ionmandns/pkg/resolver"
	"ionmandns/pkg/rules"
	"ionmandns/pkg/storage"
	"ionmandns/pkg/supervisor"
	"ionmandns/pkg/telemetry"
)

var (
	configPath  = flag.String("config", "config.yml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information and exit")

	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("ionmandns\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("ionmandns starting", "version", version, "build_time", buildTime, "git_commit", gitCommit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	if _, err := telem.InitMetrics(); err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.Database)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := rules.New(logger)

	var fw firewall.Installer
	if cfg.Firewall.Enabled {
		nft, err := firewall.NewNFTables(cfg.Firewall.Table, cfg.Firewall.Chain)
		if err != nil {
			logger.Error("failed to initialize firewall installer", "error", err)
			os.Exit(1)
		}
		fw = nft
	}

	super := supervisor.New(store, engine, fw, logger, cfg.ReloadPeriod, cfg.Rules.CategoriesPath, cfg.Rules.GamesPath)
	go super.Run(ctx)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				logger.Info("reload signal received")
				super.Reload()
			}
		}
	}()

	var qlog *querylog.Logger
	var rlog *querylog.ResolverLogger
	if cfg.Server.QueryLogger.Enabled {
		qlog = querylog.New(store, logger, cfg.Server.QueryLogger.BufferSize, cfg.Server.QueryLogger.BatchSize)
		defer qlog.Close()

		rlog = querylog.NewResolverLogger(store, logger, cfg.Server.QueryLogger.BufferSize, cfg.Server.QueryLogger.BatchSize)
		defer rlog.Close()
	}

	resolverAddr := cfg.Resolver.ListenAddress
	if host, port, err := net.SplitHostPort(cfg.Resolver.ListenAddress); err == nil && host == "" {
		resolverAddr = net.JoinHostPort("127.0.0.1", port)
	}
	frontProxy := proxy.New(cfg.Server.ListenAddress, resolverAddr, engine, qlog, logger)

	upstreams := make([]resolver.Upstream, 0, len(cfg.Resolver.Upstreams))
	for _, u := range cfg.Resolver.Upstreams {
		upstreams = append(upstreams, resolver.Upstream{
			Host:       u.Host,
			Port:       u.Port,
			Transport:  u.Transport,
			ServerName: u.ServerName,
		})
	}
	recursiveResolver := resolver.New(
		cfg.Resolver.ListenAddress,
		upstreams,
		cfg.Resolver.AttemptTimeout,
		cfg.Resolver.Cache.MaxEntries,
		cfg.Resolver.Cache.MinTTL,
		cfg.Resolver.Cache.MaxTTL,
		logger,
		rlog,
	)
	defer recursiveResolver.Close()

	go func() {
		if err := recursiveResolver.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("recursive resolver stopped", "error", err)
		}
	}()
	go recursiveResolver.RunStatusWriter(ctx, cfg.Resolver.StatusPath, cfg.Resolver.StatusInterval)

	go func() {
		if err := frontProxy.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("front proxy stopped", "error", err)
		}
	}()

	logger.Info("ionmandns ready",
		"proxy_listen", cfg.Server.ListenAddress,
		"resolver_listen", cfg.Resolver.ListenAddress,
		"firewall_enabled", cfg.Firewall.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutting down")
}
