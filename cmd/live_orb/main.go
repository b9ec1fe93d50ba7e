// Package main runs the opening-range bot against a live venue. Credentials
// come from the environment (or a .env file), never from flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"orb-backtest/services/broker"
	"orb-backtest/services/livebot"
	"orb-backtest/strategies"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	envFile := flag.String("env", ".env", "Env file with broker credentials")
	strategy := flag.String("strategy", "orb_5min", "Strategy preset name")
	symbol := flag.String("symbol", "QQQ", "Trading symbol")
	interval := flag.String("interval", "5m", "Bar interval")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(*envFile); err != nil {
		logger.Info("no env file, using process environment", zap.String("path", *envFile))
	}

	apiURL := env("BROKER_API_URL", "")
	wsURL := env("BROKER_WS_URL", "")
	apiKey := os.Getenv("BROKER_API_KEY")
	apiSecret := os.Getenv("BROKER_API_SECRET")
	if apiURL == "" || wsURL == "" || apiKey == "" || apiSecret == "" {
		logger.Fatal("BROKER_API_URL, BROKER_WS_URL, BROKER_API_KEY and BROKER_API_SECRET must be set")
	}

	cfg, err := strategies.Preset(*strategy, *symbol)
	if err != nil {
		logger.Fatal("bad strategy", zap.Error(err))
	}

	warmupDays := cfg.ATRPeriod
	if v := os.Getenv("ORB_WARMUP_DAYS"); v != "" {
		warmupDays, err = strconv.Atoi(v)
		if err != nil {
			logger.Fatal("bad ORB_WARMUP_DAYS", zap.Error(err))
		}
	}

	client := broker.NewClient(apiURL, apiKey, apiSecret, logger)
	stream := broker.NewStream(wsURL, logger)

	bot, err := livebot.New(livebot.Config{
		Symbol:     *symbol,
		Interval:   *interval,
		Engine:     cfg,
		WarmupDays: warmupDays,
	}, client, stream, logger)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down")
		cancel()
	}()

	if err := bot.Warmup(ctx); err != nil {
		logger.Fatal("warmup failed", zap.Error(err))
	}
	logger.Info("bot running",
		zap.String("symbol", *symbol),
		zap.String("strategy", *strategy),
		zap.String("interval", *interval))

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}
