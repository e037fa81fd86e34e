package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"tradesync/internal/alert"
	"tradesync/internal/config"
	"tradesync/internal/exchange/btctrade"
	"tradesync/internal/health"
	"tradesync/internal/notify"
	"tradesync/internal/persist"
	"tradesync/internal/state"
	"tradesync/internal/syncer"
)

const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// Optional; env vars fill credential fields left out of the config file.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyEnvCredentials(&cfg)

	log := setupLogger(cfg.Logging)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logrus.Entry) error {
	pairs, err := cfg.Pairs()
	if err != nil {
		return err
	}
	anchor, err := cfg.AnchorDate()
	if err != nil {
		return err
	}

	hub := notify.NewHub(log.WithField("component", "notify"))

	var gateway persist.Gateway
	if cfg.State.Dir != "" {
		store, err := persist.Open(cfg.State.Dir)
		if err != nil {
			return err
		}
		defer store.Close()
		gateway = store
	}

	client := btctrade.NewClient(cfg.Exchange)
	market := btctrade.NewMarketProvider(client, cfg.Market.MinNotional.Decimal)
	account := btctrade.NewAccountProvider(client)

	store := state.NewWithOptions(hub, state.Options{
		MaxMissedPolls: cfg.Sync.PublishingMaxMissedPolls,
	})

	orch, err := syncer.New(syncer.Options{
		Market:        market,
		Account:       account,
		Store:         store,
		Gateway:       gateway,
		Credentials:   cfg.Credentials(),
		Pairs:         pairs,
		PollInterval:  cfg.PollInterval(),
		HistoryAnchor: anchor,
		Log:           log.WithField("component", "syncer"),
	})
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(market, pairs[0], cfg.PollInterval(), hub,
		log.WithField("component", "health"))

	var alerts *alert.Manager
	if cfg.Alerts.Telegram.Enabled {
		alerts = alert.NewManager("tradesync",
			alert.NewTelegramNotifier(cfg.Alerts.Telegram),
			log.WithField("component", "alert"))
		alert.BridgeHub(hub, alerts)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"event":         "started",
		"pairs":         cfg.Sync.Pairs,
		"poll_interval": cfg.PollInterval().String(),
		"authenticated": !cfg.Credentials().Empty(),
	}).Info("sync engine started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if alerts != nil {
		if err := alerts.Close(drainCtx); err != nil {
			log.WithError(err).Warn("alert drain incomplete")
		}
	}
	if err := hub.Close(drainCtx); err != nil {
		log.WithError(err).Warn("notification drain incomplete")
	}
	log.WithField("event", "stopped").Info("sync engine stopped")
	return nil
}

// applyEnvCredentials lets keys live outside the config file.
func applyEnvCredentials(cfg *config.Config) {
	if v := os.Getenv("TRADESYNC_PUBLIC_KEY"); v != "" {
		cfg.Exchange.PublicKey = v
	}
	if v := os.Getenv("TRADESYNC_PRIVATE_KEY"); v != "" {
		cfg.Exchange.PrivateKey = v
	}
}

func setupLogger(cfg config.LoggingConfig) *logrus.Entry {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotated))
	}
	return logrus.NewEntry(logger)
}
