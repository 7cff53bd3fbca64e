package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	log "github.com/sirupsen/logrus"

	"github.com/andressade/MFFR-Profit-Tracker/internal/api"
	"github.com/andressade/MFFR-Profit-Tracker/internal/collector"
	"github.com/andressade/MFFR-Profit-Tracker/internal/config"
	"github.com/andressade/MFFR-Profit-Tracker/internal/notifier"
	"github.com/andressade/MFFR-Profit-Tracker/internal/recorder"
	"github.com/andressade/MFFR-Profit-Tracker/internal/scheduler"
	"github.com/andressade/MFFR-Profit-Tracker/internal/store"
	"github.com/andressade/MFFR-Profit-Tracker/internal/tracker"
)

var version = "<not set>"

type args struct {
	Config   string `arg:"-c,--config,env:CONFIG_PATH" default:"configs/config.yaml" help:"path to the YAML config"`
	LogLevel string `arg:"-l,--log-level,env:LOG_LEVEL" default:"info" help:"debug, info, warn or error"`
	RunOnce  bool   `arg:"--run-once" help:"refresh prices, run one tick, persist and exit"`
}

func (args) Version() string {
	return "mffr-tracker " + version
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	// .env first so go-arg sees CONFIG_PATH and LOG_LEVEL from it.
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	var a args
	arg.MustParse(&a)
	level, err := log.ParseLevel(a.LogLevel)
	if err != nil {
		log.Fatalf("log level: %v", err)
	}
	log.SetLevel(level)
	log.Infof("MFFR profit tracker %s starting", version)

	if err := run(a); err != nil {
		log.Fatal(err)
	}
}

func run(a args) error {
	cfg, err := config.Load(a.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	mode, err := tracker.ParsePriceSourceMode(cfg.Prices.SourceMode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := collector.NewHomeAssistantReader(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, collector.Entities{
		Mode:     cfg.HomeAssistant.ModeEntity,
		Power:    cfg.HomeAssistant.PowerEntity,
		Nordpool: cfg.HomeAssistant.NordpoolEntity,
	}, cfg.Proxy, cfg.HomeAssistant.VerifySSL)

	fetcher := collector.NewFRRFetcher(cfg.Prices.URL, cfg.Proxy, cfg.Prices.VerifySSL, loc)
	book := collector.NewPriceBook(fetcher, cfg.PriceRefreshInterval())
	log.Infof("sample source: %s, price source: %s (%s)", reader.Name(), fetcher.Name(), mode)
	if err := book.Refresh(ctx); err != nil {
		log.Warnf("initial price fetch failed, slots will wait for prices: %v", err)
	}

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	var history recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, loc)
		if err != nil {
			log.Warnf("init sqlite recorder failed, using noop: %v", err)
		} else {
			rec, history = sr, sr
			defer sr.Close()
		}
	}

	driver, err := tracker.New(reader, book, store.NewFileStore(cfg.Tracker.StateFile), rec, tracker.Options{
		FeeFraction:     cfg.Tracker.FeeFraction,
		BaselineEnabled: cfg.Tracker.BaselineEnabled,
		PriceSource:     mode,
		PriceTimeout:    cfg.PriceTimeout(),
		PendingCapacity: cfg.Tracker.PendingCapacity,
		PendingMaxAge:   cfg.PendingMaxAge(),
		RecentLimit:     cfg.Tracker.RecentLimit,
		BoundaryGrace:   cfg.BoundaryGrace(),
		MaxGap:          cfg.MaxSampleGap(),
		LowPowerW:       cfg.Tracker.LowPowerW,
		LowPowerGrace:   cfg.LowPowerGrace(),
		Location:        loc,
	})
	if err != nil {
		return err
	}

	var tn *notifier.TelegramNotifier
	var n scheduler.Notifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		n = tn
	}

	sched := scheduler.NewScheduler(ctx, driver, book, n, rec)

	if a.RunOnce {
		if err := sched.RunOnce(); err != nil {
			log.Warnf("tick: %v", err)
		}
		snap := driver.Snapshot()
		log.Infof("signal %s, slot energy %.6f kWh, today €%.4f, pending %d",
			snap.Signal, snap.SlotEnergyKWh, snap.TodayProfit, snap.PendingSlots)
		return driver.Shutdown(ctx)
	}

	if err := sched.RegisterAll(scheduler.Schedules{
		ScanInterval: cfg.ScanInterval(),
		PriceRefresh: cfg.Prices.RefreshCron,
		DailySummary: cfg.Telegram.SummaryCron,
	}); err != nil {
		return err
	}
	sched.Start()

	var server *api.Server
	if cfg.HTTP.Listen != "" {
		server = api.NewServer(driver, history, cfg.HTTP.CORSOrigins)
		server.Start(cfg.HTTP.Listen)
	}

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	log.Info("tracker is running, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping")
	sched.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := driver.Shutdown(shutdownCtx); err != nil {
		log.Errorf("tracker shutdown: %v", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("HTTP shutdown: %v", err)
		}
	}
	cancel()
	log.Info("tracker stopped")
	return nil
}
