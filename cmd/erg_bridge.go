package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/api"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/config"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/logging"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/monitor"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/session"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/store"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"
)

var adapter = bluetooth.DefaultAdapter

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	sink := logging.New(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Console:    os.Stdout,
		Debug:      cfg.Debug,
	})
	defer sink.Close()
	logger := sink.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots := openStore(cfg, logger)
	defer func() {
		if err := snapshots.Close(); err != nil {
			logger.Printf("Main: error closing store: %v", err)
		}
	}()

	pipeline := erg.NewPipeline(cfg.EngineSettings(), erg.SystemClock(), logger)
	if cfg.Debug {
		pipeline.ListenToPhase(func(phase erg.Phase) {
			logger.Printf("Main: lifecycle phase %s", phase)
		})
	}

	var transport erg.Transport
	var sim *bt.SimTransport
	if cfg.Simulate {
		sim = bt.NewSimTransport(logger, bt.SimConfig{
			Watts:      uint16(cfg.SimWatts),
			StrokeRate: cfg.SimStrokeRate,
		})
		transport = sim
		logger.Println("Main: using the simulated erg")
	} else {
		manager := bt.NewBTManager(adapter, logger)
		must("enable BLE stack", manager.Enable())
		defer manager.Shutdown()
		transport = manager
	}

	lifecycle := erg.NewManager(erg.NewManagerArg{
		Transport: transport,
		Pipeline:  pipeline,
		Clock:     erg.SystemClock(),
		Settings:  cfg.EngineSettings(),
		Logger:    logger,
	})

	controller := session.NewController(session.NewControllerArg{
		Telemetry: pipeline,
		Store:     snapshots,
		Cooldown:  cfg.Cooldown(),
		Logger:    logger,
	})
	defer controller.Shutdown()

	serverArg := api.NewServerArg{
		Session:   controller,
		Telemetry: pipeline,
		Logger:    logger,
		AccessLog: sink,
	}
	if sim != nil {
		serverArg.Sim = sim
	}
	server := api.NewServer(serverArg)

	var wg sync.WaitGroup
	go_func_utils.SafeGoWG(logger, &wg, "lifecycle", func() {
		if err := lifecycle.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("Main: lifecycle stopped: %v", err)
		}
	})
	go_func_utils.SafeGoWG(logger, &wg, "http", func() {
		if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
			logger.Printf("Main: server failed: %v", err)
			stop()
		}
	})

	if cfg.TUI {
		dashboard := monitor.NewDashboard(monitor.NewDashboardArg{
			App:       tview.NewApplication(),
			Telemetry: pipeline,
			Session:   controller,
			Logger:    logger,
			OnQuit:    stop,
		})
		sink.SetConsole(dashboard.LogWriter())
		if err := dashboard.Run(ctx); err != nil {
			logger.Printf("Main: dashboard failed: %v", err)
		}
		sink.SetConsole(os.Stdout)
		stop()
	} else {
		<-ctx.Done()
	}

	logger.Println("Main: shutting down")
	wg.Wait()
	logger.Println("Main: bye")
}

// openStore falls back to an in-memory store when the database cannot be opened
func openStore(cfg *config.Config, logger *log.Logger) store.SnapshotStore {
	if cfg.DBPath == "" {
		return store.NewMemoryStore()
	}
	sqlite, err := store.OpenSQLite(cfg.DBPath, logger)
	if err != nil {
		logger.Printf("Main: %v, keeping the last session in memory only", err)
		return store.NewMemoryStore()
	}
	return sqlite
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
