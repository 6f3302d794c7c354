// Package main implements thermostatd, the heat-pump thermostat
// controller: hardware probe, sensor polling, the closed-loop control
// engine, telemetry to the coordinating server, and a local HTTP API.
// Grounded on the teacher's cmd/wfdevice entrypoint (flag parsing,
// signal-driven graceful shutdown with a bounded timeout), generalized
// from a single agent process into this device's full component graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/api"
	"github.com/wrale/heatpump-thermostat/internal/apihttp"
	"github.com/wrale/heatpump-thermostat/internal/engine"
	"github.com/wrale/heatpump-thermostat/internal/hal"
	"github.com/wrale/heatpump-thermostat/internal/history"
	"github.com/wrale/heatpump-thermostat/internal/sensor"
	"github.com/wrale/heatpump-thermostat/internal/setpoint"
	"github.com/wrale/heatpump-thermostat/internal/telemetry"
	"github.com/wrale/heatpump-thermostat/pkg/config"
	"github.com/wrale/heatpump-thermostat/pkg/logging"
	"github.com/wrale/heatpump-thermostat/pkg/metrics"
)

// shutdownTimeout bounds graceful shutdown of every background actor.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/thermostatd/config.json", "Path to the device configuration file")
	apiAddr := flag.String("api-addr", ":5001", "Local API listen address")
	flag.Parse()

	log, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collectors := metrics.New()

	var hw hal.Hardware
	var shim *api.Shim
	var actors []func(context.Context)

	if cfg.RequiresControlLoop() {
		hw, err = hal.Probe(ctx, cfg, log)
		if err != nil {
			log.Error("hardware probe failed, refusing to start", zap.Error(err))
			return 1
		}

		poller := sensor.New(hw, cfg.SensorPollInterval(), cfg.SensorFailureThreshold, log)
		poller.SetMetrics(collectors)

		sp := setpoint.New(cfg.DefaultUserSetTemperature, log)
		sp.SetMetrics(collectors)

		hist := history.New()

		eng := engine.New(hw, cfg.RelayCommands, poller, sp, hist, engine.Thresholds{
			CoolingOffset:    cfg.CoolingOffset,
			HeatingOffset:    cfg.HeatingOffset,
			DiffThreshold:    cfg.TemperatureDifferenceThreshold,
			CompressorMinOff: cfg.CompressorMinOff(),
		}, log)
		eng.SetMetrics(collectors)

		telem := telemetry.New(cfg.VMServer, cfg.DeviceID, cfg.HTTPRetryCount, poller, log)
		telem.SetMetrics(collectors)
		eng.SetModeObserver(telem)

		shim = api.New(eng, sp, poller, *cfg, log)

		bootCtx, bootCancel := context.WithTimeout(ctx, 15*time.Second)
		telem.RegisterDevice(bootCtx)
		sp.FetchFromServer(bootCtx, telemetry.NewSettingsFetcher(telem), time.Now)
		bootCancel()

		actors = append(actors,
			func(ctx context.Context) { poller.Run(ctx) },
			func(ctx context.Context) { telem.RunDataPublisher(ctx, cfg.DataSendInterval()) },
			func(ctx context.Context) { telem.RunHeartbeat(ctx) },
			func(ctx context.Context) { runControlLoop(ctx, eng, cfg.ControlLoopInterval(), log) },
		)
	} else {
		log.Info("server deployment type: skipping hardware probe and control loop",
			zap.String("deployment_type", string(cfg.DeploymentType)))
	}

	httpSrv := apihttp.New(apihttp.Config{Addr: *apiAddr}, shim, collectors, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	var wg sync.WaitGroup
	for _, actor := range actors {
		runBackground(&wg, actor, ctx)
	}

	log.Info("thermostatd started",
		zap.String("device_id", cfg.DeviceID),
		zap.String("deployment_type", string(cfg.DeploymentType)),
		zap.String("api_addr", *apiAddr))

	if err := httpSrv.Run(ctx); err != nil {
		log.Error("local API server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		log.Warn("background actors did not stop within the shutdown timeout")
	}

	if hw != nil {
		if err := hw.Cleanup(shutdownCtx); err != nil {
			log.Error("hardware cleanup failed", zap.Error(err))
		}
	}

	log.Info("thermostatd shutdown complete")
	return 0
}

func runBackground(wg *sync.WaitGroup, f func(context.Context), ctx context.Context) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		f(ctx)
	}()
}

// runControlLoop ticks the engine on cfg.ControlLoopIntervalMs, per
// §4.E's operating cadence. The engine itself owns every decision this
// loop makes no judgment calls beyond "time to evaluate again".
func runControlLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.Tick(time.Now()); err != nil {
				log.Error("control loop tick failed", zap.Error(err))
			}
		}
	}
}
