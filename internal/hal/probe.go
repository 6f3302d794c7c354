package hal

import (
	"context"

	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/hal/ftdi"
	"github.com/wrale/heatpump-thermostat/internal/hal/gpio"
	"github.com/wrale/heatpump-thermostat/internal/hal/serialbridge"
	"github.com/wrale/heatpump-thermostat/internal/herrors"
	"github.com/wrale/heatpump-thermostat/pkg/config"
)

// candidate is one entry in the probe order: a backend restricted to a
// platform. Under Auto every candidate is tried; under a pinned mode
// only candidates whose platform equals that mode are tried.
type candidate struct {
	name     string
	platform config.HardwareMode
	build    func() (Hardware, error)
}

// Probe tries each backend in the order fixed by §4.A and returns the
// first that initializes successfully. When cfg.Mode pins a platform,
// only candidates for that platform are tried.
func Probe(ctx context.Context, cfg *config.Config, log *zap.Logger) (Hardware, error) {
	candidates := buildCandidates(cfg, log)

	var lastErr error
	for _, c := range candidates {
		if cfg.Mode != config.ModeAuto && cfg.Mode != c.platform {
			continue
		}

		hw, err := c.build()
		if err != nil {
			log.Debug("hardware backend unavailable", zap.String("backend", c.name), zap.Error(err))
			lastErr = err
			continue
		}

		if err := hw.Initialize(ctx); err != nil {
			log.Info("hardware probe failed", zap.String("backend", c.name), zap.Error(err))
			lastErr = err
			continue
		}

		log.Info("hardware probe succeeded", zap.String("backend", c.name))
		return hw, nil
	}

	return nil, herrors.Wrap(herrors.HardwareProbeFailed, "hal.Probe", "no backend could be initialized", lastErr)
}

// buildCandidates returns the probe order from §4.A: serial-bridge
// (Windows), FTDI (Linux, gated on config), serial-bridge (Linux), GPIO
// (Linux), GPIO (Windows IoT).
func buildCandidates(cfg *config.Config, log *zap.Logger) []candidate {
	serialCfg := serialbridge.Config{
		ArduinoPort: cfg.ArduinoComPort,
		RelayPort:   cfg.RelayComPort,
		BaudRate:    cfg.BaudRate,
		Timeout:     cfg.ComTimeout(),
	}

	candidates := []candidate{
		{
			name:     "serial-bridge(windows)",
			platform: config.ModeWindows,
			build: func() (Hardware, error) {
				return serialbridge.New(serialCfg, log), nil
			},
		},
	}

	if cfg.EnableFTDIRelay && cfg.FTDISerialNumber != "" {
		candidates = append(candidates, candidate{
			name:     "ftdi(linux)",
			platform: config.ModeLinux,
			build: func() (Hardware, error) {
				sensor := ftdiSensorSubBackend(cfg, log)
				return ftdi.New(ftdi.Config{
					SerialNumber: cfg.FTDISerialNumber,
					Relays:       relayBitPinsFromConfig(cfg),
				}, sensor, log), nil
			},
		})
	}

	candidates = append(candidates,
		candidate{
			name:     "serial-bridge(linux)",
			platform: config.ModeLinux,
			build: func() (Hardware, error) {
				return serialbridge.New(serialCfg, log), nil
			},
		},
		candidate{
			name:     "gpio(linux)",
			platform: config.ModeLinux,
			build: func() (Hardware, error) {
				return gpio.New(gpioConfigFrom(cfg, cfg.TemperatureUnit == config.UnitFahrenheit), log)
			},
		},
		candidate{
			name:     "gpio(windows-iot)",
			platform: config.ModeWindows,
			build: func() (Hardware, error) {
				return gpio.New(gpioConfigFrom(cfg, cfg.TemperatureUnit == config.UnitFahrenheit), log)
			},
		},
	)

	return candidates
}

// ftdiSensorSubBackend chooses the FTDI backend's composed sensor
// sub-backend: serial-bridge when an Arduino port is configured,
// otherwise the GPIO/pigpio sensor path on the dedicated sensor pin.
// Never GPIO-with-GPIO-relay, per the open question in §9 — the FTDI
// backend never asks the sub-backend for relay writes, though a GPIO
// sub-backend still drives its configured relay pins to the inactive
// level in Initialize and Cleanup.
func ftdiSensorSubBackend(cfg *config.Config, log *zap.Logger) ftdi.SensorBackend {
	if cfg.ArduinoComPort != "" {
		return serialbridge.New(serialbridge.Config{
			ArduinoPort: cfg.ArduinoComPort,
			BaudRate:    cfg.BaudRate,
			Timeout:     cfg.ComTimeout(),
		}, log)
	}
	b, _ := gpio.New(gpioConfigFrom(cfg, cfg.TemperatureUnit == config.UnitFahrenheit), log)
	return b
}

func relayBitPinsFromConfig(cfg *config.Config) ftdi.RelayBitPins {
	pins := cfg.RelayPins
	if len(pins) < 4 {
		return ftdi.RelayBitPins{}
	}
	return ftdi.RelayBitPins{Fan: pins[0], Cool: pins[1], Heat: pins[2], Emergency: pins[3]}
}

func gpioConfigFrom(cfg *config.Config, fahrenheit bool) gpio.Config {
	pins := cfg.RelayPins
	var relays gpio.RelayPinSet
	if len(pins) >= 4 {
		relays = gpio.RelayPinSet{Fan: pins[0], Cool: pins[1], Heat: pins[2], Emergency: pins[3]}
	}
	return gpio.Config{
		Relays:     relays,
		SensorPin:  cfg.DHTSensorPin,
		ActiveLow:  true,
		Fahrenheit: fahrenheit,
	}
}
