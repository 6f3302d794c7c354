// Package telemetry implements the telemetry client (component F): a
// periodic publisher of sensor samples and mode-change notifications to
// the coordinating server, plus a heartbeat, none of which block the
// control engine. Publishes use bounded retries; the heartbeat makes a
// single attempt per minute. Grounded on the teacher's
// fleet/edge brain client (a thin http.Client wrapper posting JSON
// payloads and checking status codes) generalized with the
// retry/back-off policy the specification requires.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/engine"
	"github.com/wrale/heatpump-thermostat/internal/hal"
	"github.com/wrale/heatpump-thermostat/internal/setpoint"
	"github.com/wrale/heatpump-thermostat/pkg/metrics"
)

// httpTimeout bounds any single call to the coordinating server.
const httpTimeout = 10 * time.Second

// retryBackoff is the fixed delay between retries of a publish call.
const retryBackoff = 2 * time.Second

// maxFailuresBeforeWarn is the number of consecutive heartbeat failures
// tolerated before the first warning is logged.
const maxFailuresBeforeWarn = 5

// heartbeatRenotifyInterval re-raises the heartbeat warning this often
// while the outage persists, rather than on every subsequent failure.
const heartbeatRenotifyInterval = 30 * time.Minute

// ReadingSource supplies the latest valid sensor reading.
type ReadingSource interface {
	CurrentReading() (hal.Reading, bool)
}

// dataPayload is posted to the server's data endpoint.
type dataPayload struct {
	DeviceID    string  `json:"device_id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// modePayload is posted to the server's mode endpoint.
type modePayload struct {
	DeviceID string `json:"device_id"`
	Mode     string `json:"mode"`
}

// Client is the telemetry client. It implements engine.ModeObserver so
// it can be wired directly into the control engine.
type Client struct {
	log        *zap.Logger
	httpClient *http.Client
	baseURL    string
	deviceID   string
	retryCount int

	readings ReadingSource

	lastSentMode            hal.RelayMode
	consecutiveHBFailures    int
	lastHeartbeatWarnAt      time.Time

	metrics *metrics.Collectors
}

// SetMetrics wires the prometheus collectors this client updates. A nil
// collector (the default) disables all metric updates.
func (c *Client) SetMetrics(m *metrics.Collectors) {
	c.metrics = m
}

// New constructs a telemetry client.
func New(baseURL, deviceID string, retryCount int, readings ReadingSource, log *zap.Logger) *Client {
	return &Client{
		log:        log.Named("telemetry.client"),
		httpClient: &http.Client{Timeout: httpTimeout},
		baseURL:    baseURL,
		deviceID:   deviceID,
		retryCount: retryCount,
		readings:   readings,
	}
}

// RunDataPublisher periodically posts the latest sensor sample until ctx
// is cancelled. A missing reading or exhausted retries are logged and
// skipped — this never blocks the control engine, which does not share
// a goroutine with this loop.
func (c *Client) RunDataPublisher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reading, ok := c.readings.CurrentReading()
			if !ok {
				continue
			}
			if err := c.postWithRetry(ctx, "/api/receive_data", dataPayload{
				DeviceID:    c.deviceID,
				Temperature: reading.Temperature,
				Humidity:    reading.Humidity,
			}); err != nil {
				c.log.Warn("data publish failed, giving up until next interval", zap.Error(err))
			}
		}
	}
}

// OnModeChange implements engine.ModeObserver: fire-and-forget POST to
// the mode endpoint, deduped against the last mode actually sent (a
// second line of defense beyond the engine's own dedup).
func (c *Client) OnModeChange(mode hal.RelayMode) {
	if mode == c.lastSentMode {
		return
	}
	c.lastSentMode = mode

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		if err := c.postWithRetry(ctx, "/api/update_mode", modePayload{
			DeviceID: c.deviceID,
			Mode:     string(mode),
		}); err != nil {
			c.log.Warn("mode publish failed, giving up", zap.String("mode", string(mode)), zap.Error(err))
		}
	}()
}

var _ engine.ModeObserver = (*Client)(nil)

// RunHeartbeat pings the server once a minute with the device's LAN
// address. Transient failures only warn after maxFailuresBeforeWarn
// consecutive drops, and again every heartbeatRenotifyInterval
// thereafter, so a prolonged outage does not spam logs.
func (c *Client) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.heartbeatOnce(ctx, time.Now())
		}
	}
}

func (c *Client) heartbeatOnce(ctx context.Context, now time.Time) {
	ip := localAddress()
	url := fmt.Sprintf("%s/api/devices/%s/heartbeat?ip=%s", c.baseURL, c.deviceID, ip)

	// requestID correlates this heartbeat with the server's own log of
	// the same exchange, grounded on the teacher's uuid.New().String()
	// identifier minting in internal/fleet/config.
	requestID := uuid.New().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err == nil {
		req.Header.Set("X-Request-Id", requestID)
		resp, doErr := c.httpClient.Do(req)
		if doErr == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				c.consecutiveHBFailures = 0
				return
			}
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		} else {
			err = doErr
		}
	}

	c.consecutiveHBFailures++
	if c.metrics != nil {
		c.metrics.TelemetryFailures.WithLabelValues("heartbeat").Inc()
	}
	if c.consecutiveHBFailures == maxFailuresBeforeWarn ||
		(c.consecutiveHBFailures > maxFailuresBeforeWarn && now.Sub(c.lastHeartbeatWarnAt) >= heartbeatRenotifyInterval) {
		c.log.Warn("heartbeat failing repeatedly",
			zap.Int("consecutive_failures", c.consecutiveHBFailures), zap.String("request_id", requestID), zap.Error(err))
		c.lastHeartbeatWarnAt = now
	} else {
		c.log.Debug("heartbeat failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

// RegisterDevice announces this device to the coordinator once at
// startup. Failure is logged, not fatal — the heartbeat and data
// publishers retry their own calls regardless of registration outcome.
func (c *Client) RegisterDevice(ctx context.Context) {
	if err := c.postWithRetry(ctx, "/api/devices/register", map[string]string{"device_id": c.deviceID}); err != nil {
		c.log.Warn("device registration failed", zap.Error(err))
	}
}

// postWithRetry posts payload as JSON to path, retrying up to
// c.retryCount times with a fixed back-off.
func (c *Client) postWithRetry(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
			continue
		}
		return nil
	}
	if c.metrics != nil {
		c.metrics.TelemetryFailures.WithLabelValues(path).Inc()
	}
	return lastErr
}

// localAddress returns this host's outbound LAN address, best-effort.
func localAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// SettingsFetcher wiring: the set-point store fetches server settings
// through this same HTTP client, satisfying setpoint.SettingsFetcher.
type SettingsFetcher struct {
	client *Client
}

// NewSettingsFetcher adapts an existing telemetry client into a
// setpoint.SettingsFetcher for the boot-time set-point fetch.
func NewSettingsFetcher(c *Client) *SettingsFetcher {
	return &SettingsFetcher{client: c}
}

func (f *SettingsFetcher) FetchSettings(ctx context.Context) (setpoint.ServerSettings, error) {
	url := fmt.Sprintf("%s/api/device/%s/settings", f.client.baseURL, f.client.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return setpoint.ServerSettings{}, err
	}

	resp, err := f.client.httpClient.Do(req)
	if err != nil {
		return setpoint.ServerSettings{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return setpoint.ServerSettings{}, fmt.Errorf("settings endpoint: unexpected status %d", resp.StatusCode)
	}

	var settings setpoint.ServerSettings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return setpoint.ServerSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}
