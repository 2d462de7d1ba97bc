package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultHTTPPath is polled when the proxy config sets no path.
	DefaultHTTPPath = "/api/ble/devices"

	// DefaultPollInterval is the delay between polls.
	DefaultPollInterval = 10 * time.Second

	httpRequestTimeout = 10 * time.Second
)

// httpDevice is one entry of the poll response. Manufacturer is a name or
// a manufacturer data object, as in WebSocket frames.
type httpDevice struct {
	MAC          string          `json:"mac"`
	Name         string          `json:"name"`
	RSSI         int             `json:"rssi"`
	Manufacturer json.RawMessage `json:"manufacturer,omitempty"`
	Services     []string        `json:"services"`
}

// decodeHTTPDevice decodes one poll entry. Malformed entries return ErrDecode.
func decodeHTTPDevice(raw json.RawMessage) (Advertisement, error) {
	var d httpDevice
	if err := json.Unmarshal(raw, &d); err != nil {
		return Advertisement{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	manufacturer, err := parseManufacturer(d.Manufacturer)
	if err != nil {
		return Advertisement{}, err
	}
	return Advertisement{
		MAC:          d.MAC,
		Name:         d.Name,
		RSSI:         d.RSSI,
		Manufacturer: manufacturer,
		Services:     d.Services,
	}, nil
}

// HTTPPollClient polls a proxy's REST endpoint for recently seen devices.
// Each poll result is delivered as a batch of advertisements.
type HTTPPollClient struct {
	client   *resty.Client
	path     string
	interval time.Duration
	logger   Logger

	pending []Advertisement
}

// NewHTTPPollClient creates a client for http://host:port. An empty path
// uses DefaultHTTPPath; a non-positive interval uses DefaultPollInterval.
// apiKey, when set, is sent as a bearer token.
func NewHTTPPollClient(host string, port int, path, apiKey string, interval time.Duration) *HTTPPollClient {
	if path == "" {
		path = DefaultHTTPPath
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	client := resty.New().
		SetBaseURL("http://"+net.JoinHostPort(host, strconv.Itoa(port))).
		SetTimeout(httpRequestTimeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &HTTPPollClient{
		client:   client,
		path:     path,
		interval: interval,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *HTTPPollClient) SetLogger(logger Logger) {
	c.logger = logger
}

// Connect performs the first poll, proving the endpoint is reachable.
func (c *HTTPPollClient) Connect(ctx context.Context) error {
	advs, err := c.poll(ctx)
	if err != nil {
		return err
	}
	c.pending = advs
	return nil
}

// Subscribe delivers the first poll's result, then polls every interval
// until a poll fails or ctx is cancelled.
func (c *HTTPPollClient) Subscribe(ctx context.Context, handle func(Advertisement)) error {
	for _, adv := range c.pending {
		handle(adv)
	}
	c.pending = nil

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			advs, err := c.poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			for _, adv := range advs {
				handle(adv)
			}
		}
	}
}

// Disconnect drops idle keep-alive connections.
func (c *HTTPPollClient) Disconnect() error {
	c.pending = nil
	c.client.GetClient().CloseIdleConnections()
	return nil
}

func (c *HTTPPollClient) poll(ctx context.Context) ([]Advertisement, error) {
	var entries []json.RawMessage
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&entries).
		Get(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: polling %s: %w", ErrTransport, c.path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: polling %s: status %d", ErrTransport, c.path, resp.StatusCode())
	}

	// A bad entry is dropped on its own; the rest of the poll still counts.
	advs := make([]Advertisement, 0, len(entries))
	for _, raw := range entries {
		adv, err := decodeHTTPDevice(raw)
		if err != nil {
			c.logger.Debug("skipping proxy entry", "path", c.path, "error", err)
			continue
		}
		advs = append(advs, adv)
	}
	c.logger.Debug("proxy poll complete", "path", c.path, "devices", len(advs), "skipped", len(entries)-len(advs))
	return advs, nil
}
