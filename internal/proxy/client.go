package proxy

import (
	"fmt"
	"time"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
)

// ClientOptions carries the scan settings shared by every transport.
type ClientOptions struct {
	PollInterval time.Duration // HTTP transport
	Adapter      string        // local transport
}

// NewClient builds the ProxyClient for p's transport. The transport is
// fixed by configuration and never probed.
func NewClient(p config.ProxyConfig, opts ClientOptions, logger Logger) (ProxyClient, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	switch p.Transport {
	case "", config.TransportWebSocket:
		password := p.Password
		if password == "" {
			password = p.APIKey
		}
		c := NewWebSocketClient(p.Host, p.Port, p.Path, password)
		c.SetLogger(logger)
		return c, nil
	case config.TransportHTTP:
		c := NewHTTPPollClient(p.Host, p.Port, p.Path, p.APIKey, opts.PollInterval)
		c.SetLogger(logger)
		return c, nil
	case config.TransportLocal:
		c := NewAdapterClient(opts.Adapter)
		c.SetLogger(logger)
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, p.Transport)
	}
}

// EndpointsFromConfig builds one Endpoint per configured proxy.
func EndpointsFromConfig(cfg *config.Config, logger Logger) ([]Endpoint, error) {
	opts := ClientOptions{PollInterval: cfg.PollInterval(), Adapter: cfg.Scan.Adapter}
	endpoints := make([]Endpoint, 0, len(cfg.Proxies))
	for _, p := range cfg.Proxies {
		client, err := NewClient(p, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", p.Name, err)
		}
		endpoints = append(endpoints, Endpoint{
			Name:      p.Name,
			Host:      p.Host,
			Port:      p.Port,
			Transport: p.Transport,
			Client:    client,
		})
	}
	return endpoints, nil
}
