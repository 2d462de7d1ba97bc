package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultSupervisorURL is the Home Assistant Supervisor API base URL as
// seen from inside an add-on container.
const DefaultSupervisorURL = "http://supervisor"

var (
	// ErrMQTTDisabled is returned when MQTT is switched off in config.
	ErrMQTTDisabled = errors.New("config: mqtt disabled")

	// ErrBrokerUnresolved is returned when auto-detection cannot supply a broker.
	ErrBrokerUnresolved = errors.New("config: mqtt broker could not be resolved")
)

// BrokerConfig is a fully resolved MQTT broker address and credentials.
type BrokerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
}

// supervisorMQTTResponse is the Supervisor's /services/mqtt payload.
type supervisorMQTTResponse struct {
	Result string `json:"result"`
	Data   struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		SSL      bool   `json:"ssl"`
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"data"`
}

// ResolveBrokerConfig turns the MQTT section into concrete broker settings.
//
// Fields holding AutoDetect are looked up from the Home Assistant Supervisor
// services API using SUPERVISOR_TOKEN. Explicit values always win. The
// returned error is ErrMQTTDisabled or wraps ErrBrokerUnresolved when no
// usable broker exists; callers treat either as "run without MQTT".
func ResolveBrokerConfig(ctx context.Context, cfg MQTTConfig) (BrokerConfig, error) {
	return resolveBroker(ctx, cfg, DefaultSupervisorURL, os.Getenv("SUPERVISOR_TOKEN"))
}

func resolveBroker(ctx context.Context, cfg MQTTConfig, supervisorURL, token string) (BrokerConfig, error) {
	if !cfg.Enabled {
		return BrokerConfig{}, ErrMQTTDisabled
	}

	resolved := BrokerConfig{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		TLS:      cfg.Broker.TLS,
	}

	needsLookup := resolved.Host == AutoDetect || resolved.Username == AutoDetect || resolved.Password == AutoDetect
	if needsLookup {
		if token == "" {
			return BrokerConfig{}, fmt.Errorf("%w: SUPERVISOR_TOKEN not set", ErrBrokerUnresolved)
		}
		svc, err := querySupervisor(ctx, supervisorURL, token)
		if err != nil {
			return BrokerConfig{}, fmt.Errorf("%w: %w", ErrBrokerUnresolved, err)
		}
		if resolved.Host == AutoDetect {
			resolved.Host = svc.Data.Host
			resolved.Port = svc.Data.Port
			resolved.TLS = svc.Data.SSL
		}
		if resolved.Username == AutoDetect {
			resolved.Username = svc.Data.Username
		}
		if resolved.Password == AutoDetect {
			resolved.Password = svc.Data.Password
		}
	}

	if resolved.Host == "" {
		return BrokerConfig{}, fmt.Errorf("%w: no host", ErrBrokerUnresolved)
	}
	if resolved.Port == 0 {
		resolved.Port = 1883
	}

	return resolved, nil
}

func querySupervisor(ctx context.Context, baseURL, token string) (*supervisorMQTTResponse, error) {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")

	var out supervisorMQTTResponse
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/services/mqtt")
	if err != nil {
		return nil, fmt.Errorf("querying supervisor: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("supervisor returned %s", resp.Status())
	}
	if out.Result != "ok" || out.Data.Host == "" {
		return nil, fmt.Errorf("supervisor has no mqtt service")
	}
	return &out, nil
}
