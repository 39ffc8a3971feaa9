package pusher

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Config holds the application credentials and endpoint settings for a
// client. It is immutable after construction; the client keeps its own
// copy.
type Config struct {
	AppID     string
	AppKey    string
	AppSecret string
	Cluster   string
	// Host overrides the cluster-derived websocket hostname when set.
	Host   string
	UseTLS bool
}

// ConfigFromEnv builds a Config from PUSHER_* environment variables:
// PUSHER_APP_ID, PUSHER_KEY, PUSHER_SECRET, PUSHER_CLUSTER, PUSHER_HOST
// and PUSHER_USE_TLS.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		AppID:     os.Getenv("PUSHER_APP_ID"),
		AppKey:    os.Getenv("PUSHER_KEY"),
		AppSecret: os.Getenv("PUSHER_SECRET"),
		Cluster:   os.Getenv("PUSHER_CLUSTER"),
		Host:      os.Getenv("PUSHER_HOST"),
		UseTLS:    true,
	}
	if s := os.Getenv("PUSHER_USE_TLS"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return Config{}, fmt.Errorf("parse PUSHER_USE_TLS: %w", err)
		}
		cfg.UseTLS = v
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the required credentials are present.
func (c Config) Validate() error {
	if c.AppID == "" {
		return errors.New("pusher: config: app id is required")
	}
	if c.AppKey == "" {
		return errors.New("pusher: config: app key is required")
	}
	if c.AppSecret == "" {
		return errors.New("pusher: config: app secret is required")
	}
	if c.Cluster == "" && c.Host == "" {
		return errors.New("pusher: config: cluster or host is required")
	}
	return nil
}

// websocketURL computes the transport endpoint. Protocol version 7 is the
// only version the engine speaks.
func (c Config) websocketURL() string {
	scheme := "ws"
	if c.UseTLS {
		scheme = "wss"
	}
	host := c.Host
	if host == "" {
		host = fmt.Sprintf("ws-%s.pusher.com", c.Cluster)
	}
	return fmt.Sprintf("%s://%s/app/%s?protocol=7", scheme, host, c.AppKey)
}

// apiBaseURL computes the REST endpoint base for signed trigger calls.
// Host overrides the cluster-derived hostname, matching websocketURL, so
// a host-only config reaches the same deployment on both interfaces.
func (c Config) apiBaseURL() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	if c.Host != "" {
		return fmt.Sprintf("%s://%s", scheme, c.Host)
	}
	return fmt.Sprintf("%s://api-%s.pusher.com", scheme, c.Cluster)
}
