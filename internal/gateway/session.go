package gateway

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

// Session is one broker connection as the gateway sees it.
// *mqtt.Client satisfies it.
type Session interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Close() error
}

// SessionEvents are the lifecycle callbacks a factory wires into a session.
type SessionEvents struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnReconnecting   func()
}

// SessionFactory builds an unconnected session for one connection attempt.
type SessionFactory func(cfg ConnectionConfig, creds mqtt.Credentials, events SessionEvents) (Session, error)

// ConnectionConfig is what a caller supplies to Connect.
type ConnectionConfig struct {
	BrokerURI    string `json:"broker_uri"`
	Port         int    `json:"port,omitempty"`
	DeviceID     string `json:"device_id"`
	ClientID     string `json:"client_id,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	DeviceSecret string `json:"device_secret,omitempty"`
}

// ConnectionConfigFromConfig maps the device and mqtt sections.
func ConnectionConfigFromConfig(cfg *config.Config) ConnectionConfig {
	return ConnectionConfig{
		BrokerURI:    cfg.MQTT.Broker.ServerURI(),
		DeviceID:     cfg.Device.ID,
		ClientID:     cfg.MQTT.Broker.ClientID,
		Username:     cfg.MQTT.Auth.Username,
		Password:     cfg.MQTT.Auth.Password,
		DeviceSecret: cfg.Device.Secret,
	}
}

// Validate reports missing or malformed fields as ErrConfiguration.
func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrConfiguration)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConfiguration, c.Port)
	}
	if c.Password == "" && c.DeviceSecret == "" {
		return fmt.Errorf("%w: password or device secret is required", ErrConfiguration)
	}
	if _, err := c.ServerURI(); err != nil {
		return err
	}
	return nil
}

// ServerURI normalises BrokerURI into scheme://host:port.
// A bare host gets the ssl scheme; Port fills a missing port.
func (c ConnectionConfig) ServerURI() (string, error) {
	raw := strings.TrimSpace(c.BrokerURI)
	if raw == "" {
		return "", fmt.Errorf("%w: broker uri is required", ErrConfiguration)
	}
	if !strings.Contains(raw, "://") {
		raw = "ssl://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: broker uri %q", ErrConfiguration, c.BrokerURI)
	}
	if u.Port() == "" {
		if c.Port == 0 {
			return "", fmt.Errorf("%w: broker uri %q has no port", ErrConfiguration, c.BrokerURI)
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(c.Port))
	}
	return u.String(), nil
}

// NewPahoSessionFactory returns a factory producing paho-backed sessions
// tuned by the mqtt config section.
func NewPahoSessionFactory(mqttCfg config.MQTTConfig, logger mqtt.Logger) SessionFactory {
	return func(cfg ConnectionConfig, creds mqtt.Credentials, events SessionEvents) (Session, error) {
		uri, err := cfg.ServerURI()
		if err != nil {
			return nil, err
		}
		opts := mqtt.OptionsFromConfig(mqttCfg, creds.ClientID, creds.Username, creds.Password)
		opts.ServerURI = uri

		client, err := mqtt.New(opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		if events.OnConnect != nil {
			client.SetOnConnect(events.OnConnect)
		}
		if events.OnConnectionLost != nil {
			client.SetOnDisconnect(events.OnConnectionLost)
		}
		if events.OnReconnecting != nil {
			client.SetOnReconnecting(events.OnReconnecting)
		}
		return client, nil
	}
}
