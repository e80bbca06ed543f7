package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultMaxReconnectInterval caps paho's own reconnect backoff.
	defaultMaxReconnectInterval = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options describes one broker session.
type Options struct {
	ServerURI string
	ClientID  string
	Username  string
	Password  string

	// CAFile optionally pins the broker CA for ssl:// and wss:// URIs.
	CAFile string

	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

// OptionsFromConfig maps the mqtt config section onto session options.
// Credentials are passed separately because they may be derived.
func OptionsFromConfig(cfg config.MQTTConfig, clientID, username, password string) Options {
	return Options{
		ServerURI:            cfg.Broker.ServerURI(),
		ClientID:             clientID,
		Username:             username,
		Password:             password,
		CAFile:               cfg.Broker.CAFile,
		KeepAlive:            time.Duration(cfg.KeepAlive) * time.Second,
		ConnectTimeout:       time.Duration(cfg.ConnectTimeout) * time.Second,
		MaxReconnectInterval: time.Duration(cfg.Reconnect.MaxDelay) * time.Second,
	}
}

// withDefaults fills zero durations.
func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.MaxReconnectInterval <= 0 {
		o.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	return o
}

// validate checks the fields paho cannot default.
func (o Options) validate() error {
	if o.ServerURI == "" {
		return fmt.Errorf("%w: broker URI is empty", ErrInvalidOptions)
	}
	u, err := url.Parse(o.ServerURI)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: broker URI %q", ErrInvalidOptions, o.ServerURI)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client id is empty", ErrInvalidOptions)
	}
	return nil
}

// usesTLS reports whether the URI scheme implies a TLS transport.
func usesTLS(uri string) bool {
	switch {
	case strings.HasPrefix(uri, "ssl://"),
		strings.HasPrefix(uri, "tls://"),
		strings.HasPrefix(uri, "mqtts://"),
		strings.HasPrefix(uri, "wss://"):
		return true
	}
	return false
}

// buildTLSConfig returns the TLS settings for a secure broker URI.
func buildTLSConfig(caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
	}
	if caFile == "" {
		return tlsConfig, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CA file: %w", ErrInvalidOptions, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidOptions, caFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// buildClientOptions creates paho options for one session.
//
// The initial handshake is not retried by paho (ConnectRetry off) so a
// failed CONNECT surfaces to the caller. Once connected, paho's
// auto-reconnect takes over on connection loss.
func buildClientOptions(o Options) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.ServerURI)
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetProtocolVersion(4) // MQTT 3.1.1
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(o.MaxReconnectInterval)

	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)

	// Handlers run on their own goroutines so they may publish and subscribe.
	opts.SetOrderMatters(false)

	if usesTLS(o.ServerURI) {
		tlsConfig, err := buildTLSConfig(o.CAFile)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}
