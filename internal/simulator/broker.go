package simulator

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

// Account is a static broker login.
type Account struct {
	Username string
	Password string
}

// BrokerOptions configures the embedded broker.
type BrokerOptions struct {
	Listen string

	// DeviceID scopes every account to $oc/devices/{DeviceID}/#.
	DeviceID string

	// DeviceSecret lets the gateway log in as DeviceID with the hourly
	// derived password.
	DeviceSecret string

	// Accounts are extra static logins, typically the simulated device's
	// own and a fixed gateway password.
	Accounts []Account

	Now    func() time.Time
	Logger *slog.Logger
}

// Broker is an embedded MQTT broker for one habitat device.
type Broker struct {
	server *mochi.Server
	listen string
}

// NewBroker builds the broker and its authentication hooks. Call Serve
// to start accepting connections.
func NewBroker(opts BrokerOptions) (*Broker, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("simulator: broker device id is required")
	}
	if opts.Listen == "" {
		return nil, errors.New("simulator: broker listen address is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	server := mochi.New(&mochi.Options{Logger: opts.Logger})

	if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: deviceLedger(opts)}); err != nil {
		return nil, fmt.Errorf("adding auth hook: %w", err)
	}
	if opts.DeviceSecret != "" {
		derived := &derivedPasswordHook{username: opts.DeviceID, secret: opts.DeviceSecret, now: opts.Now}
		if err := server.AddHook(derived, nil); err != nil {
			return nil, fmt.Errorf("adding derived password hook: %w", err)
		}
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "habitat", Address: opts.Listen})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("adding listener on %s: %w", opts.Listen, err)
	}
	return &Broker{server: server, listen: opts.Listen}, nil
}

// deviceLedger allows the static accounts and confines every client to
// the device's own topic tree.
func deviceLedger(opts BrokerOptions) *auth.Ledger {
	own := auth.RString(fmt.Sprintf("%s/%s/#", mqtt.TopicPrefixDevice, opts.DeviceID))
	ledger := &auth.Ledger{
		ACL: auth.ACLRules{
			{Filters: auth.Filters{own: auth.ReadWrite}},
			{Filters: auth.Filters{auth.RString(mqtt.TopicPrefixDevice + "/#"): auth.Deny}},
		},
	}
	for _, a := range opts.Accounts {
		ledger.Auth = append(ledger.Auth, auth.AuthRule{
			Username: auth.RString(a.Username),
			Password: auth.RString(a.Password),
			Allow:    true,
		})
	}
	return ledger
}

// Serve starts the listeners in the background.
func (b *Broker) Serve() error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("serving broker on %s: %w", b.listen, err)
	}
	return nil
}

// Close stops the broker and disconnects every client.
func (b *Broker) Close() error {
	return b.server.Close()
}

// Addr returns the configured listen address.
func (b *Broker) Addr() string { return b.listen }

// derivedPasswordHook accepts the device username with the HMAC password
// of the current or the previous hour.
type derivedPasswordHook struct {
	mochi.HookBase
	username string
	secret   string
	now      func() time.Time
}

func (h *derivedPasswordHook) ID() string { return "derived-password" }

func (h *derivedPasswordHook) Provides(b byte) bool {
	return b == mochi.OnConnectAuthenticate
}

func (h *derivedPasswordHook) OnConnectAuthenticate(_ *mochi.Client, pk packets.Packet) bool {
	if string(pk.Connect.Username) != h.username {
		return false
	}
	now := h.now()
	for _, t := range []time.Time{now, now.Add(-time.Hour)} {
		if hmac.Equal(pk.Connect.Password, []byte(mqtt.DerivePassword(h.secret, t))) {
			return true
		}
	}
	return false
}
