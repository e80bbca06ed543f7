// Command habitatsim runs an embedded MQTT broker and a simulated habitat
// device so petnestd can be exercised without the cloud platform.
//
// It reads the same configuration file as petnestd: the device section
// names the simulated device and its secret, and the simulator section
// sets the listen address and report interval.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/logging"
	"github.com/petnestiq/habitat-gateway/internal/simulator"
)

var version = "dev"

const (
	serviceName       = "habitatsim"
	defaultConfigPath = "configs/config.yaml"
	simUsername       = "habitat-sim"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PETNEST_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, serviceName, version)

	// The simulated device logs in with a throwaway password known only
	// to this process.
	simPassword := uuid.NewString()
	accounts := []simulator.Account{{Username: simUsername, Password: simPassword}}
	if cfg.MQTT.Auth.Password != "" {
		username := cfg.MQTT.Auth.Username
		if username == "" {
			username = cfg.Device.ID
		}
		accounts = append(accounts, simulator.Account{Username: username, Password: cfg.MQTT.Auth.Password})
	}

	broker, err := simulator.NewBroker(simulator.BrokerOptions{
		Listen:       cfg.Simulator.Listen,
		DeviceID:     cfg.Device.ID,
		DeviceSecret: cfg.Device.Secret,
		Accounts:     accounts,
		Logger:       log.With("component", "broker").Logger,
	})
	if err != nil {
		return err
	}
	if err := broker.Serve(); err != nil {
		return err
	}
	log.Info("broker listening", "address", cfg.Simulator.Listen, "device_id", cfg.Device.ID)

	device, err := simulator.New(simulator.Options{
		BrokerURL:       dialURL(cfg.Simulator.Listen),
		DeviceID:        cfg.Device.ID,
		Username:        simUsername,
		Password:        simPassword,
		ShadowServiceID: cfg.Device.ShadowServiceID,
		ReportInterval:  cfg.Simulator.ReportInterval,
		RejectCommands:  cfg.Simulator.RejectCommands,
		Logger:          log,
	})
	if err != nil {
		broker.Close() //nolint:errcheck // already failing
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return device.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping broker")
		return broker.Close()
	})
	return g.Wait()
}

// dialURL turns a listen address such as ":1883" into a loopback URL.
func dialURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "tcp://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "tcp://" + net.JoinHostPort(host, port)
}
