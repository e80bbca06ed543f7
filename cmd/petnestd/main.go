// Command petnestd is the pet-habitat device gateway daemon.
//
// It holds one MQTT session to the habitat device, keeps the merged
// property state, records its history and serves the HTTP/WebSocket API.
//
//	petnestd                    run the daemon
//	petnestd token [flags]      print an API access token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/petnestiq/habitat-gateway/internal/api"
	"github.com/petnestiq/habitat-gateway/internal/audit"
	"github.com/petnestiq/habitat-gateway/internal/auth"
	"github.com/petnestiq/habitat-gateway/internal/gateway"
	"github.com/petnestiq/habitat-gateway/internal/history"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/database"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/influxdb"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/logging"
	"github.com/petnestiq/habitat-gateway/migrations"
)

// Set at build time via -ldflags "-X main.version=1.0.0 -X main.commit=abc123".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "petnestd"
	defaultConfigPath = "configs/config.yaml"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting petnestd", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("configuration loaded", "path", configPath, "device_id", cfg.Device.ID)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	defer func() {
		if influxClient != nil {
			log.Info("closing InfluxDB connection")
			influxClient.Close() //nolint:errcheck // always nil
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := gateway.OptionsFromConfig(cfg, gateway.NewPahoSessionFactory(cfg.MQTT, log))
	opts.Logger = log
	opts.Metrics = gateway.NewMetrics(registry)
	gw, err := gateway.New(opts)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer func() {
		log.Info("closing device session")
		gw.Close() //nolint:errcheck // always nil
	}()

	repo := history.NewSQLiteRepository(db.DB)
	recOpts := history.RecorderOptions{
		DeviceID:  func() string { return gw.Connection().DeviceID },
		Retention: cfg.Database.HistoryRetention,
		Logger:    log,
	}
	if influxClient != nil {
		recOpts.Sink = influxClient
	}
	recorder := history.NewRecorder(gw.Store(), repo, recOpts)

	var wg sync.WaitGroup
	recCtx, stopRecorder := context.WithCancel(ctx)
	defer func() {
		stopRecorder()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Run(recCtx) //nolint:errcheck // returns nil on cancel
	}()

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Gateway:  gw,
		Default:  gateway.ConnectionConfigFromConfig(cfg),
		History:  repo,
		Audit:    audit.NewSQLiteRepository(db.DB),
		DB:       db,
		Gatherer: registry,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.Gateway.AutoConnect {
		if err := gw.Connect(gateway.ConnectionConfigFromConfig(cfg)); err != nil {
			return fmt.Errorf("connecting device session: %w", err)
		}
	} else {
		log.Info("auto connect disabled, waiting for POST /api/v1/gateway/connect")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// connectInflux returns nil without error when export is disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// runToken prints a signed API token using the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	role := fs.String("role", string(auth.RoleOperator), "token role (viewer or operator)")
	subject := fs.String("subject", "", "token subject (defaults to the role)")
	ttl := fs.Duration("ttl", 0, "token lifetime (defaults to api.auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is not set; the API is running without authentication")
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.API.Auth.TokenTTL) * time.Minute
	}
	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.API.Auth.JWTSecret, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("PETNEST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
