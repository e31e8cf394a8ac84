// Package main is the entry point for the monoturn server: middleware that
// collapses multi-turn agent conversations into a bounded envelope for a
// single-turn upstream chat endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/monoturn/monoturn/internal/api"
	"github.com/monoturn/monoturn/internal/auth"
	"github.com/monoturn/monoturn/internal/config"
	"github.com/monoturn/monoturn/internal/logging"
	_ "github.com/monoturn/monoturn/internal/provider"
	"github.com/monoturn/monoturn/internal/registry"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	fmt.Printf("monoturn version: %s, commit: %s, built at: %s\n", Version, Commit, BuildDate)

	var configPath string
	var login bool
	var noBrowser bool
	var debug bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.BoolVar(&login, "login", false, "Run the OAuth login flow for the upstream and exit")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open a browser during login")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging and Gin debug mode")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("could not load .env file: %v", err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logging.Configure(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if login {
		runLogin(ctx, cfg, noBrowser)
		return
	}
	runServer(ctx, cfg, configPath, debug)
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Warnf("config file %s not found, using defaults", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func runLogin(ctx context.Context, cfg *config.Config, noBrowser bool) {
	authenticator := auth.NewAuthenticator(&cfg.OAuth)
	if _, err := authenticator.Login(ctx, noBrowser); err != nil {
		log.Fatalf("login failed: %v", err)
	}
	fmt.Println("Login successful.")
}

func runServer(ctx context.Context, cfg *config.Config, configPath string, debug bool) {
	models := registry.NewModelRegistry(registry.DefaultModels())
	catalog := registry.NewCatalog(models, cfg.Catalog.URL, cfg.CatalogTTL(), cfg.Catalog.CacheFile)
	if err := catalog.LoadCache(); err != nil {
		log.Warnf("load catalog cache: %v", err)
	}
	go catalog.Run(ctx)

	srv, err := api.NewServer(cfg, models, upstreamClient(ctx, cfg), debug)
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	if err = config.Watch(ctx, configPath, func(next *config.Config) {
		if errApply := srv.ApplyConfig(next); errApply != nil {
			log.Errorf("apply reloaded configuration: %v", errApply)
			return
		}
		logging.Configure(next.Logging)
		log.Info("configuration reloaded")
	}); err != nil {
		log.Warnf("config watch disabled: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err = <-errChan:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		if err = srv.Shutdown(context.Background()); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}
}

// upstreamClient returns an OAuth-backed HTTP client when stored credentials
// exist, nil otherwise so the server falls back to a plain client.
func upstreamClient(ctx context.Context, cfg *config.Config) *http.Client {
	if cfg.OAuth.TokenFile == "" {
		return nil
	}
	storage, err := auth.LoadTokenFromFile(cfg.OAuth.TokenFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("load upstream credentials: %v", err)
		}
		return nil
	}
	log.Info("using stored upstream credentials")
	return auth.NewAuthenticator(&cfg.OAuth).Client(ctx, storage)
}
