// Command ccgate runs the reverse-proxy gateway that shapes heterogeneous
// client requests into CLI-shaped requests for an Anthropic-compatible
// upstream, with orphan-tool-result cleanup and bounded retry.
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
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/ccgate/internal/api"
	"github.com/relaymesh/ccgate/internal/config"
	"github.com/relaymesh/ccgate/internal/identity"
	"github.com/relaymesh/ccgate/internal/logging"
	"github.com/relaymesh/ccgate/internal/relay"
	"github.com/relaymesh/ccgate/internal/upstream"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	logging.SetupBaseLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		log.Fatalf("configure log output: %v", err)
	}

	store := config.NewStore(cfg)

	catalog := identity.NewCatalog(cfg.BillingText)
	normalizer := identity.NewNormalizer(catalog, cfg.IdentityHost)
	dispatcher := upstream.NewDispatcher(upstream.Options{
		ProxyURL:       cfg.ProxyURL,
		TLSFingerprint: cfg.TLSFingerprint,
	})
	orchestrator := relay.NewOrchestrator(dispatcher, normalizer)

	engine := api.NewEngine(store, orchestrator, dispatcher)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infof("ccgate listening on %s, upstream %s", addr, cfg.UpstreamBaseURL)
		if errServe := server.ListenAndServe(); !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	})
	group.Go(func() error {
		if errWatch := config.Watch(groupCtx, configPath, store); !errors.Is(errWatch, context.Canceled) {
			return errWatch
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err = group.Wait(); err != nil {
		log.Fatalf("ccgate exited: %v", err)
	}
	log.Info("ccgate stopped")
}
