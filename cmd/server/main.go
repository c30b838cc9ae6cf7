package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/match-relay/internal/admission"
	"github.com/DoyleJ11/match-relay/internal/config"
	"github.com/DoyleJ11/match-relay/internal/departure"
	"github.com/DoyleJ11/match-relay/internal/httpapi"
	"github.com/DoyleJ11/match-relay/internal/hub"
	"github.com/DoyleJ11/match-relay/internal/observability"
	"github.com/DoyleJ11/match-relay/internal/registry"
	"github.com/DoyleJ11/match-relay/internal/router"
	"github.com/DoyleJ11/match-relay/internal/sweeper"
	"github.com/DoyleJ11/match-relay/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(cfg.Rooms.HistorySize)
	reg := registry.New(cfg.WS.OutboxSize, log.Named("registry"))
	dep := departure.New(h, reg, log.Named("departure"))
	ctl := admission.New(h, reg, dep, log.Named("admission"))
	rt := router.New(h, reg, log.Named("router"))
	sw := sweeper.New(h, reg, dep, cfg.Sweeper, log.Named("sweeper"))
	wsServer := ws.NewServer(reg, ctl, rt, dep, cfg.WS, log.Named("ws"))

	// Build the router *with* the services injected
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:       h,
		Admission: ctl,
		WS:        wsServer.Handler(),
		Log:       log.Named("http"),
	})
	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sw.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		sw.CloseAll(sweeper.ReasonShutdown)
		err := srv.Shutdown(shutdownCtx)
		// Hijacked websockets are not tracked by Shutdown.
		if cerr := reg.CloseAll(sweeper.ReasonShutdown); cerr != nil {
			log.Warn("closing connections", zap.Error(cerr))
		}
		return err
	})

	return g.Wait()
}
