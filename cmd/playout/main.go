package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/playout/internal/api"
	"github.com/zsiec/playout/internal/config"
	"github.com/zsiec/playout/internal/metrics"
	"github.com/zsiec/playout/internal/session"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfig), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "playout:", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("playout error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()
	mgr := session.NewManager(session.Options{Logger: log})
	defer mgr.DestroyAll()

	slog.Info("playout starting",
		"version", version,
		"streams", len(cfg.Streams),
		"api", cfg.API.Addr,
	)

	g, ctx := errgroup.WithContext(ctx)

	// Sessions connect under the errgroup context so a failed API server
	// stops them too.
	connect := func(s *session.Session) {
		s.OnStatusChange(func(st session.State) {
			log.Info("stream state", "stream", s.ID(), "state", st)
		})
		s.OnCaption(func(c session.Caption) {
			log.Debug("caption", "stream", c.StreamID, "channel", c.Channel, "text", c.Text)
		})
		go func() {
			if err := s.Connect(ctx); err != nil {
				log.Error("stream connect failed", "stream", s.ID(), "error", err)
				return
			}
			if err := s.Wait(); err != nil {
				log.Warn("stream ended", "stream", s.ID(), "error", err)
			}
		}()
	}

	for _, sc := range cfg.Sessions(log) {
		s, err := mgr.Create(sc)
		if err != nil {
			return err
		}
		connect(s)
	}

	if cfg.API.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewCollector(metrics.ManagerSource(mgr)),
		)
		gin.SetMode(gin.ReleaseMode)
		apiSrv := &http.Server{
			Addr: cfg.API.Addr,
			Handler: api.New(api.Config{
				Manager:  mgr,
				Gatherer: reg,
				Connect:  connect,
				Logger:   log,
			}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			slog.Info("API server listening", "addr", cfg.API.Addr)
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return apiSrv.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	return g.Wait()
}
