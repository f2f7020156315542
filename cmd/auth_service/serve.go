package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ocornejot/api-jwt/internal/config"
	"github.com/ocornejot/api-jwt/internal/handler"
	"github.com/ocornejot/api-jwt/internal/service"
	"github.com/ocornejot/api-jwt/internal/storage"
	"github.com/ocornejot/api-jwt/internal/validation"
)

func serve(ctx context.Context, cfg *config.Config) error {
	lgr := setupLogger(cfg.Env)
	lgr.Info("starting auth service", slog.String("env", cfg.Env), slog.String("db_driver", cfg.DB.Driver))

	if cfg.Env != envLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	//INIT DB
	st, err := storage.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer st.Close()

	if cfg.DB.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		lgr.Info("migrations applied")
	}

	//INIT SERVICES
	srvc, err := service.NewService(st, service.Config{
		Secret:       []byte(cfg.JWT.Secret),
		Issuer:       cfg.JWT.Issuer,
		TokenTTL:     cfg.JWT.TTL,
		PasswordCost: cfg.Password.Cost,
	})
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	var metrics *handler.Metrics
	reg := prometheus.NewRegistry()
	if cfg.HTTPServer.MetricsAddress != "" {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = handler.NewMetrics(reg)
	}

	h := handler.NewHandler(srvc, validation.New(st), lgr, metrics)

	//INIT SERVER
	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	servers := []*http.Server{srv}
	if metrics != nil {
		servers = append(servers, &http.Server{
			Addr:        cfg.HTTPServer.MetricsAddress,
			Handler:     handler.MetricsHandler(reg),
			ReadTimeout: cfg.HTTPServer.ReadTimeout,
		})
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			lgr.Info("listening", slog.String("address", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}(s)
	}

	select {
	case <-ctx.Done():
		lgr.Info("shutting down")
	case err = <-errCh:
		lgr.Error("server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if serr := s.Shutdown(shutdownCtx); serr != nil {
			lgr.Error("shutdown failed", slog.String("address", s.Addr), slog.Any("error", serr))
		}
	}

	lgr.Info("auth service stopped")

	return err
}

func migrate(ctx context.Context, cfg *config.Config) error {
	lgr := setupLogger(cfg.Env)

	st, err := storage.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	lgr.Info("migrations applied", slog.String("db_driver", cfg.DB.Driver))

	return nil
}
