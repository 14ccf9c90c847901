package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/slidecraft/server/internal/app"
	"github.com/slidecraft/server/internal/config"
	"github.com/slidecraft/server/internal/database"
	"github.com/slidecraft/server/internal/pkg/nativelog"
	"github.com/slidecraft/server/internal/pkg/proctitle"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	_ = proctitle.Set(proctitle.For("server"))

	logger, writer, err := nativelog.NewZapLogger(nativelog.Options{Dir: cfg.LogDir(), Development: cfg.IsDev()})
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("native log pipeline unavailable, fallback to zap production logger", zap.Error(err))
	} else {
		defer writer.Close()
	}
	defer logger.Sync()

	application, err := app.New(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize app", zap.Error(err))
		return err
	}

	srv := &http.Server{
		Addr:              application.Addr(),
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Open event streams end with their runs.
	srv.RegisterOnShutdown(application.StopRuns)

	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			application.Shutdown()
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigCtx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	application.Shutdown()
	logger.Info("server exited")
	return nil
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := database.EnsureSchema(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, configRows(cfg)))
			return nil
		},
	}
}

func configRows(cfg *config.AppConfig) [][]string {
	models := make([]string, 0, len(cfg.Image.Models))
	for _, m := range cfg.Image.Models {
		models = append(models, fmt.Sprintf("%s (%s)", m.Name, m.Timeout))
	}
	return [][]string{
		{"env", cfg.Env},
		{"port", strconv.Itoa(cfg.Port)},
		{"log_dir", cfg.LogDir()},
		{"database.driver", cfg.Database.Driver},
		{"redis.url", mask(cfg.RedisURL, cfg.Redis.Password)},
		{"llm.type", cfg.LLM.Type},
		{"llm.model", cfg.LLM.Model},
		{"llm.api_key", secret(cfg.LLM.APIKey)},
		{"llm.timeout", cfg.LLM.Timeout.String()},
		{"image.endpoint", cfg.Image.Endpoint},
		{"image.api_key", secret(cfg.Image.APIKey)},
		{"image.models", strings.Join(models, ", ")},
		{"image.cache", fmt.Sprintf("%s, ttl %s", cfg.Image.Cache, cfg.Image.CacheTTL)},
		{"image.request_delay", cfg.Image.RequestDelay.String()},
		{"storage.enable", strconv.FormatBool(cfg.Storage.Enable)},
		{"storage.bucket", cfg.Storage.Bucket},
		{"generation.text_timeout", cfg.Generation.TextTimeout.String()},
		{"rate_limit", fmt.Sprintf("%d per %s", cfg.RateLimit.Max, cfg.RateLimit.Window)},
	}
}

func secret(v string) string {
	if v == "" {
		return "(unset)"
	}
	if len(v) <= 8 {
		return "********"
	}
	return v[:4] + "…" + v[len(v)-2:]
}

func mask(s, password string) string {
	if password == "" {
		return s
	}
	return strings.ReplaceAll(s, password, "********")
}
